package textedit

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Apply and Validate.
var (
	// ErrInvalidRange is returned when an operation addresses a line or column
	// outside the current content.
	ErrInvalidRange = errors.New("range outside document bounds")

	// ErrInvalidOperation is returned for malformed operations: unknown kind,
	// negative positions, or an end position before the start.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Kind identifies the edit an Operation performs.
type Kind string

const (
	Insert  Kind = "insert"
	Delete  Kind = "delete"
	Replace Kind = "replace"
)

// Position is a zero-based (line, column) pair. Columns count runes.
type Position struct {
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

// Before reports whether p sorts strictly before o in document order.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Range is a half-open span [Start, End) in document order.
// An empty range (Start == End) addresses a single insertion point.
type Range struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

// Empty reports whether the range covers no characters.
func (r Range) Empty() bool {
	return r.Start == r.End
}

// Overlaps reports whether r and o share any character. Insertion points
// overlap a range they touch, including its boundaries, so two inserts at the
// same point, or an insert on the edge of a deletion, are treated as competing.
func (r Range) Overlaps(o Range) bool {
	if r.Empty() || o.Empty() {
		return !o.End.Before(r.Start) && !r.End.Before(o.Start)
	}
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s,%s)", r.Start, r.End)
}

// Operation is a single insert, delete, or replace over a line/column range.
//
// For Insert only Range.Start is significant. OldText, when set on a delete
// or replace, is the text the author expected to find in Range and is used
// for conflict detection, not for application.
type Operation struct {
	Kind          Kind   `json:"kind" yaml:"kind"`
	Range         Range  `json:"range" yaml:"range"`
	OldText       string `json:"old_text,omitempty" yaml:"old_text,omitempty"`
	NewText       string `json:"new_text,omitempty" yaml:"new_text,omitempty"`
	ParticipantID string `json:"participant_id" yaml:"participant_id,omitempty"`
	BaseVersion   int    `json:"base_version" yaml:"base_version"`
}

// Span returns the range the operation affects in the pre-edit document.
// Inserts span an empty range at their start point.
func (op Operation) Span() Range {
	if op.Kind == Insert {
		return Range{Start: op.Range.Start, End: op.Range.Start}
	}
	return op.Range
}

// Validate checks the shape of op without reference to any content.
func (op Operation) Validate() error {
	switch op.Kind {
	case Insert, Delete, Replace:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	s, e := op.Range.Start, op.Range.End
	if s.Line < 0 || s.Column < 0 || e.Line < 0 || e.Column < 0 {
		return fmt.Errorf("%w: negative position in %s", ErrInvalidOperation, op.Range)
	}
	if op.Kind != Insert && e.Before(s) {
		return fmt.Errorf("%w: end before start in %s", ErrInvalidOperation, op.Range)
	}
	return nil
}
