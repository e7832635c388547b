// Package textedit applies line/column edit operations to plain text.
//
// Content is handled as a slice of lines split on "\n". Every function in this
// package is pure: inputs are never mutated and the same inputs always yield
// the same output.
//
// A batch passed to [Apply] is all-or-nothing. Operations run in order, each
// against the result of the previous one, and the first invalid operation
// aborts the whole batch with no partial result.
package textedit

import (
	"fmt"
	"strings"
)

// SplitLines splits content into its line array. Empty content is one empty line.
func SplitLines(content string) []string {
	return strings.Split(content, "\n")
}

// JoinLines is the inverse of SplitLines.
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// Apply runs ops in order against content and returns the edited text.
func Apply(content string, ops []Operation) (string, error) {
	lines := SplitLines(content)
	for i, op := range ops {
		var err error
		lines, err = ApplyLines(lines, op)
		if err != nil {
			return "", fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return JoinLines(lines), nil
}

// ApplyLines applies a single operation to a line array and returns a new
// array. The input slice is left untouched.
func ApplyLines(lines []string, op Operation) ([]string, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	switch op.Kind {
	case Insert:
		return insert(lines, op.Range.Start, op.NewText)
	case Delete:
		return remove(lines, op.Range)
	default:
		out, err := remove(lines, op.Range)
		if err != nil {
			return nil, err
		}
		return insert(out, op.Range.Start, op.NewText)
	}
}

// Extract returns the text covered by r.
func Extract(lines []string, r Range) (string, error) {
	if err := checkPosition(lines, r.Start); err != nil {
		return "", err
	}
	if err := checkPosition(lines, r.End); err != nil {
		return "", err
	}
	if r.End.Before(r.Start) {
		return "", fmt.Errorf("%w: end before start in %s", ErrInvalidOperation, r)
	}

	first := []rune(lines[r.Start.Line])
	if r.Start.Line == r.End.Line {
		return string(first[r.Start.Column:r.End.Column]), nil
	}

	var sb strings.Builder
	sb.WriteString(string(first[r.Start.Column:]))
	for i := r.Start.Line + 1; i < r.End.Line; i++ {
		sb.WriteByte('\n')
		sb.WriteString(lines[i])
	}
	sb.WriteByte('\n')
	sb.WriteString(string([]rune(lines[r.End.Line])[:r.End.Column]))
	return sb.String(), nil
}

func insert(lines []string, at Position, text string) ([]string, error) {
	if err := checkPosition(lines, at); err != nil {
		return nil, err
	}

	line := []rune(lines[at.Line])
	head, tail := string(line[:at.Column]), string(line[at.Column:])
	parts := strings.Split(text, "\n")
	parts[0] = head + parts[0]
	parts[len(parts)-1] += tail

	out := make([]string, 0, len(lines)+len(parts)-1)
	out = append(out, lines[:at.Line]...)
	out = append(out, parts...)
	out = append(out, lines[at.Line+1:]...)
	return out, nil
}

func remove(lines []string, r Range) ([]string, error) {
	if err := checkPosition(lines, r.Start); err != nil {
		return nil, err
	}
	if err := checkPosition(lines, r.End); err != nil {
		return nil, err
	}

	first := []rune(lines[r.Start.Line])
	last := first
	if r.End.Line != r.Start.Line {
		last = []rune(lines[r.End.Line])
	}
	joined := string(first[:r.Start.Column]) + string(last[r.End.Column:])

	out := make([]string, 0, len(lines)-(r.End.Line-r.Start.Line))
	out = append(out, lines[:r.Start.Line]...)
	out = append(out, joined)
	out = append(out, lines[r.End.Line+1:]...)
	return out, nil
}

func checkPosition(lines []string, p Position) error {
	if p.Line >= len(lines) {
		return fmt.Errorf("%w: line %d of %d", ErrInvalidRange, p.Line, len(lines))
	}
	if n := len([]rune(lines[p.Line])); p.Column > n {
		return fmt.Errorf("%w: column %d past end of line %d (length %d)", ErrInvalidRange, p.Column, p.Line, n)
	}
	return nil
}
