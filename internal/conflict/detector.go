package conflict

import (
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Check describes an incoming batch and the state it must be applied to.
type Check struct {
	FileID         string
	SubmittedBy    string
	CurrentVersion int
	Lines          []string             // current content as a line array
	Incoming       []textedit.Operation // batch in application order
	History        []Commit             // change log, ascending by version

	// AllowDisjointMerge accepts stale batches whose ranges overlap nothing
	// committed since their base version. Off unless the session enables it.
	AllowDisjointMerge bool
}

// Finding is the result of a positive detection.
type Finding struct {
	Kind        Kind
	BaseVersion int
	Competing   []textedit.Operation
}

// BaseVersion returns the oldest base version claimed by any operation in
// the batch. A batch is only as fresh as its stalest operation.
func BaseVersion(ops []textedit.Operation) int {
	if len(ops) == 0 {
		return 0
	}
	base := ops[0].BaseVersion
	for _, op := range ops[1:] {
		if op.BaseVersion < base {
			base = op.BaseVersion
		}
	}
	return base
}

// Detect reports whether c's batch conflicts with the committed state.
// It returns nil when the batch is clean.
//
// A batch based on the current version is checked only for OldText
// mismatches. A batch based on any other version always conflicts unless
// AllowDisjointMerge is set, the log still covers every commit since the
// base, and none of those commits overlap the batch.
func Detect(c Check) *Finding {
	base := BaseVersion(c.Incoming)

	if base == c.CurrentVersion {
		if mismatchedOldText(c.Lines, c.Incoming) {
			return &Finding{Kind: KindContentMismatch, BaseVersion: base}
		}
		return nil
	}

	if base > c.CurrentVersion {
		return &Finding{Kind: KindStaleVersion, BaseVersion: base}
	}

	intervening, complete := commitsSince(c.History, base, c.CurrentVersion)
	overlapping := overlappingOps(intervening, c.Incoming)

	if len(overlapping) > 0 {
		return &Finding{Kind: KindRangeOverlap, BaseVersion: base, Competing: overlapping}
	}
	if c.AllowDisjointMerge && complete {
		return nil
	}

	var competing []textedit.Operation
	for _, commit := range intervening {
		competing = append(competing, commit.Operations...)
	}
	return &Finding{Kind: KindStaleVersion, BaseVersion: base, Competing: competing}
}

// commitsSince returns the commits that produced versions base+1..current.
// complete is false when the bounded log no longer holds all of them.
func commitsSince(history []Commit, base, current int) ([]Commit, bool) {
	var out []Commit
	for _, commit := range history {
		if commit.Version > base && commit.Version <= current {
			out = append(out, commit)
		}
	}
	return out, len(out) == current-base
}

func overlappingOps(commits []Commit, incoming []textedit.Operation) []textedit.Operation {
	var out []textedit.Operation
	for _, commit := range commits {
		for _, committed := range commit.Operations {
			for _, op := range incoming {
				if committed.Span().Overlaps(op.Span()) {
					out = append(out, committed)
					break
				}
			}
		}
	}
	return out
}

// mismatchedOldText walks the batch in order and reports whether any delete
// or replace carries an OldText that differs from the text it would remove.
// Ranges that fall outside the content are left for the applier to reject.
func mismatchedOldText(lines []string, ops []textedit.Operation) bool {
	for _, op := range ops {
		if op.Kind != textedit.Insert && op.OldText != "" {
			current, err := textedit.Extract(lines, op.Range)
			if err != nil {
				return false
			}
			if current != op.OldText {
				return true
			}
		}
		next, err := textedit.ApplyLines(lines, op)
		if err != nil {
			return false
		}
		lines = next
	}
	return false
}
