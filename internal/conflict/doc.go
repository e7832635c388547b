// Package conflict detects and settles competing changes to a shared file.
//
// Each file moves through a small state machine: clean, then
// conflict-detected when an incoming batch fails [Detect], then resolved or
// skipped once a [Resolution] is recorded. Records are kept for audit and
// never removed.
//
// # Detection
//
// A batch conflicts when its base version is not the file's current version,
// or when its OldText no longer matches the content it addresses. Stale
// batches are classified as [KindRangeOverlap] if they touch a range changed
// since their base, otherwise [KindStaleVersion]. Stale disjoint batches are
// still conflicts unless the session opts in to disjoint merging.
//
// # Policies
//
//   - [PolicyAuto]: last writer wins; the incoming batch is applied and the
//     record is settled automatically with both sides attached.
//   - [PolicyUserChoice]: the batch is rejected with a conflict reference.
//   - [PolicyManual]: as user_choice, and the file accepts no further edits
//     until every pending conflict on it is resolved (see [Resolver.Gate]).
package conflict
