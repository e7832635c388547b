// Package filelock tracks advisory edit locks on the files of one session.
//
// A participant locks a file to reserve it for their own edits. While the
// lock is held, changes from anyone else are refused by the document store.
// The registry only records ownership; it is the document serializer that
// makes the check-then-apply sequence atomic.
//
// # Basic Usage
//
//	reg := filelock.NewRegistry()
//
//	// Lock a file before a run of edits
//	acquired, err := reg.Acquire("alice", fileID)
//
//	// Check who holds it
//	holder, ok := reg.Holder(fileID)
//
//	// Release when done
//	err = reg.Release("alice", fileID)
//
//	// Drop everything a departing participant held
//	released := reg.ReleaseAll("alice")
//
// # Thread Safety
//
// All [Registry] methods are safe for concurrent use via an internal sync.RWMutex.
package filelock
