package session

import (
	"errors"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
	"github.com/Iron-Ham/pairpad/internal/filelock"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Sentinel errors returned by Engine operations. Callers check them with
// errors.Is; conflict details are available through errors.As on
// *conflict.Error.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not in session")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrSessionFull         = errors.New("session is full")
	ErrSessionEnded        = errors.New("session has ended")
	ErrSessionInactive     = errors.New("session is not active")
	ErrInvalidSettings     = errors.New("invalid session settings")
	ErrInvalidParticipant  = errors.New("invalid participant")
	ErrInvalidPermission   = errors.New("invalid permission")
	ErrNoPersister         = errors.New("no persister configured")

	ErrFileNotFound           = document.ErrFileNotFound
	ErrFileExists             = document.ErrFileExists
	ErrFileLocked             = filelock.ErrLocked
	ErrNotLockHolder          = filelock.ErrNotHolder
	ErrFileNotLocked          = filelock.ErrNotLocked
	ErrConflictNotFound       = conflict.ErrNotFound
	ErrInvalidRange           = textedit.ErrInvalidRange
	ErrFutureVersion          = document.ErrFutureVersion
	ErrConflict               = conflict.ErrConflict
	ErrConflictPolicyRejected = conflict.ErrPolicyRejected
)
