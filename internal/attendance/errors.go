package attendance

import "errors"

// Errors returned by Service. Callers compare with errors.Is.
var (
	// ErrInvalidOrExpiredCode means the token matches no active window.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired check-in code")
	// ErrAlreadyCheckedIn means this email already checked in for the window.
	ErrAlreadyCheckedIn = errors.New("already checked in for this session")
	// ErrUnauthorized means a rotation trigger or admin call carried no valid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence means the record store failed for a reason other than uniqueness.
	ErrPersistence = errors.New("record store failure")
	// ErrInvalidIdentity means the submitted identity fields did not validate.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrUnknownWindow means a window id names no window, active or not.
	ErrUnknownWindow = errors.New("unknown check-in window")
	// ErrNoActiveWindow means no window is currently open.
	ErrNoActiveWindow = errors.New("no active check-in window")
	// ErrInvalidFilter means an admin log filter named an unknown value.
	ErrInvalidFilter = errors.New("invalid filter")
)

// Store-level sentinels. Repositories return these; Service translates them.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("unique constraint violation")
)
