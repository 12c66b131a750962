package attendance

import "context"

// Store persists windows and check-in records.
type Store interface {
	// RotateWindow deactivates every active window and inserts w, atomically.
	// A token collision returns ErrConflict and leaves the previous window active.
	RotateWindow(ctx context.Context, w Window) error
	// ActiveWindow returns the active window or ErrNotFound.
	ActiveWindow(ctx context.Context) (Window, error)
	// ActiveWindowByToken returns the active window carrying token or ErrNotFound.
	ActiveWindowByToken(ctx context.Context, token string) (Window, error)
	// Window returns a window by id, active or not.
	Window(ctx context.Context, id string) (Window, error)
	// InsertCheckIn stores rec; a second record for the same email and window returns ErrConflict.
	InsertCheckIn(ctx context.Context, rec Record) error
	// ListCheckIns returns records newest first.
	ListCheckIns(ctx context.Context, f Filter) ([]Record, error)
	// CountByStatus counts records per status; empty windowID counts all.
	CountByStatus(ctx context.Context, windowID string) (map[Status]int, error)
	Ping(ctx context.Context) error
}
