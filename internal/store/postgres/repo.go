package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ attendance.Store = (*Repository)(nil)

// Repository persists windows and check-ins in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies the embedded schema migrations.
func (r *Repository) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	return store.Migrate(ctx, r.db, sub, store.Postgres)
}

// RotateWindow deactivates the active window and inserts w in one transaction.
// A concurrent rotation that commits first makes this insert hit the single-active
// index; that surfaces as ErrConflict and the caller retries.
func (r *Repository) RotateWindow(ctx context.Context, w attendance.Window) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx, `UPDATE checkin_windows SET is_active = FALSE WHERE is_active`)
	if err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkin_windows (id, token, session_kind, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, w.ID, w.Token, string(w.SessionKind), w.CreatedAt, w.ExpiresAt); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}

	deactivated, _ := res.RowsAffected()
	log.Debug().Str("window_id", w.ID).Int64("deactivated", deactivated).Msg("Inserted active window")
	return nil
}

const windowColumns = `id, token, session_kind, created_at, expires_at, is_active`

// ActiveWindow returns the single active window.
func (r *Repository) ActiveWindow(ctx context.Context) (attendance.Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+`
		FROM checkin_windows
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1
	`)
	return scanWindow(row)
}

// ActiveWindowByToken returns the active window carrying token.
func (r *Repository) ActiveWindowByToken(ctx context.Context, token string) (attendance.Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+`
		FROM checkin_windows
		WHERE token = $1 AND is_active
	`, token)
	return scanWindow(row)
}

// ActiveWindows lists every active window.
func (r *Repository) ActiveWindows(ctx context.Context) ([]attendance.Window, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+windowColumns+`
		FROM checkin_windows
		WHERE is_active
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var res []attendance.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, mapError(rows.Err())
}

// Window returns a window by id.
func (r *Repository) Window(ctx context.Context, id string) (attendance.Window, error) {
	if uuid.Validate(id) != nil {
		return attendance.Window{}, attendance.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM checkin_windows WHERE id = $1`, id)
	return scanWindow(row)
}

// InsertCheckIn writes a new check-in record.
func (r *Repository) InsertCheckIn(ctx context.Context, rec attendance.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkins (id, email, display_name, initials, session_kind, status, window_id, checkin_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.Email, rec.DisplayName, rec.Initials, string(rec.SessionKind), string(rec.Status), rec.WindowID, rec.CheckedInAt)
	return mapError(err)
}

// ListCheckIns returns records matching f, newest first.
func (r *Repository) ListCheckIns(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	// Ids are UUIDs here; anything else cannot match and would fail the cast.
	if f.WindowID != "" && uuid.Validate(f.WindowID) != nil {
		return nil, nil
	}
	w := store.NewWhere(store.Postgres)
	if f.Query != "" {
		pattern := "%" + store.EscapeLike(f.Query) + "%"
		w.Add(`(LOWER(email) LIKE ? ESCAPE '\' OR LOWER(initials) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	if f.Status != "" {
		w.Add("status = ?", string(f.Status))
	}
	if f.SessionKind != "" {
		w.Add("session_kind = ?", string(f.SessionKind))
	}
	if f.WindowID != "" {
		w.Add("window_id = ?", f.WindowID)
	}

	query := `SELECT id, email, display_name, initials, session_kind, status, window_id, checkin_time FROM checkins` +
		w.SQL() +
		" ORDER BY checkin_time DESC, id LIMIT " + w.Arg(f.Limit) + " OFFSET " + w.Arg(f.Offset)

	rows, err := r.db.QueryContext(ctx, query, w.Args()...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var res []attendance.Record
	for rows.Next() {
		var (
			rec         attendance.Record
			kind, state string
		)
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.Initials, &kind, &state, &rec.WindowID, &rec.CheckedInAt); err != nil {
			return nil, mapError(err)
		}
		rec.SessionKind = attendance.SessionKind(kind)
		rec.Status = attendance.Status(state)
		rec.CheckedInAt = rec.CheckedInAt.UTC()
		res = append(res, rec)
	}
	return res, mapError(rows.Err())
}

// CountByStatus counts records per status.
func (r *Repository) CountByStatus(ctx context.Context, windowID string) (map[attendance.Status]int, error) {
	if windowID != "" && uuid.Validate(windowID) != nil {
		return map[attendance.Status]int{}, nil
	}
	w := store.NewWhere(store.Postgres)
	if windowID != "" {
		w.Add("window_id = ?", windowID)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM checkins`+w.SQL()+` GROUP BY status`, w.Args()...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[attendance.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, mapError(err)
		}
		counts[attendance.Status(status)] = n
	}
	return counts, mapError(rows.Err())
}

// Ping verifies connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWindow(s scanner) (attendance.Window, error) {
	var (
		w    attendance.Window
		kind string
	)
	if err := s.Scan(&w.ID, &w.Token, &kind, &w.CreatedAt, &w.ExpiresAt, &w.Active); err != nil {
		return attendance.Window{}, mapError(err)
	}
	w.SessionKind = attendance.SessionKind(kind)
	w.CreatedAt = w.CreatedAt.UTC()
	w.ExpiresAt = w.ExpiresAt.UTC()
	return w, nil
}

// mapError maps driver errors to the attendance store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", attendance.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("transaction conflict (retryable): %w", err)
	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)
	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, err)
	}
}
