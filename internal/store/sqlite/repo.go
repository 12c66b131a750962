// Package sqlite stores windows and check-ins in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ attendance.Store = (*Repository)(nil)

// Repository persists windows and check-ins in SQLite.
type Repository struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx, db, sub, store.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the SQLite handle.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// RotateWindow deactivates the active window and inserts w in one transaction.
func (r *Repository) RotateWindow(ctx context.Context, w attendance.Window) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `UPDATE checkin_windows SET is_active = 0 WHERE is_active = 1`); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkin_windows (id, token, session_kind, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, w.ID, w.Token, string(w.SessionKind), toMillis(w.CreatedAt), toMillis(w.ExpiresAt)); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

const windowColumns = `id, token, session_kind, created_at, expires_at, is_active`

// ActiveWindow returns the single active window.
func (r *Repository) ActiveWindow(ctx context.Context) (attendance.Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM checkin_windows
		WHERE is_active = 1 ORDER BY created_at DESC LIMIT 1
	`)
	return scanWindow(row)
}

// ActiveWindowByToken returns the active window carrying token.
func (r *Repository) ActiveWindowByToken(ctx context.Context, token string) (attendance.Window, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM checkin_windows
		WHERE token = ? AND is_active = 1
	`, token)
	return scanWindow(row)
}

// ActiveWindows lists every active window.
func (r *Repository) ActiveWindows(ctx context.Context) ([]attendance.Window, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+windowColumns+` FROM checkin_windows
		WHERE is_active = 1 ORDER BY created_at DESC
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
	row := r.db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM checkin_windows WHERE id = ?`, id)
	return scanWindow(row)
}

// InsertCheckIn writes a new check-in record.
func (r *Repository) InsertCheckIn(ctx context.Context, rec attendance.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkins (id, email, display_name, initials, session_kind, status, window_id, checkin_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Email, rec.DisplayName, rec.Initials, string(rec.SessionKind), string(rec.Status), rec.WindowID, toMillis(rec.CheckedInAt))
	return mapError(err)
}

// ListCheckIns returns records matching f, newest first.
func (r *Repository) ListCheckIns(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	w := store.NewWhere(store.SQLite)
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
			at          int64
		)
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.Initials, &kind, &state, &rec.WindowID, &at); err != nil {
			return nil, mapError(err)
		}
		rec.SessionKind = attendance.SessionKind(kind)
		rec.Status = attendance.Status(state)
		rec.CheckedInAt = fromMillis(at)
		res = append(res, rec)
	}
	return res, mapError(rows.Err())
}

// CountByStatus counts records per status.
func (r *Repository) CountByStatus(ctx context.Context, windowID string) (map[attendance.Status]int, error) {
	w := store.NewWhere(store.SQLite)
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

// Ping verifies the handle.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWindow(s scanner) (attendance.Window, error) {
	var (
		w                attendance.Window
		kind             string
		created, expires int64
		active           int
	)
	if err := s.Scan(&w.ID, &w.Token, &kind, &created, &expires, &active); err != nil {
		return attendance.Window{}, mapError(err)
	}
	w.SessionKind = attendance.SessionKind(kind)
	w.CreatedAt = fromMillis(created)
	w.ExpiresAt = fromMillis(expires)
	w.Active = active == 1
	return w, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.ErrNotFound
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %s", attendance.ErrConflict, sqliteErr.Error())
		}
	}
	return err
}
