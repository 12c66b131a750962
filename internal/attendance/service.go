package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/MKhalifi/employee-checkin/internal/metrics"
)

const (
	maxTokenAttempts = 3
	maxTokenLength   = 64
)

// Options tune the Service. Zero values fall back to defaults.
type Options struct {
	// Location is the civil-time zone used to tell morning from afternoon.
	Location *time.Location
	// MiddayHour is the first hour, in Location, that counts as afternoon.
	MiddayHour int
	// WindowTTL sets expires_at relative to created_at.
	WindowTTL time.Duration
	// Timeout bounds every store call made by one operation.
	Timeout time.Duration
	// Now and NewToken are replaceable in tests.
	Now      func() time.Time
	NewToken func() (string, error)
}

// Service opens check-in windows and validates check-ins against them.
type Service struct {
	store Store
	opts  Options
}

// NewService creates a service backed by a store.
func NewService(store Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MiddayHour <= 0 || opts.MiddayHour > 23 {
		opts.MiddayHour = 12
	}
	if opts.WindowTTL <= 0 {
		opts.WindowTTL = DefaultWindowTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewToken == nil {
		opts.NewToken = NewToken
	}
	return &Service{store: store, opts: opts}
}

// RotateWindow closes any active window and opens a new one starting now.
// Calling it twice in a row is harmless: the second call simply rotates again.
func (s *Service) RotateWindow(ctx context.Context) (Window, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	now := s.now()
	kind := SessionKindAt(now, s.opts.Location, s.opts.MiddayHour)

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := s.opts.NewToken()
		if err != nil {
			metrics.ObserveRotation("error", time.Time{})
			return Window{}, err
		}
		w := Window{
			ID:          uuid.NewString(),
			Token:       token,
			SessionKind: kind,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.opts.WindowTTL),
			Active:      true,
		}

		err = s.store.RotateWindow(ctx, w)
		if err == nil {
			metrics.ObserveRotation("ok", w.CreatedAt)
			log.Info().
				Str("window_id", w.ID).
				Str("session_kind", string(w.SessionKind)).
				Time("expires_at", w.ExpiresAt).
				Msg("Rotated check-in window")
			return w, nil
		}
		if !errors.Is(err, ErrConflict) {
			metrics.ObserveRotation("error", time.Time{})
			return Window{}, s.persistence("rotate window", err)
		}
		log.Warn().Int("attempt", attempt).Msg("Window rotation conflicted, retrying with a fresh token")
	}

	metrics.ObserveRotation("error", time.Time{})
	return Window{}, fmt.Errorf("%w: could not allocate a unique window token", ErrPersistence)
}

// SubmitCheckIn records a check-in for the window carrying token and returns it
// with its computed status.
func (s *Service) SubmitCheckIn(ctx context.Context, token string, id Identity) (Record, error) {
	token = NormalizeToken(token)
	if token == "" || len(token) > maxTokenLength {
		metrics.ObserveSubmission("invalid_code")
		return Record{}, ErrInvalidOrExpiredCode
	}

	ident, err := id.Normalize()
	if err != nil {
		metrics.ObserveSubmission("invalid_identity")
		return Record{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	w, err := s.store.ActiveWindowByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ObserveSubmission("invalid_code")
			return Record{}, ErrInvalidOrExpiredCode
		}
		metrics.ObserveSubmission("error")
		return Record{}, s.persistence("lookup window", err)
	}

	now := s.now()
	rec := Record{
		ID:          uuid.NewString(),
		Email:       ident.Email,
		Initials:    ident.Initials,
		SessionKind: w.SessionKind,
		Status:      Classify(now.Sub(w.CreatedAt)),
		WindowID:    w.ID,
		CheckedInAt: now,
	}
	if ident.Name != "" {
		name := ident.Name
		rec.DisplayName = &name
	}

	if err := s.store.InsertCheckIn(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.ObserveSubmission("already_checked_in")
			return Record{}, ErrAlreadyCheckedIn
		}
		metrics.ObserveSubmission("error")
		return Record{}, s.persistence("insert check-in", err)
	}

	metrics.ObserveSubmission(strings.ToLower(string(rec.Status)))
	log.Info().
		Str("window_id", rec.WindowID).
		Str("initials", rec.Initials).
		Str("status", string(rec.Status)).
		Msg("Recorded check-in")
	return rec, nil
}

// ActiveWindow returns the currently open window.
func (s *Service) ActiveWindow(ctx context.Context) (Window, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	w, err := s.store.ActiveWindow(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Window{}, ErrNoActiveWindow
		}
		return Window{}, s.persistence("active window", err)
	}
	return w, nil
}

// ListCheckIns returns the check-in log, newest first.
func (s *Service) ListCheckIns(ctx context.Context, f Filter) ([]Record, error) {
	f = f.Normalize()
	f.Query = strings.ToLower(strings.TrimSpace(f.Query))
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	if f.SessionKind != "" && !f.SessionKind.Valid() {
		return nil, fmt.Errorf("%w: unknown session kind %q", ErrInvalidFilter, f.SessionKind)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	records, err := s.store.ListCheckIns(ctx, f)
	if err != nil {
		return nil, s.persistence("list check-ins", err)
	}
	return records, nil
}

// Summary counts check-ins per status, for one window or for all when windowID is empty.
func (s *Service) Summary(ctx context.Context, windowID string) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	windowID = strings.TrimSpace(windowID)
	if windowID != "" {
		if _, err := s.store.Window(ctx, windowID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Summary{}, ErrUnknownWindow
			}
			return Summary{}, s.persistence("lookup window", err)
		}
	}

	counts, err := s.store.CountByStatus(ctx, windowID)
	if err != nil {
		return Summary{}, s.persistence("count check-ins", err)
	}
	sum := Summary{
		WindowID: windowID,
		OnTime:   counts[StatusOnTime],
		Late:     counts[StatusLate],
		Absent:   counts[StatusAbsent],
	}
	sum.Total = sum.OnTime + sum.Late + sum.Absent
	return sum, nil
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.store.Ping(ctx)
}

// now is truncated to milliseconds so every backend stores the same instant.
func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Millisecond)
}

func (s *Service) persistence(op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("Record store failure")
	return fmt.Errorf("%w: %s", ErrPersistence, op)
}
