package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func window(id, token string, at time.Time) attendance.Window {
	return attendance.Window{
		ID:          id,
		Token:       token,
		SessionKind: attendance.SessionMorning,
		CreatedAt:   at,
		ExpiresAt:   at.Add(4 * time.Hour),
		Active:      true,
	}
}

func record(id, email, windowID string, status attendance.Status, at time.Time) attendance.Record {
	return attendance.Record{
		ID:          id,
		Email:       email,
		Initials:    "ABC",
		SessionKind: attendance.SessionMorning,
		Status:      status,
		WindowID:    windowID,
		CheckedInAt: at,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestRotateWindowKeepsOneActive(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	_, err := repo.ActiveWindow(ctx)
	require.ErrorIs(t, err, attendance.ErrNotFound)

	require.NoError(t, repo.RotateWindow(ctx, window("w1", "TOKENONE11", base)))
	require.NoError(t, repo.RotateWindow(ctx, window("w2", "TOKENTWO22", base.Add(time.Hour))))

	active, err := repo.ActiveWindows(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "w2", active[0].ID)

	got, err := repo.ActiveWindow(ctx)
	require.NoError(t, err)
	require.Equal(t, window("w2", "TOKENTWO22", base.Add(time.Hour)), got)

	old, err := repo.Window(ctx, "w1")
	require.NoError(t, err)
	require.False(t, old.Active)
	require.Equal(t, base, old.CreatedAt)

	_, err = repo.ActiveWindowByToken(ctx, "TOKENONE11")
	require.ErrorIs(t, err, attendance.ErrNotFound)
	byToken, err := repo.ActiveWindowByToken(ctx, "TOKENTWO22")
	require.NoError(t, err)
	require.Equal(t, "w2", byToken.ID)
}

func TestRotateWindowTokenCollisionKeepsPreviousWindow(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	require.NoError(t, repo.RotateWindow(ctx, window("w1", "SAMETOKEN1", base)))
	err := repo.RotateWindow(ctx, window("w2", "SAMETOKEN1", base.Add(time.Hour)))
	require.ErrorIs(t, err, attendance.ErrConflict)

	active, err := repo.ActiveWindow(ctx)
	require.NoError(t, err)
	require.Equal(t, "w1", active.ID)
}

func TestInsertCheckInUniquePerWindow(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	require.NoError(t, repo.RotateWindow(ctx, window("w1", "TOKENONE11", base)))

	require.NoError(t, repo.InsertCheckIn(ctx, record("c1", "ana@example.com", "w1", attendance.StatusOnTime, base)))
	err := repo.InsertCheckIn(ctx, record("c2", "ana@example.com", "w1", attendance.StatusLate, base.Add(time.Minute)))
	require.ErrorIs(t, err, attendance.ErrConflict)

	// The same person may check in to the next window.
	require.NoError(t, repo.RotateWindow(ctx, window("w2", "TOKENTWO22", base.Add(time.Hour))))
	require.NoError(t, repo.InsertCheckIn(ctx, record("c3", "ana@example.com", "w2", attendance.StatusOnTime, base.Add(time.Hour))))
}

func TestInsertCheckInRequiresWindow(t *testing.T) {
	repo := openTestRepo(t)
	err := repo.InsertCheckIn(context.Background(), record("c1", "ana@example.com", "missing", attendance.StatusOnTime, base))
	require.Error(t, err)
	require.NotErrorIs(t, err, attendance.ErrConflict)
}

func TestListCheckInsFilters(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	require.NoError(t, repo.RotateWindow(ctx, window("w1", "TOKENONE11", base)))

	name := "Ana Smith"
	first := record("c1", "ana@example.com", "w1", attendance.StatusOnTime, base.Add(time.Minute))
	first.DisplayName = &name
	require.NoError(t, repo.InsertCheckIn(ctx, first))
	second := record("c2", "bob_w@example.com", "w1", attendance.StatusLate, base.Add(15*time.Minute))
	second.Initials = "BW"
	require.NoError(t, repo.InsertCheckIn(ctx, second))
	require.NoError(t, repo.InsertCheckIn(ctx, record("c3", "bobby@example.com", "w1", attendance.StatusAbsent, base.Add(40*time.Minute))))

	all, err := repo.ListCheckIns(ctx, attendance.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"c3", "c2", "c1"}, []string{all[0].ID, all[1].ID, all[2].ID})
	require.Equal(t, first.CheckedInAt, all[2].CheckedInAt)
	require.Equal(t, &name, all[2].DisplayName)
	require.Nil(t, all[0].DisplayName)

	tests := []struct {
		name   string
		filter attendance.Filter
		want   []string
	}{
		{"by status", attendance.Filter{Status: attendance.StatusLate}, []string{"c2"}},
		{"by email text", attendance.Filter{Query: "bob"}, []string{"c3", "c2"}},
		{"by initials text", attendance.Filter{Query: "bw"}, []string{"c2"}},
		{"underscore is literal", attendance.Filter{Query: "b_w"}, []string{"c2"}},
		{"percent is literal", attendance.Filter{Query: "%"}, nil},
		{"by session", attendance.Filter{SessionKind: attendance.SessionAfternoon}, nil},
		{"by window", attendance.Filter{WindowID: "w1", Status: attendance.StatusOnTime}, []string{"c1"}},
		{"paged", attendance.Filter{Limit: 1, Offset: 1}, []string{"c2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListCheckIns(ctx, tt.filter.Normalize())
			require.NoError(t, err)
			var ids []string
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			require.Equal(t, tt.want, ids)
		})
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	require.NoError(t, repo.RotateWindow(ctx, window("w1", "TOKENONE11", base)))
	require.NoError(t, repo.InsertCheckIn(ctx, record("c1", "a@example.com", "w1", attendance.StatusOnTime, base)))
	require.NoError(t, repo.InsertCheckIn(ctx, record("c2", "b@example.com", "w1", attendance.StatusOnTime, base)))
	require.NoError(t, repo.RotateWindow(ctx, window("w2", "TOKENTWO22", base.Add(time.Hour))))
	require.NoError(t, repo.InsertCheckIn(ctx, record("c3", "a@example.com", "w2", attendance.StatusLate, base.Add(time.Hour))))

	counts, err := repo.CountByStatus(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, map[attendance.Status]int{attendance.StatusOnTime: 2}, counts)

	counts, err = repo.CountByStatus(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[attendance.Status]int{attendance.StatusOnTime: 2, attendance.StatusLate: 1}, counts)

	require.NoError(t, repo.Ping(ctx))
}
