package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/queue"
	"github.com/MKhalifi/employee-checkin/internal/store/sqlite"
)

const (
	cronSecret    = "cron-secret"
	adminPassword = "admin-password"
)

type stubIdentity struct {
	token string
	id    attendance.Identity
	err   error
}

func (s stubIdentity) AuthURL(checkinToken string) (string, error) {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(checkinToken), nil
}

func (s stubIdentity) Complete(context.Context, string, string) (string, attendance.Identity, error) {
	return s.token, s.id, s.err
}

type testServer struct {
	router *gin.Engine
	svc    *attendance.Service
	queue  *queue.InMemory
	now    time.Time
}

func newTestServer(t *testing.T, idp IdentityProvider) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ts := &testServer{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), queue: queue.NewInMemory(16)}
	ts.svc = attendance.NewService(repo, attendance.Options{Now: func() time.Time { return ts.now }})

	ts.router = gin.New()
	New(Deps{
		Service:       ts.svc,
		Queue:         ts.queue,
		Identity:      idp,
		PublicBaseURL: "https://checkin.example.com/",
	}).Register(ts.router, Secrets{Cron: cronSecret, Admin: adminPassword})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) rotate(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/windows/rotate", cronSecret, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	return body["token"].(string)
}

func TestRotateRequiresCronSecret(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/windows/rotate", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(t, http.MethodGet, "/v1/windows/rotate", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decode(t, rec)["code"])

	_, err := ts.svc.ActiveWindow(context.Background())
	require.ErrorIs(t, err, attendance.ErrNoActiveWindow)

	rec = ts.do(t, http.MethodGet, "/v1/windows/rotate", cronSecret, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "MORNING", body["session_kind"])
	require.Len(t, body["token"], attendance.TokenLength)
}

func TestActiveWindow(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/windows/active", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "no_active_window", decode(t, rec)["code"])

	token := ts.rotate(t)
	rec = ts.do(t, http.MethodGet, "/v1/windows/active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, token, body["token"])
	require.Equal(t, "https://checkin.example.com/checkin/"+token, body["checkin_url"])
	require.Equal(t, "2026-03-02T12:00:00Z", body["expires_at"])
}

func TestSubmitCheckIn(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.rotate(t)

	ts.now = ts.now.Add(12 * time.Minute)
	rec := ts.do(t, http.MethodPost, "/v1/checkins", "", map[string]string{
		"token": strings.ToLower(token),
		"email": "alice@example.com",
		"name":  "Alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "LATE", body["status"])
	require.Equal(t, "ALI", body["initials"])

	select {
	case msg := <-mustConsume(t, ts.queue):
		require.Equal(t, queue.TypeCheckinRecorded, msg.Type)
		var published attendance.Record
		require.NoError(t, json.Unmarshal(msg.Body, &published))
		require.Equal(t, "alice@example.com", published.Email)
		require.Equal(t, attendance.StatusLate, published.Status)
	case <-time.After(time.Second):
		t.Fatal("no check-in event published")
	}

	rec = ts.do(t, http.MethodPost, "/v1/checkins", "", map[string]string{"token": token, "email": "alice@example.com"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_checked_in", decode(t, rec)["code"])
}

func TestSubmitCheckInNotDelayedByFullQueue(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.rotate(t)

	// Nothing consumes the queue, so publishing fills its buffer of 16.
	start := time.Now()
	for i := 0; i < 20; i++ {
		rec := ts.do(t, http.MethodPost, "/v1/checkins", "", map[string]string{
			"token": token,
			"email": fmt.Sprintf("employee%d@example.com", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	require.Less(t, time.Since(start), time.Second)

	records, err := ts.svc.ListCheckIns(context.Background(), attendance.Filter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, records, 20)
}

func mustConsume(t *testing.T, q *queue.InMemory) <-chan queue.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	return ch
}

func TestSubmitCheckInErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.rotate(t)

	tests := []struct {
		name     string
		body     any
		wantCode int
		want     string
	}{
		{"unknown token", map[string]string{"token": "NOTATOKEN", "email": "a@example.com"}, http.StatusBadRequest, "invalid_or_expired_code"},
		{"missing token", map[string]string{"email": "a@example.com"}, http.StatusBadRequest, "invalid_or_expired_code"},
		{"missing email", map[string]string{"token": token}, http.StatusBadRequest, "invalid_identity"},
		{"malformed email", map[string]string{"token": token, "email": "alice"}, http.StatusBadRequest, "invalid_identity"},
		{"wrong json type", map[string]int{"token": 5}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/checkins", "", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			require.Equal(t, tt.want, decode(t, rec)["code"])
		})
	}
}

func TestSubmitCheckInForm(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.rotate(t)

	form := url.Values{"token": {token}, "email": {"bob@example.com"}, "initials": {"bw"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/checkins", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.Equal(t, "ON_TIME", body["status"])
	require.Equal(t, "BW", body["initials"])
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.rotate(t)

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		rec := ts.do(t, http.MethodPost, "/v1/checkins", "", map[string]string{"token": token, "email": email})
		require.Equal(t, http.StatusCreated, rec.Code)
		ts.now = ts.now.Add(20 * time.Minute)
	}

	rec := ts.do(t, http.MethodGet, "/v1/admin/checkins", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/admin/checkins?status=late", adminPassword, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		CheckIns []attendance.Record `json:"checkins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.CheckIns, 1)
	require.Equal(t, "bob@example.com", list.CheckIns[0].Email)

	rec = ts.do(t, http.MethodGet, "/v1/admin/checkins?q=nobody", adminPassword, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"checkins":[]}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/admin/checkins?status=MAYBE", adminPassword, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_filter", decode(t, rec)["code"])

	rec = ts.do(t, http.MethodGet, "/v1/admin/checkins?limit=-1", adminPassword, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_filter", decode(t, rec)["code"])

	rec = ts.do(t, http.MethodGet, "/v1/admin/summary", adminPassword, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum attendance.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.Equal(t, attendance.Summary{OnTime: 1, Late: 1, Total: 2}, sum)

	rec = ts.do(t, http.MethodGet, "/v1/admin/summary?window_id=no-such-window", adminPassword, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "unknown_window", decode(t, rec)["code"])
}

func TestAdminRoutesDisabledWithoutPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(Deps{Service: attendance.NewService(nil, attendance.Options{})}).Register(r, Secrets{Cron: cronSecret})

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/checkins", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdentityProviderFlow(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := ts.do(t, http.MethodGet, "/auth/login?token=ABC", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("login redirects", func(t *testing.T) {
		ts := newTestServer(t, stubIdentity{})
		rec := ts.do(t, http.MethodGet, "/auth/login?token=%20abc%20", "", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "https://idp.example.com/authorize?state=ABC", rec.Header().Get("Location"))

		rec = ts.do(t, http.MethodGet, "/auth/login", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("callback checks in", func(t *testing.T) {
		idp := &stubIdentity{id: attendance.Identity{Email: "carol@example.com", Name: "Carol Danvers"}}
		ts := newTestServer(t, idp)
		idp.token = ts.rotate(t)

		rec := ts.do(t, http.MethodGet, "/auth/callback?state=s&code=c", "", nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := decode(t, rec)
		require.Equal(t, "ON_TIME", body["status"])
		require.Equal(t, "CAR", body["initials"])
	})

	t.Run("callback failures", func(t *testing.T) {
		ts := newTestServer(t, stubIdentity{err: errors.New("bad code")})

		rec := ts.do(t, http.MethodGet, "/auth/callback?state=s&code=c", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "login_failed", decode(t, rec)["code"])

		rec = ts.do(t, http.MethodGet, "/auth/callback?error=access_denied", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = ts.do(t, http.MethodGet, "/auth/callback?state=s", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type failingStore struct{ attendance.Store }

func (failingStore) Ping(context.Context) error { return errors.New("down") }

type unhealthy struct{}

func (unhealthy) Healthy(context.Context) bool { return false }

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","store":true}`, rec.Body.String())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(Deps{Service: attendance.NewService(failingStore{}, attendance.Options{}), Redis: unhealthy{}}).
		Register(r, Secrets{Cron: cronSecret})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"status":"degraded","store":false,"redis":false}`, w.Body.String())
}
