package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/auth"
	"github.com/MKhalifi/employee-checkin/internal/queue"
)

// Service is the attendance core as seen by the HTTP layer.
type Service interface {
	RotateWindow(ctx context.Context) (attendance.Window, error)
	SubmitCheckIn(ctx context.Context, token string, id attendance.Identity) (attendance.Record, error)
	ActiveWindow(ctx context.Context) (attendance.Window, error)
	ListCheckIns(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
	Summary(ctx context.Context, windowID string) (attendance.Summary, error)
	Ping(ctx context.Context) error
}

// IdentityProvider signs employees in with an external provider.
type IdentityProvider interface {
	AuthURL(checkinToken string) (string, error)
	Complete(ctx context.Context, state, code string) (string, attendance.Identity, error)
}

// HealthChecker reports whether an optional dependency answers.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Deps are the collaborators of Handler. Queue, Identity and Redis may be nil.
type Deps struct {
	Service       Service
	Queue         queue.Queue
	Identity      IdentityProvider
	Redis         HealthChecker
	PublicBaseURL string
}

// Handler serves the check-in API.
type Handler struct {
	svc     Service
	queue   queue.Queue
	idp     IdentityProvider
	redis   HealthChecker
	baseURL string
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{
		svc:     d.Service,
		queue:   d.Queue,
		idp:     d.Identity,
		redis:   d.Redis,
		baseURL: strings.TrimRight(d.PublicBaseURL, "/"),
	}
}

// Secrets guard the privileged routes.
type Secrets struct {
	Cron  string
	Admin string
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter, s Secrets) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/checkins", h.SubmitCheckIn)
	v1.GET("/windows/active", h.ActiveWindow)

	rotate := v1.Group("/windows", auth.BearerSecret(s.Cron, "cron", unauthorized))
	rotate.GET("/rotate", h.RotateWindow)
	rotate.POST("/rotate", h.RotateWindow)

	if s.Admin != "" {
		admin := v1.Group("/admin", auth.BearerSecret(s.Admin, "admin", unauthorized))
		admin.GET("/checkins", h.ListCheckIns)
		admin.GET("/summary", h.Summary)
		admin.GET("/windows/active", h.ActiveWindow)
	} else {
		log.Warn().Msg("ADMIN_PASSWORD not set, admin routes disabled")
	}

	r.GET("/auth/login", h.Login)
	r.GET("/auth/callback", h.Callback)
}

// Healthz reports store and redis reachability; any failure answers 503.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeHealthy := h.svc.Ping(ctx) == nil
	body := gin.H{"status": "ok", "store": storeHealthy}
	healthy := storeHealthy
	if h.redis != nil {
		redisHealthy := h.redis.Healthy(ctx)
		body["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

type checkinRequest struct {
	Token    string `json:"token" form:"token"`
	Email    string `json:"email" form:"email"`
	Name     string `json:"name" form:"name"`
	Initials string `json:"initials" form:"initials"`
}

// SubmitCheckIn validates a token and records the check-in.
func (h *Handler) SubmitCheckIn(c *gin.Context) {
	var req checkinRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body", "code": "bad_request"})
		return
	}
	h.submit(c, req.Token, attendance.Identity{Email: req.Email, Name: req.Name, Initials: req.Initials})
}

func (h *Handler) submit(c *gin.Context, token string, id attendance.Identity) {
	rec, err := h.svc.SubmitCheckIn(c.Request.Context(), token, id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(c.Request.Context(), rec)

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"status":       rec.Status,
		"session_kind": rec.SessionKind,
		"initials":     rec.Initials,
		"checkin_time": rec.CheckedInAt,
	})
}

func (h *Handler) publish(ctx context.Context, rec attendance.Record) {
	if h.queue == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeCheckinRecorded, rec)
	if err != nil {
		log.Error().Err(err).Msg("Encode check-in event failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.queue.Publish(ctx, msg); err != nil {
		log.Warn().Err(err).Str("checkin_id", rec.ID).Msg("Queue publish failed")
	}
}

// RotateWindow opens a new window; the route is guarded by the cron secret.
func (h *Handler) RotateWindow(c *gin.Context) {
	w, err := h.svc.RotateWindow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"token":        w.Token,
		"session_kind": w.SessionKind,
		"created_at":   w.CreatedAt,
		"expires_at":   w.ExpiresAt,
		"checkin_url":  h.checkinURL(w.Token),
	})
}

// ActiveWindow returns what a display needs to show the current code.
func (h *Handler) ActiveWindow(c *gin.Context) {
	w, err := h.svc.ActiveWindow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":        w.Token,
		"session_kind": w.SessionKind,
		"created_at":   w.CreatedAt,
		"expires_at":   w.ExpiresAt,
		"checkin_url":  h.checkinURL(w.Token),
	})
}

func (h *Handler) checkinURL(token string) string {
	return h.baseURL + "/checkin/" + url.PathEscape(token)
}

// ListCheckIns serves the filtered check-in log, newest first.
func (h *Handler) ListCheckIns(c *gin.Context) {
	f := attendance.Filter{
		Query:       c.Query("q"),
		Status:      attendance.Status(strings.ToUpper(c.Query("status"))),
		SessionKind: attendance.SessionKind(strings.ToUpper(c.Query("session"))),
		WindowID:    c.Query("window_id"),
	}
	var err error
	if f.Limit, err = intQuery(c, "limit", 50); err != nil {
		writeError(c, err)
		return
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		writeError(c, err)
		return
	}

	records, err := h.svc.ListCheckIns(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"checkins": records})
}

// Summary serves per-status counts for one window, or all windows when window_id is empty.
func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.svc.Summary(c.Request.Context(), c.Query("window_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", attendance.ErrInvalidFilter, key)
	}
	return n, nil
}

// Login redirects to the identity provider, remembering the check-in token.
func (h *Handler) Login(c *gin.Context) {
	if h.idp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sign-in with an identity provider is not enabled", "code": "not_enabled"})
		return
	}
	token := attendance.NormalizeToken(c.Query("token"))
	if token == "" {
		writeError(c, attendance.ErrInvalidOrExpiredCode)
		return
	}
	target, err := h.idp.AuthURL(token)
	if err != nil {
		log.Error().Err(err).Msg("Build identity provider URL failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start sign-in", "code": "login_failed"})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Callback finishes the provider login and submits the check-in with the provider's identity.
func (h *Handler) Callback(c *gin.Context) {
	if h.idp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sign-in with an identity provider is not enabled", "code": "not_enabled"})
		return
	}
	if e := c.Query("error"); e != "" {
		log.Warn().Str("error", e).Str("description", c.Query("error_description")).Msg("Identity provider returned an error")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign-in was cancelled or refused", "code": "login_failed"})
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state", "code": "bad_request"})
		return
	}

	token, id, err := h.idp.Complete(c.Request.Context(), state, code)
	if err != nil {
		log.Warn().Err(err).Msg("Identity provider login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign-in failed, scan the code and try again", "code": "login_failed"})
		return
	}
	h.submit(c, token, id)
}

func unauthorized(c *gin.Context) {
	writeError(c, attendance.ErrUnauthorized)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidOrExpiredCode):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "This check-in code is invalid or has expired. Scan the code currently displayed.",
			"code":  "invalid_or_expired_code",
		})
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		c.JSON(http.StatusConflict, gin.H{
			"error": "You have already checked in for this session.",
			"code":  "already_checked_in",
		})
	case errors.Is(err, attendance.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_identity"})
	case errors.Is(err, attendance.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_filter"})
	case errors.Is(err, attendance.ErrUnknownWindow):
		c.JSON(http.StatusNotFound, gin.H{"error": "No check-in session has this id.", "code": "unknown_window"})
	case errors.Is(err, attendance.ErrNoActiveWindow):
		c.JSON(http.StatusNotFound, gin.H{"error": "No check-in session is open right now.", "code": "no_active_window"})
	case errors.Is(err, attendance.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
	default:
		// Detail was logged where the error happened.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "The check-in service is temporarily unavailable. Please try again.",
			"code":  "persistence_failure",
		})
	}
}
