package attendance

import "time"

// Status is the attendance classification assigned to a check-in.
type Status string

const (
	StatusOnTime Status = "ON_TIME"
	StatusLate   Status = "LATE"
	StatusAbsent Status = "ABSENT"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnTime, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// SessionKind tells morning windows from afternoon ones.
type SessionKind string

const (
	SessionMorning   SessionKind = "MORNING"
	SessionAfternoon SessionKind = "AFTERNOON"
)

// Valid reports whether k is a known session kind.
func (k SessionKind) Valid() bool {
	return k == SessionMorning || k == SessionAfternoon
}

// Window is a time-boxed check-in session identified by its token.
type Window struct {
	ID          string      `json:"id"`
	Token       string      `json:"token"`
	SessionKind SessionKind `json:"session_kind"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Active      bool        `json:"is_active"`
}

// Record is one accepted check-in.
type Record struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName *string     `json:"display_name,omitempty"`
	Initials    string      `json:"initials"`
	SessionKind SessionKind `json:"session_kind"`
	Status      Status      `json:"status"`
	WindowID    string      `json:"window_id"`
	CheckedInAt time.Time   `json:"checkin_time"`
}

// Filter narrows the admin check-in log.
type Filter struct {
	Query       string
	Status      Status
	SessionKind SessionKind
	WindowID    string
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Normalize clamps paging values.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Summary counts check-ins per status.
type Summary struct {
	WindowID string `json:"window_id,omitempty"`
	OnTime   int    `json:"on_time"`
	Late     int    `json:"late"`
	Absent   int    `json:"absent"`
	Total    int    `json:"total"`
}
