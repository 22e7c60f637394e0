package audit

import (
	"context"
	"time"
)

// Action identifies what operation occurred.
type Action string

const (
	ActionCreate         Action = "CREATE"
	ActionUpdate         Action = "UPDATE"
	ActionDelete         Action = "DELETE"
	ActionLogin          Action = "LOGIN"
	ActionLoginFailed    Action = "LOGIN_FAILED"
	ActionLogout         Action = "LOGOUT"
	ActionPasswordChange Action = "PASSWORD_CHANGE"
	ActionTokenRefresh   Action = "TOKEN_REFRESH"
)

// Status records the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Entity types referenced by audit events.
const (
	EntityUser    = "user"
	EntityAccount = "account"
	EntityGrant   = "account_grant"
)

// Event is one immutable record of an action. Application code only ever
// appends events; an out-of-band retention job is the sole thing allowed to
// purge rows past the compliance window.
type Event struct {
	ID            string         `json:"id"`
	ActorID       *string        `json:"actor_id"` // nil for system or unproven actors
	Action        Action         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      *string        `json:"entity_id,omitempty"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	Description   string         `json:"description,omitempty"`
	ClientIP      string         `json:"client_ip,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Status        Status         `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Filter narrows audit queries. Zero values match everything.
type Filter struct {
	Action     Action
	EntityType string
	Status     Status
	From       time.Time
	To         time.Time
}

// Page bounds audit queries.
type Page struct {
	Offset int
	Limit  int
}

const defaultPageLimit = 50

// Clamp normalizes pagination to sane bounds.
func (p Page) Clamp() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = defaultPageLimit
	}
	return p
}

// Match reports whether the event passes the filter. Stores that evaluate
// filters in SQL keep the same semantics: closed date range, exact matches
// elsewhere.
func (f Filter) Match(e *Event) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Store persists audit events. There are deliberately no update or delete
// operations. List results are ordered newest-first and return the total
// match count for pagination metadata.
type Store interface {
	Append(ctx context.Context, e *Event) error
	ListForUser(ctx context.Context, userID string, f Filter, p Page) ([]*Event, int64, error)
	ListAll(ctx context.Context, f Filter, p Page) ([]*Event, int64, error)
}
