package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emerald.finance/internal/ids"
	"emerald.finance/internal/obs"
)

// RequestMeta carries the client context the HTTP boundary attaches to every
// audited action.
type RequestMeta struct {
	ClientIP      string
	UserAgent     string
	CorrelationID string
}

// Apply copies the request metadata onto the event.
func (m RequestMeta) Apply(e *Event) {
	e.ClientIP = m.ClientIP
	e.UserAgent = m.UserAgent
	e.CorrelationID = m.CorrelationID
}

// Recorder appends immutable audit events. It never commits the enclosing
// transaction itself: the Store passed into each call decides which
// transaction the append joins, so a rolled-back mutation takes its audit
// row down with it. A failed append must fail the whole operation; audit
// rows for state changes are not best-effort.
type Recorder struct {
	now func() time.Time
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills in identity and timestamp, validates the event, and appends
// it through the store.
func (r *Recorder) Record(ctx context.Context, st Store, e *Event) (*Event, error) {
	if e == nil {
		return nil, errors.New("audit: event is required")
	}
	if e.Action == "" {
		return nil, errors.New("audit: action is required")
	}
	if e.EntityType == "" {
		return nil, errors.New("audit: entity type is required")
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if e.Status == StatusFailure && e.ErrorMessage == "" {
		return nil, errors.New("audit: failure events carry an error message")
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if err := st.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	obs.CountAuditEvent(string(e.Action), string(e.Status))
	return e, nil
}

// Login records a LOGIN or LOGIN_FAILED event. Failed attempts carry no
// actor (the identity is unproven); the attempted email lives only in the
// description text, never as a structured identifier.
func (r *Recorder) Login(ctx context.Context, st Store, userID *string, email string, success bool, meta RequestMeta) (*Event, error) {
	e := &Event{
		ActorID:    userID,
		Action:     ActionLogin,
		EntityType: EntityUser,
		EntityID:   userID,
		Status:     StatusSuccess,
	}
	if success {
		e.Description = "user logged in"
	} else {
		e.ActorID = nil
		e.EntityID = nil
		e.Action = ActionLoginFailed
		e.Status = StatusFailure
		e.Description = fmt.Sprintf("failed login attempt for %s", email)
		e.ErrorMessage = "invalid credentials"
	}
	meta.Apply(e)
	return r.Record(ctx, st, e)
}

// Logout records a LOGOUT event for the user.
func (r *Recorder) Logout(ctx context.Context, st Store, userID string, success bool, reason string, meta RequestMeta) (*Event, error) {
	e := userEvent(ActionLogout, userID, success, "user logged out", reason)
	meta.Apply(e)
	return r.Record(ctx, st, e)
}

// PasswordChange records a PASSWORD_CHANGE event for the user.
func (r *Recorder) PasswordChange(ctx context.Context, st Store, userID string, success bool, reason string, meta RequestMeta) (*Event, error) {
	e := userEvent(ActionPasswordChange, userID, success, "password changed, all sessions revoked", reason)
	meta.Apply(e)
	return r.Record(ctx, st, e)
}

// TokenRefresh records a TOKEN_REFRESH event for the user. Reuse-detected
// failures carry the compromise reason in the error message.
func (r *Recorder) TokenRefresh(ctx context.Context, st Store, userID *string, success bool, reason string, meta RequestMeta) (*Event, error) {
	e := &Event{
		ActorID:    userID,
		Action:     ActionTokenRefresh,
		EntityType: EntityUser,
		EntityID:   userID,
		Status:     StatusSuccess,
	}
	if success {
		e.Description = "refresh token rotated"
	} else {
		e.Status = StatusFailure
		e.Description = "refresh token rejected"
		e.ErrorMessage = reason
	}
	meta.Apply(e)
	return r.Record(ctx, st, e)
}

// ListForUser returns the user's own activity, newest first.
func (r *Recorder) ListForUser(ctx context.Context, st Store, userID string, f Filter, p Page) ([]*Event, int64, error) {
	return st.ListForUser(ctx, userID, f, p.Clamp())
}

// ListAll returns all activity, newest first. Callers gate this behind an
// admin check.
func (r *Recorder) ListAll(ctx context.Context, st Store, f Filter, p Page) ([]*Event, int64, error) {
	return st.ListAll(ctx, f, p.Clamp())
}

func userEvent(action Action, userID string, success bool, okDesc, reason string) *Event {
	e := &Event{
		ActorID:     &userID,
		Action:      action,
		EntityType:  EntityUser,
		EntityID:    &userID,
		Status:      StatusSuccess,
		Description: okDesc,
	}
	if !success {
		e.Status = StatusFailure
		e.Description = ""
		e.ErrorMessage = reason
	}
	return e
}

