package auth

import (
	"context"
	"time"

	"emerald.finance/internal/audit"
	"emerald.finance/internal/token"
)

// User represents an account holder.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// UserStore manages user rows. Lookups exclude soft-deleted users, so a
// deleted account is indistinguishable from a non-existent one.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// Store describes the persistence surface the auth orchestrator composes.
// InTx runs fn with a transaction bound to the context so that the user
// mutation, the token ledger mutation, and the audit append commit or roll
// back together.
type Store interface {
	Users() UserStore
	RefreshTokens() token.Store
	Audit() audit.Store
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
