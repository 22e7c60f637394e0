package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores for an unknown token hash or id.
	ErrNotFound = errors.New("token: not found")

	// ErrInvalidToken covers unknown and expired refresh tokens.
	ErrInvalidToken = errors.New("token: invalid refresh token")

	// ErrCompromised means an already-revoked token was presented again.
	// The whole family has been revoked; the caller must re-authenticate
	// everywhere.
	ErrCompromised = errors.New("token: refresh token reuse detected")
)

// Record is one issued refresh credential. Only the one-way hash of the
// bearer secret is stored; possession of the matching secret is the sole
// proof of validity besides expiry and revocation state.
type Record struct {
	ID        string
	UserID    string
	FamilyID  string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// Store manages refresh token rows. Revoke must be backed by an atomic
// update guarded on the revoked flag so that exactly one concurrent caller
// can flip a row; this is the only synchronization primitive rotation
// relies on.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	FindByHash(ctx context.Context, hash string) (*Record, error)
	// Revoke flips a single row and reports whether this call did the
	// flip. Missing and already-revoked rows both report false, nil.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeFamily and RevokeAllForUser are idempotent bulk transitions
	// returning the number of rows actually flipped.
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	// DeleteExpired hard-deletes rows past their expiry; only the periodic
	// cleanup sweep calls it.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// HashSecret digests a bearer secret for storage and lookup. Secrets are
// never persisted in plaintext.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
