package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emerald.finance/internal/ids"
	"emerald.finance/internal/obs"
)

const defaultRefreshTTL = 24 * time.Hour * 14

// SecretMinter produces the opaque bearer secret for a refresh record. The
// encoding (signature scheme, claims) is the caller's concern; the ledger
// only ever sees the finished string and stores its hash.
type SecretMinter interface {
	MintRefresh(userID, familyID, tokenID string, expiresAt time.Time) (string, error)
}

// Ledger issues, rotates, and invalidates refresh token records. It carries
// no state of its own; the Store passed into each call decides which
// transaction the mutation joins.
type Ledger struct {
	minter SecretMinter
	now    func() time.Time
	ttl    time.Duration
}

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger.
func NewLedger(minter SecretMinter, opts ...Option) (*Ledger, error) {
	if minter == nil {
		return nil, errors.New("token: secret minter is required")
	}
	l := &Ledger{minter: minter, now: time.Now, ttl: defaultRefreshTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// RefreshTTL exposes the configured lifetime so callers can report expiry.
func (l *Ledger) RefreshTTL() time.Duration { return l.ttl }

// Issue mints a fresh refresh secret and persists its record. An empty
// familyID starts a new family; rotation passes the old family through so
// every descendant of one login shares it. The plaintext secret is returned
// exactly once and never stored.
func (l *Ledger) Issue(ctx context.Context, st Store, userID, familyID string) (string, *Record, error) {
	if familyID == "" {
		familyID = ids.New()
	}
	now := l.now().UTC()
	rec := &Record{
		ID:        ids.New(),
		UserID:    userID,
		FamilyID:  familyID,
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	secret, err := l.minter.MintRefresh(userID, familyID, rec.ID, rec.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("mint refresh secret: %w", err)
	}
	rec.TokenHash = HashSecret(secret)
	if err := st.Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return secret, rec, nil
}

// Rotate exchanges a presented refresh secret for a new one in the same
// family. The presented record is revoked; replaying it later trips reuse
// detection. Two concurrent rotations of the same secret are serialized by
// the store's guarded update: the loser observes the revoked row and is
// routed into the reuse path, which revokes the entire family.
func (l *Ledger) Rotate(ctx context.Context, st Store, presented string) (string, *Record, error) {
	rec, err := st.FindByHash(ctx, HashSecret(presented))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidToken
		}
		return "", nil, err
	}
	now := l.now().UTC()
	if rec.Revoked {
		return "", nil, l.compromised(ctx, st, rec.FamilyID, now)
	}
	if now.After(rec.ExpiresAt) {
		return "", nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	flipped, err := st.Revoke(ctx, rec.ID, now)
	if err != nil {
		return "", nil, err
	}
	if !flipped {
		// A concurrent rotation won the guarded update between our read
		// and this write. Treat it exactly like a replay.
		return "", nil, l.compromised(ctx, st, rec.FamilyID, now)
	}
	return l.Issue(ctx, st, rec.UserID, rec.FamilyID)
}

func (l *Ledger) compromised(ctx context.Context, st Store, familyID string, at time.Time) error {
	if _, err := st.RevokeFamily(ctx, familyID, at); err != nil {
		return err
	}
	obs.CountTokenReuse()
	return ErrCompromised
}

// RevokeBySecret revokes the single presented token, leaving the rest of its
// family alive. It reports whether a live record was actually revoked.
func (l *Ledger) RevokeBySecret(ctx context.Context, st Store, presented string) (bool, error) {
	rec, err := st.FindByHash(ctx, HashSecret(presented))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrInvalidToken
		}
		return false, err
	}
	return st.Revoke(ctx, rec.ID, l.now().UTC())
}

// RevokeOne revokes a record by id. Already-revoked rows count as zero, not
// as an error.
func (l *Ledger) RevokeOne(ctx context.Context, st Store, id string) (int64, error) {
	flipped, err := st.Revoke(ctx, id, l.now().UTC())
	if err != nil {
		return 0, err
	}
	if flipped {
		return 1, nil
	}
	return 0, nil
}

// RevokeAllForUser revokes every live token for the user across all
// families and devices.
func (l *Ledger) RevokeAllForUser(ctx context.Context, st Store, userID string) (int64, error) {
	return st.RevokeAllForUser(ctx, userID, l.now().UTC())
}

// RevokeFamily revokes every token descended from one login.
func (l *Ledger) RevokeFamily(ctx context.Context, st Store, familyID string) (int64, error) {
	return st.RevokeFamily(ctx, familyID, l.now().UTC())
}
