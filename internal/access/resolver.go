package access

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a missing account and a caller with no access
	// at all. The two are merged on purpose so that unauthorized callers
	// cannot probe for account existence.
	ErrNotFound = errors.New("access: not found")

	// ErrPermissionDenied means the caller has some access, just not enough.
	ErrPermissionDenied = errors.New("access: permission denied")

	// ErrAlreadyExists means the user already holds an active grant on the
	// account.
	ErrAlreadyExists = errors.New("access: grant already exists")
)

// DeniedReason distinguishes the two Require failure modes internally.
// Both collapse to one observable shape at the HTTP boundary.
type DeniedReason int

const (
	ReasonNotFound DeniedReason = iota
	ReasonInsufficientLevel
)

// Error is the typed failure returned by Require.
type Error struct {
	Reason   DeniedReason
	Required Level
	Actual   Level
}

func (e *Error) Error() string {
	if e.Reason == ReasonNotFound {
		return "account not found"
	}
	return fmt.Sprintf("requires %s access, have %s", e.Required, e.Actual)
}

// Is lets callers match against the package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Reason == ReasonNotFound
	case ErrPermissionDenied:
		return e.Reason == ReasonInsufficientLevel
	}
	return false
}

// Resolver answers what a user may do to an account. It is a pure read over
// the account record and the active grant rows.
type Resolver struct {
	accounts AccountLookup
	grants   GrantStore
}

// NewResolver constructs a Resolver.
func NewResolver(accounts AccountLookup, grants GrantStore) (*Resolver, error) {
	if accounts == nil || grants == nil {
		return nil, errors.New("access: account lookup and grant store are required")
	}
	return &Resolver{accounts: accounts, grants: grants}, nil
}

// Resolve returns the user's effective level on the account. The account's
// creator is the implicit owner and needs no grant row. A missing account
// surfaces as a not-found Error so callers cannot tell it apart from having
// no access.
func (r *Resolver) Resolve(ctx context.Context, userID, accountID string) (Level, error) {
	ownerID, err := r.accounts.AccountOwner(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LevelNone, &Error{Reason: ReasonNotFound}
		}
		return LevelNone, err
	}
	if ownerID == userID {
		return LevelOwner, nil
	}
	grant, err := r.grants.FindActive(ctx, accountID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LevelNone, nil
		}
		return LevelNone, err
	}
	return grant.Level, nil
}

// Require fails unless the user's level meets the minimum. No access at all
// reads as not-found; some access below the minimum reads as denied, naming
// both levels.
func (r *Resolver) Require(ctx context.Context, userID, accountID string, min Level) (Level, error) {
	level, err := r.Resolve(ctx, userID, accountID)
	if err != nil {
		return LevelNone, err
	}
	if level == LevelNone {
		return LevelNone, &Error{Reason: ReasonNotFound}
	}
	if !level.Satisfies(min) {
		return level, &Error{Reason: ReasonInsufficientLevel, Required: min, Actual: level}
	}
	return level, nil
}

// IsOwner reports whether the user resolves as the account's owner.
func (r *Resolver) IsOwner(ctx context.Context, userID, accountID string) (bool, error) {
	level, err := r.Resolve(ctx, userID, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return level == LevelOwner, nil
}

// CanRead reports whether the user may view the account.
func (r *Resolver) CanRead(ctx context.Context, userID, accountID string) (bool, error) {
	return r.atLeast(ctx, userID, accountID, LevelViewer)
}

// CanWrite reports whether the user may mutate the account's contents.
func (r *Resolver) CanWrite(ctx context.Context, userID, accountID string) (bool, error) {
	return r.atLeast(ctx, userID, accountID, LevelEditor)
}

func (r *Resolver) atLeast(ctx context.Context, userID, accountID string, min Level) (bool, error) {
	level, err := r.Resolve(ctx, userID, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return level.Satisfies(min), nil
}
