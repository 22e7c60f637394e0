package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Level is a rung on the account access hierarchy. Higher values strictly
// include the capabilities of lower ones.
type Level int

const (
	LevelNone   Level = 0
	LevelViewer Level = 1
	LevelEditor Level = 2
	LevelOwner  Level = 3
)

func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "viewer"
	case LevelEditor:
		return "editor"
	case LevelOwner:
		return "owner"
	default:
		return "none"
	}
}

// Satisfies reports whether the level meets a minimum requirement.
func (l Level) Satisfies(min Level) bool { return l >= min }

// Grantable reports whether the level may appear in a stored grant row.
// Ownership is implicit on the account record and is never granted.
func (l Level) Grantable() bool { return l == LevelViewer || l == LevelEditor }

// MarshalJSON renders the level as its wire name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON parses the wire name back into a Level.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a wire value into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "viewer":
		return LevelViewer, nil
	case "editor":
		return LevelEditor, nil
	case "owner":
		return LevelOwner, nil
	default:
		return LevelNone, fmt.Errorf("unknown access level %q", s)
	}
}

// Grant is one user's explicit access to one account. Revoked grants are kept
// for the audit trail and excluded from active lookups.
type Grant struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	UserID    string     `json:"user_id"`
	Level     Level      `json:"level"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the grant still confers access.
func (g *Grant) Active() bool { return g.RevokedAt == nil }

// GrantStore manages explicit grant rows.
type GrantStore interface {
	Create(ctx context.Context, g *Grant) error
	Find(ctx context.Context, id string) (*Grant, error)
	FindActive(ctx context.Context, accountID, userID string) (*Grant, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*Grant, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*Grant, error)
	UpdateLevel(ctx context.Context, id string, level Level) error
	Revoke(ctx context.Context, id string, at time.Time) error
}

// AccountLookup answers who owns an account. Implementations return
// ErrNotFound for missing or soft-deleted accounts.
type AccountLookup interface {
	AccountOwner(ctx context.Context, accountID string) (string, error)
}
