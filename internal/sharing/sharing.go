// Package sharing manages permission grants on accounts. Every mutation is
// owner-gated through the access resolver and lands in the same transaction
// as its audit event.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emerald.finance/internal/access"
	"emerald.finance/internal/audit"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/ids"
)

// ErrInvalidInput covers self-shares, owner-level grants and other malformed
// requests.
var ErrInvalidInput = errors.New("sharing: invalid input")

// Store aggregates the persistence the sharing service needs.
type Store interface {
	Users() auth.UserStore
	Grants() access.GrantStore
	Audit() audit.Store
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements owner-gated grant management.
type Service struct {
	store    Store
	resolver *access.Resolver
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, resolver *access.Resolver, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Share grants targetUserID the given level on the account. The caller must
// resolve as owner; owner itself is never grantable and the owner cannot
// share with themselves. An existing active grant for the target fails with
// ErrAlreadyExists.
func (s *Service) Share(ctx context.Context, callerID, accountID, targetUserID string, level access.Level, meta audit.RequestMeta) (*access.Grant, error) {
	if _, err := s.resolver.Require(ctx, callerID, accountID, access.LevelOwner); err != nil {
		return nil, err
	}
	if targetUserID == callerID {
		return nil, fmt.Errorf("%w: cannot share an account with its owner", ErrInvalidInput)
	}
	if !level.Grantable() {
		return nil, fmt.Errorf("%w: level %s is not grantable", ErrInvalidInput, level)
	}
	if _, err := s.store.Users().Find(ctx, targetUserID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrInvalidInput)
		}
		return nil, fmt.Errorf("find target user: %w", err)
	}
	if _, err := s.store.Grants().FindActive(ctx, accountID, targetUserID); err == nil {
		return nil, access.ErrAlreadyExists
	} else if !errors.Is(err, access.ErrNotFound) {
		return nil, fmt.Errorf("check existing grant: %w", err)
	}

	now := s.now()
	grant := &access.Grant{
		ID:        ids.New(),
		AccountID: accountID,
		UserID:    targetUserID,
		Level:     level,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Grants().Create(ctx, grant); err != nil {
			return fmt.Errorf("create grant: %w", err)
		}
		e := &audit.Event{
			ActorID:     &callerID,
			Action:      audit.ActionCreate,
			EntityType:  audit.EntityGrant,
			EntityID:    &grant.ID,
			Description: "account shared",
			NewValues: map[string]any{
				"account_id": accountID,
				"user_id":    targetUserID,
				"level":      level.String(),
			},
		}
		meta.Apply(e)
		_, err := s.recorder.Record(ctx, s.store.Audit(), e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// UpdateShare changes the level of an existing grant. The caller must own
// the grant's account and the new level must be grantable.
func (s *Service) UpdateShare(ctx context.Context, callerID, grantID string, newLevel access.Level, meta audit.RequestMeta) (*access.Grant, error) {
	grant, err := s.activeGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if _, err := s.resolver.Require(ctx, callerID, grant.AccountID, access.LevelOwner); err != nil {
		return nil, err
	}
	if !newLevel.Grantable() {
		return nil, fmt.Errorf("%w: level %s is not grantable", ErrInvalidInput, newLevel)
	}
	// Owner grants are implicit and never stored; a stored owner-level row
	// pointing at the caller would be corrupt data, so refuse to touch it.
	if grant.Level == access.LevelOwner && grant.UserID == callerID {
		return nil, fmt.Errorf("%w: cannot modify the owner's access", ErrInvalidInput)
	}
	oldLevel := grant.Level

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Grants().UpdateLevel(ctx, grant.ID, newLevel); err != nil {
			return fmt.Errorf("update grant level: %w", err)
		}
		e := &audit.Event{
			ActorID:     &callerID,
			Action:      audit.ActionUpdate,
			EntityType:  audit.EntityGrant,
			EntityID:    &grant.ID,
			Description: "share level changed",
			OldValues:   map[string]any{"level": oldLevel.String()},
			NewValues:   map[string]any{"level": newLevel.String()},
		}
		meta.Apply(e)
		_, err := s.recorder.Record(ctx, s.store.Audit(), e)
		return err
	})
	if err != nil {
		return nil, err
	}
	grant.Level = newLevel
	grant.UpdatedAt = s.now()
	return grant, nil
}

// RevokeShare soft-deletes a grant. The row stays behind for the audit
// trail but no longer counts as active access.
func (s *Service) RevokeShare(ctx context.Context, callerID, grantID string, meta audit.RequestMeta) error {
	grant, err := s.activeGrant(ctx, grantID)
	if err != nil {
		return err
	}
	if _, err := s.resolver.Require(ctx, callerID, grant.AccountID, access.LevelOwner); err != nil {
		return err
	}
	if grant.Level == access.LevelOwner && grant.UserID == callerID {
		return fmt.Errorf("%w: cannot revoke the owner's access", ErrInvalidInput)
	}

	now := s.now()
	return s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Grants().Revoke(ctx, grant.ID, now); err != nil {
			return fmt.Errorf("revoke grant: %w", err)
		}
		e := &audit.Event{
			ActorID:     &callerID,
			Action:      audit.ActionDelete,
			EntityType:  audit.EntityGrant,
			EntityID:    &grant.ID,
			Description: "share revoked",
			OldValues: map[string]any{
				"account_id": grant.AccountID,
				"user_id":    grant.UserID,
				"level":      grant.Level.String(),
			},
		}
		meta.Apply(e)
		_, err := s.recorder.Record(ctx, s.store.Audit(), e)
		return err
	})
}

// ListShares returns the active grants on an account. The owner sees all of
// them; anyone else with access sees only their own grant, so non-owners
// cannot enumerate who else the account is shared with.
func (s *Service) ListShares(ctx context.Context, callerID, accountID string) ([]*access.Grant, error) {
	level, err := s.resolver.Require(ctx, callerID, accountID, access.LevelViewer)
	if err != nil {
		return nil, err
	}
	if level == access.LevelOwner {
		grants, err := s.store.Grants().ListActiveByAccount(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("list grants: %w", err)
		}
		return grants, nil
	}
	grant, err := s.store.Grants().FindActive(ctx, accountID, callerID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find grant: %w", err)
	}
	return []*access.Grant{grant}, nil
}

func (s *Service) activeGrant(ctx context.Context, grantID string) (*access.Grant, error) {
	grant, err := s.store.Grants().Find(ctx, grantID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil, access.ErrNotFound
		}
		return nil, fmt.Errorf("find grant: %w", err)
	}
	if !grant.Active() {
		return nil, access.ErrNotFound
	}
	return grant, nil
}
