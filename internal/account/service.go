package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"emerald.finance/internal/access"
	"emerald.finance/internal/audit"
	"emerald.finance/internal/ids"
)

// AccountStore persists account records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Account, error)
}

// Store aggregates the persistence the account service needs. Mutations run
// through InTx so the account write and its audit event land together.
type Store interface {
	Accounts() AccountStore
	Grants() access.GrantStore
	Audit() audit.Store
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service manages accounts and answers reads through the permission
// resolver.
type Service struct {
	store    Store
	resolver *access.Resolver
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock, used in tests.
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

// Create opens a new account owned by ownerID and records the creation.
func (s *Service) Create(ctx context.Context, ownerID, name, currency string, meta audit.RequestMeta) (*Account, error) {
	name = strings.TrimSpace(name)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}

	now := s.now()
	acc := &Account{
		ID:        ids.New(),
		OwnerID:   ownerID,
		Name:      name,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Accounts().Create(ctx, acc); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		e := &audit.Event{
			ActorID:     &ownerID,
			Action:      audit.ActionCreate,
			EntityType:  audit.EntityAccount,
			EntityID:    &acc.ID,
			Description: "account created",
			NewValues:   map[string]any{"name": acc.Name, "currency": acc.Currency},
		}
		meta.Apply(e)
		_, err := s.recorder.Record(ctx, s.store.Audit(), e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Get returns the account if userID can at least view it. Accounts the user
// cannot see report not found rather than denied.
func (s *Service) Get(ctx context.Context, userID, accountID string) (*Account, error) {
	if _, err := s.resolver.Require(ctx, userID, accountID, access.LevelViewer); err != nil {
		return nil, err
	}
	acc, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return acc, nil
}

// List returns the accounts userID owns plus those shared with them through
// an active grant.
func (s *Service) List(ctx context.Context, userID string) ([]*Account, error) {
	owned, err := s.store.Accounts().ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned accounts: %w", err)
	}
	grants, err := s.store.Grants().ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	out := owned
	seen := make(map[string]bool, len(owned))
	for _, a := range owned {
		seen[a.ID] = true
	}
	for _, g := range grants {
		if seen[g.AccountID] {
			continue
		}
		acc, err := s.store.Accounts().Find(ctx, g.AccountID)
		if err != nil {
			// Shared account deleted after the grant; skip it.
			continue
		}
		seen[acc.ID] = true
		out = append(out, acc)
	}
	return out, nil
}
