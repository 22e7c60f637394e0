// Package memory implements the persistence contracts in process. It backs
// the orchestrator tests and local development; transaction semantics are
// snapshot-and-restore, which matches the commit/rollback atomicity the
// orchestrators rely on.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"emerald.finance/internal/access"
	"emerald.finance/internal/account"
	"emerald.finance/internal/audit"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/token"
)

// Store holds all entity tables behind one mutex. It implements the
// aggregate store interfaces of the auth, sharing, and account packages plus
// access.AccountLookup.
type Store struct {
	mu sync.Mutex

	users    map[string]*auth.User
	accounts map[string]*account.Account
	grants   map[string]*access.Grant
	tokens   map[string]*token.Record
	events   []*audit.Event

	appendErr error
}

var _ access.AccountLookup = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*auth.User),
		accounts: make(map[string]*account.Account),
		grants:   make(map[string]*access.Grant),
		tokens:   make(map[string]*token.Record),
	}
}

func (s *Store) Users() auth.UserStore          { return (*userStore)(s) }
func (s *Store) Accounts() account.AccountStore { return (*accountStore)(s) }
func (s *Store) Grants() access.GrantStore      { return (*grantStore)(s) }
func (s *Store) RefreshTokens() token.Store     { return (*tokenStore)(s) }
func (s *Store) Audit() audit.Store             { return (*auditStore)(s) }

// InTx runs fn and restores the pre-transaction state if it fails. The
// context is passed through unchanged; the in-memory tables have no
// per-connection state to bind.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users    map[string]*auth.User
	accounts map[string]*account.Account
	grants   map[string]*access.Grant
	tokens   map[string]*token.Record
	events   []*audit.Event
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users:    make(map[string]*auth.User, len(s.users)),
		accounts: make(map[string]*account.Account, len(s.accounts)),
		grants:   make(map[string]*access.Grant, len(s.grants)),
		tokens:   make(map[string]*token.Record, len(s.tokens)),
		events:   make([]*audit.Event, len(s.events)),
	}
	for id, u := range s.users {
		cp := *u
		snap.users[id] = &cp
	}
	for id, a := range s.accounts {
		cp := *a
		snap.accounts[id] = &cp
	}
	for id, g := range s.grants {
		cp := *g
		snap.grants[id] = &cp
	}
	for id, t := range s.tokens {
		cp := *t
		snap.tokens[id] = &cp
	}
	copy(snap.events, s.events)
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.accounts = snap.accounts
	s.grants = snap.grants
	s.tokens = snap.tokens
	s.events = snap.events
}

// SetAdmin flips the admin flag on a user. Admin bootstrap has no API
// surface, so tests and local seeding go through the store directly.
func (s *Store) SetAdmin(userID string, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.IsAdmin = admin
	}
}

// FailNextAppend makes the next audit append return err. Tests use it to
// prove a mutation rolls back together with its audit row.
func (s *Store) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// AccountOwner implements access.AccountLookup.
func (s *Store) AccountOwner(ctx context.Context, accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok || acc.Deleted() {
		return "", access.ErrNotFound
	}
	return acc.OwnerID, nil
}

// User store -------------------------------------------------------------

type userStore Store

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.DeletedAt != nil {
			continue
		}
		if strings.EqualFold(existing.Email, u.Email) || existing.Username == u.Username {
			return auth.ErrAlreadyExists
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DeletedAt == nil && u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// Account store ----------------------------------------------------------

type accountStore Store

func (s *accountStore) Create(ctx context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *accountStore) Find(ctx context.Context, id string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.Deleted() {
		return nil, account.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *accountStore) ListByOwner(ctx context.Context, ownerID string) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*account.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID && !a.Deleted() {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Grant store ------------------------------------------------------------

type grantStore Store

func (s *grantStore) Create(ctx context.Context, g *access.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *grantStore) Find(ctx context.Context, id string) (*access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *grantStore) FindActive(ctx context.Context, accountID, userID string) (*access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.AccountID == accountID && g.UserID == userID && g.Active() {
			cp := *g
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *grantStore) ListActiveByAccount(ctx context.Context, accountID string) ([]*access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*access.Grant
	for _, g := range s.grants {
		if g.AccountID == accountID && g.Active() {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *grantStore) ListActiveByUser(ctx context.Context, userID string) ([]*access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*access.Grant
	for _, g := range s.grants {
		if g.UserID == userID && g.Active() {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *grantStore) UpdateLevel(ctx context.Context, id string, level access.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return access.ErrNotFound
	}
	g.Level = level
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *grantStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return access.ErrNotFound
	}
	if g.RevokedAt == nil {
		t := at
		g.RevokedAt = &t
		g.UpdatedAt = at
	}
	return nil
}

// Refresh token store ----------------------------------------------------

type tokenStore Store

func (s *tokenStore) Create(ctx context.Context, rec *token.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.tokens[rec.ID] = &cp
	return nil
}

func (s *tokenStore) FindByHash(ctx context.Context, hash string) (*token.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.tokens {
		if rec.TokenHash == hash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, token.ErrNotFound
}

func (s *tokenStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[id]
	if !ok || rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	t := at
	rec.RevokedAt = &t
	return true, nil
}

func (s *tokenStore) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.tokens {
		if rec.FamilyID == familyID && !rec.Revoked {
			rec.Revoked = true
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.tokens {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *tokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.tokens {
		if rec.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Audit store ------------------------------------------------------------

type auditStore Store

func (s *auditStore) Append(ctx context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		err := s.appendErr
		s.appendErr = nil
		return err
	}
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *auditStore) ListForUser(ctx context.Context, userID string, f audit.Filter, p audit.Page) ([]*audit.Event, int64, error) {
	return s.list(func(e *audit.Event) bool {
		return e.ActorID != nil && *e.ActorID == userID
	}, f, p)
}

func (s *auditStore) ListAll(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Event, int64, error) {
	return s.list(func(*audit.Event) bool { return true }, f, p)
}

func (s *auditStore) list(match func(*audit.Event) bool, f audit.Filter, p audit.Page) ([]*audit.Event, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hits []*audit.Event
	for _, e := range s.events {
		if match(e) && f.Match(e) {
			cp := *e
			hits = append(hits, &cp)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	total := int64(len(hits))
	p = p.Clamp()
	if p.Offset >= len(hits) {
		return nil, total, nil
	}
	hits = hits[p.Offset:]
	if len(hits) > p.Limit {
		hits = hits[:p.Limit]
	}
	return hits, total, nil
}
