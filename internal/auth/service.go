package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"emerald.finance/internal/audit"
	"emerald.finance/internal/ids"
	"emerald.finance/internal/token"
)

// Service composes credential verification, the token ledger, and the audit
// recorder into atomic, auditable flows. Every state-changing flow wraps its
// business mutation and its audit append in one transaction.
type Service struct {
	store    Store
	codec    *Codec
	ledger   *token.Ledger
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth orchestrator.
func NewService(store Store, codec *Codec, ledger *token.Ledger, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil || ledger == nil || recorder == nil {
		return nil, errors.New("auth: store, codec, ledger, and recorder are required")
	}
	s := &Service{
		store:    store,
		codec:    codec,
		ledger:   ledger,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TokenPair carries both bearer secrets and their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Register creates a user, issues a fresh token family, and records a CREATE
// event carrying the new username and email (never the password).
func (s *Service) Register(ctx context.Context, email, username, password string, meta audit.RequestMeta) (*User, TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, TokenPair{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if username == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, TokenPair{}, fmt.Errorf("%w: email is taken", ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, TokenPair{}, err
	}
	if _, err := s.store.Users().FindByUsername(ctx, username); err == nil {
		return nil, TokenPair{}, fmt.Errorf("%w: username is taken", ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, TokenPair{}, err
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var pair TokenPair
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Users().Create(ctx, user); err != nil {
			return err
		}
		var err error
		pair, err = s.mintPair(ctx, user.ID, "")
		if err != nil {
			return err
		}
		e := &audit.Event{
			ActorID:     &user.ID,
			Action:      audit.ActionCreate,
			EntityType:  audit.EntityUser,
			EntityID:    &user.ID,
			NewValues:   map[string]any{"email": user.Email, "username": user.Username},
			Description: "user registered",
		}
		meta.Apply(e)
		_, err = s.recorder.Record(ctx, s.store.Audit(), e)
		return err
	})
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Login verifies credentials and issues a fresh token family. Missing users
// and wrong passwords fail identically; failed attempts are audited without
// an actor since the identity is unproven.
func (s *Service) Login(ctx context.Context, email, password string, meta audit.RequestMeta) (*User, TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, TokenPair{}, s.failLogin(ctx, email, meta)
		}
		return nil, TokenPair{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, s.failLogin(ctx, email, meta)
	}

	var pair TokenPair
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		if err := s.store.Users().UpdateLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		user.LastLoginAt = &now
		var err error
		pair, err = s.mintPair(ctx, user.ID, "")
		if err != nil {
			return err
		}
		_, err = s.recorder.Login(ctx, s.store.Audit(), &user.ID, email, true, meta)
		return err
	})
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *Service) failLogin(ctx context.Context, email string, meta audit.RequestMeta) error {
	if _, err := s.recorder.Login(ctx, s.store.Audit(), nil, email, false, meta); err != nil {
		return err
	}
	return ErrInvalidCredentials
}

// Refresh rotates the presented refresh secret. The transaction commits even
// when rotation fails so that a reuse-triggered family revocation and its
// failure event survive the rejected request.
func (s *Service) Refresh(ctx context.Context, refreshSecret string, meta audit.RequestMeta) (TokenPair, error) {
	claims, err := s.codec.DecodeRefresh(refreshSecret)
	if err != nil {
		if _, aerr := s.recorder.TokenRefresh(ctx, s.store.Audit(), nil, false, "undecodable refresh token", meta); aerr != nil {
			return TokenPair{}, aerr
		}
		return TokenPair{}, token.ErrInvalidToken
	}
	userID := claims.Subject

	var pair TokenPair
	var rotateErr error
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		secret, rec, err := s.ledger.Rotate(ctx, s.store.RefreshTokens(), refreshSecret)
		if err != nil {
			if !errors.Is(err, token.ErrInvalidToken) && !errors.Is(err, token.ErrCompromised) {
				return err
			}
			rotateErr = err
			_, aerr := s.recorder.TokenRefresh(ctx, s.store.Audit(), &userID, false, err.Error(), meta)
			return aerr
		}
		access, accessExp, err := s.codec.MintAccess(rec.UserID)
		if err != nil {
			return err
		}
		pair = TokenPair{
			AccessToken:      access,
			RefreshToken:     secret,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: rec.ExpiresAt,
		}
		_, err = s.recorder.TokenRefresh(ctx, s.store.Audit(), &userID, true, "", meta)
		return err
	})
	if err != nil {
		return TokenPair{}, err
	}
	if rotateErr != nil {
		return TokenPair{}, rotateErr
	}
	return pair, nil
}

// Logout revokes the single presented refresh token; the rest of its family
// (other devices) stays valid.
func (s *Service) Logout(ctx context.Context, refreshSecret string, meta audit.RequestMeta) error {
	claims, err := s.codec.DecodeRefresh(refreshSecret)
	if err != nil {
		return token.ErrInvalidToken
	}
	userID := claims.Subject

	var revokeErr error
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.ledger.RevokeBySecret(ctx, s.store.RefreshTokens(), refreshSecret); err != nil {
			if !errors.Is(err, token.ErrInvalidToken) {
				return err
			}
			revokeErr = err
			_, aerr := s.recorder.Logout(ctx, s.store.Audit(), userID, false, "unknown refresh token", meta)
			return aerr
		}
		_, err := s.recorder.Logout(ctx, s.store.Audit(), userID, true, "", meta)
		return err
	})
	if err != nil {
		return err
	}
	return revokeErr
}

// ChangePassword re-hashes the password and revokes every refresh token the
// user holds, across all families and devices.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, meta audit.RequestMeta) error {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, currentPassword); err != nil {
		if _, aerr := s.recorder.PasswordChange(ctx, s.store.Audit(), userID, false, "invalid credentials", meta); aerr != nil {
			return aerr
		}
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Users().UpdatePasswordHash(ctx, user.ID, hash); err != nil {
			return err
		}
		if _, err := s.ledger.RevokeAllForUser(ctx, s.store.RefreshTokens(), user.ID); err != nil {
			return err
		}
		_, err := s.recorder.PasswordChange(ctx, s.store.Audit(), user.ID, true, "", meta)
		return err
	})
}

// Authenticate verifies an access secret and loads its user. Unknown or
// deleted subjects read as an invalid token.
func (s *Service) Authenticate(ctx context.Context, accessSecret string) (*User, error) {
	claims, err := s.codec.DecodeAccess(accessSecret)
	if err != nil {
		return nil, token.ErrInvalidToken
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, token.ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) mintPair(ctx context.Context, userID, familyID string) (TokenPair, error) {
	access, accessExp, err := s.codec.MintAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.ledger.Issue(ctx, s.store.RefreshTokens(), userID, familyID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
