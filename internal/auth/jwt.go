package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"emerald.finance/internal/token"
)

const (
	defaultIssuer    = "emerald"
	defaultAccessTTL = 15 * time.Minute

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the JWT claims carried by both bearer secret kinds. Refresh
// secrets additionally embed the family identifier so a decoded secret can
// be tied back to its login lineage.
type Claims struct {
	TokenType string `json:"token_type"`
	FamilyID  string `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

// Codec mints and decodes the signed bearer secrets. Access secrets are
// short-lived and verified on every request; refresh secrets are long-lived
// and only ever matched by hash in the token ledger, so decoding one is a
// type check, not a validity check.
type Codec struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		if s := strings.TrimSpace(issuer); s != "" {
			c.issuer = s
		}
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec signing with HS256.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	c := &Codec{
		secret:    []byte(secret),
		issuer:    defaultIssuer,
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL exposes the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// MintAccess signs a short-lived access secret for the user.
func (c *Codec) MintAccess(userID string) (string, time.Time, error) {
	now := c.now().UTC()
	exp := now.Add(c.accessTTL)
	signed, err := c.sign(Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// MintRefresh signs a refresh secret embedding the subject, family id, and
// record id. It implements token.SecretMinter.
func (c *Codec) MintRefresh(userID, familyID, tokenID string, expiresAt time.Time) (string, error) {
	now := c.now().UTC()
	return c.sign(Claims{
		TokenType: tokenTypeRefresh,
		FamilyID:  familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        tokenID,
		},
	})
}

// DecodeAccess verifies an access secret and returns its claims.
func (c *Codec) DecodeAccess(raw string) (*Claims, error) {
	return c.decode(raw, tokenTypeAccess)
}

// DecodeRefresh verifies a refresh secret's signature and type. Revocation
// and reuse state live in the ledger, not in the secret.
func (c *Codec) DecodeRefresh(raw string) (*Claims, error) {
	return c.decode(raw, tokenTypeRefresh)
}

func (c *Codec) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c *Codec) decode(raw, wantType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, token.ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, token.ErrInvalidToken
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		return nil, token.ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, token.ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, token.ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, token.ErrInvalidToken
	}
	return claims, nil
}
