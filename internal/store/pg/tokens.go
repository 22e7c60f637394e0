package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"emerald.finance/internal/token"
)

type tokenStore Store

const tokenColumns = `id, user_id, family_id, token_hash, expires_at, created_at, is_revoked, revoked_at`

func (s *tokenStore) Create(ctx context.Context, rec *token.Record) error {
	_, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, family_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.UserID, rec.FamilyID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt)
	return err
}

func (s *tokenStore) FindByHash(ctx context.Context, hash string) (*token.Record, error) {
	var (
		rec       token.Record
		revokedAt sql.NullTime
	)
	err := (*Store)(s).q(ctx).QueryRowContext(ctx, `
		select `+tokenColumns+`
		from refresh_tokens
		where token_hash = $1
	`, hash).Scan(&rec.ID, &rec.UserID, &rec.FamilyID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt, &rec.Revoked, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

// Revoke flips a single token. The is_revoked guard makes the update atomic:
// when two rotations race, only one sees a row flip and the loser reads
// false, which routes it into reuse detection.
func (s *tokenStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		update refresh_tokens set is_revoked = true, revoked_at = $2
		where id = $1 and not is_revoked
	`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *tokenStore) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	return s.revokeWhere(ctx, `family_id = $1`, familyID, at)
}

func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	return s.revokeWhere(ctx, `user_id = $1`, userID, at)
}

func (s *tokenStore) revokeWhere(ctx context.Context, where string, arg any, at time.Time) (int64, error) {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		update refresh_tokens set is_revoked = true, revoked_at = $2
		where `+where+` and not is_revoked
	`, arg, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *tokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		delete from refresh_tokens where expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
