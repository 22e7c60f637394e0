package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"emerald.finance/internal/access"
)

type grantStore Store

const grantColumns = `id, account_id, user_id, level, created_at, updated_at, revoked_at`

func (s *grantStore) Create(ctx context.Context, g *access.Grant) error {
	_, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		insert into account_grants (id, account_id, user_id, level, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.AccountID, g.UserID, int(g.Level), g.CreatedAt, g.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return access.ErrAlreadyExists
	}
	return err
}

func (s *grantStore) Find(ctx context.Context, id string) (*access.Grant, error) {
	row := (*Store)(s).q(ctx).QueryRowContext(ctx, `
		select `+grantColumns+`
		from account_grants
		where id = $1
	`, id)
	return scanGrant(row)
}

func (s *grantStore) FindActive(ctx context.Context, accountID, userID string) (*access.Grant, error) {
	row := (*Store)(s).q(ctx).QueryRowContext(ctx, `
		select `+grantColumns+`
		from account_grants
		where account_id = $1 and user_id = $2 and revoked_at is null
	`, accountID, userID)
	return scanGrant(row)
}

func (s *grantStore) ListActiveByAccount(ctx context.Context, accountID string) ([]*access.Grant, error) {
	return s.listActive(ctx, `account_id = $1`, accountID)
}

func (s *grantStore) ListActiveByUser(ctx context.Context, userID string) ([]*access.Grant, error) {
	return s.listActive(ctx, `user_id = $1`, userID)
}

func (s *grantStore) listActive(ctx context.Context, where string, arg any) ([]*access.Grant, error) {
	rows, err := (*Store)(s).q(ctx).QueryContext(ctx, `
		select `+grantColumns+`
		from account_grants
		where `+where+` and revoked_at is null
		order by created_at desc
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*access.Grant
	for rows.Next() {
		var (
			g         access.Grant
			level     int
			revokedAt sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.AccountID, &g.UserID, &level, &g.CreatedAt, &g.UpdatedAt, &revokedAt); err != nil {
			return nil, err
		}
		g.Level = access.Level(level)
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *grantStore) UpdateLevel(ctx context.Context, id string, level access.Level) error {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		update account_grants set level = $2, updated_at = now()
		where id = $1
	`, id, int(level))
	if err != nil {
		return err
	}
	return mustAffect(res, access.ErrNotFound)
}

func (s *grantStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		update account_grants set revoked_at = $2, updated_at = $2
		where id = $1 and revoked_at is null
	`, id, at)
	if err != nil {
		return err
	}
	return mustAffect(res, access.ErrNotFound)
}

func scanGrant(row *sql.Row) (*access.Grant, error) {
	var (
		g         access.Grant
		level     int
		revokedAt sql.NullTime
	)
	err := row.Scan(&g.ID, &g.AccountID, &g.UserID, &level, &g.CreatedAt, &g.UpdatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Level = access.Level(level)
	if revokedAt.Valid {
		t := revokedAt.Time
		g.RevokedAt = &t
	}
	return &g, nil
}
