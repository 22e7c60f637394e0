package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"emerald.finance/internal/auth"
)

type userStore Store

const userColumns = `id, email, username, password_hash, is_admin, last_login_at, created_at, updated_at, deleted_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		insert into users (id, email, username, password_hash, is_admin, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt, u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findBy(ctx, `lower(email) = lower($1)`, email)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findBy(ctx, `username = $1`, username)
}

func (s *userStore) findBy(ctx context.Context, where string, arg any) (*auth.User, error) {
	row := (*Store)(s).q(ctx).QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where `+where+` and deleted_at is null
	`, arg)
	return scanUser(row)
}

func (s *userStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where id = $1 and deleted_at is null
	`, id, hash)
	if err != nil {
		return err
	}
	return mustAffect(res, auth.ErrNotFound)
}

func (s *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		update users set last_login_at = $2
		where id = $1 and deleted_at is null
	`, id, at)
	if err != nil {
		return err
	}
	return mustAffect(res, auth.ErrNotFound)
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.IsAdmin, &lastLogin, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func mustAffect(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
