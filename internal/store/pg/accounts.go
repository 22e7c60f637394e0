package pg

import (
	"context"
	"database/sql"
	"errors"

	"emerald.finance/internal/access"
	"emerald.finance/internal/account"
)

type accountStore Store

const accountColumns = `id, owner_id, name, currency, created_at, updated_at, deleted_at`

func (s *accountStore) Create(ctx context.Context, a *account.Account) error {
	_, err := (*Store)(s).q(ctx).ExecContext(ctx, `
		insert into accounts (id, owner_id, name, currency, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.OwnerID, a.Name, a.Currency, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *accountStore) Find(ctx context.Context, id string) (*account.Account, error) {
	row := (*Store)(s).q(ctx).QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where id = $1 and deleted_at is null
	`, id)
	return scanAccount(row)
}

func (s *accountStore) ListByOwner(ctx context.Context, ownerID string) ([]*account.Account, error) {
	rows, err := (*Store)(s).q(ctx).QueryContext(ctx, `
		select `+accountColumns+`
		from accounts
		where owner_id = $1 and deleted_at is null
		order by created_at desc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*account.Account
	for rows.Next() {
		var (
			a         account.Account
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Currency, &a.CreatedAt, &a.UpdatedAt, &deletedAt); err != nil {
			return nil, err
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AccountOwner implements access.AccountLookup.
func (s *Store) AccountOwner(ctx context.Context, accountID string) (string, error) {
	var ownerID string
	err := s.q(ctx).QueryRowContext(ctx, `
		select owner_id from accounts where id = $1 and deleted_at is null
	`, accountID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

func scanAccount(row *sql.Row) (*account.Account, error) {
	var (
		a         account.Account
		deletedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Currency, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	return &a, nil
}
