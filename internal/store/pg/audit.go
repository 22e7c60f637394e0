package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"emerald.finance/internal/audit"
)

type auditStore Store

const auditColumns = `id, actor_id, action, entity_type, entity_id, old_values, new_values,
	description, client_ip, user_agent, correlation_id, status, error_message, extra, created_at`

func (s *auditStore) Append(ctx context.Context, e *audit.Event) error {
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	extraJSON, err := marshalValues(e.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	_, err = (*Store)(s).q(ctx).ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, entity_type, entity_id, old_values, new_values,
			description, client_ip, user_agent, correlation_id, status, error_message, extra, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, e.ActorID, string(e.Action), e.EntityType, e.EntityID, oldJSON, newJSON,
		nullIfEmpty(e.Description), nullIfEmpty(e.ClientIP), nullIfEmpty(e.UserAgent),
		nullIfEmpty(e.CorrelationID), string(e.Status), nullIfEmpty(e.ErrorMessage), extraJSON, e.CreatedAt)
	return err
}

func (s *auditStore) ListForUser(ctx context.Context, userID string, f audit.Filter, p audit.Page) ([]*audit.Event, int64, error) {
	return s.list(ctx, `actor_id = $1`, []any{userID}, f, p)
}

func (s *auditStore) ListAll(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Event, int64, error) {
	return s.list(ctx, ``, nil, f, p)
}

func (s *auditStore) list(ctx context.Context, where string, args []any, f audit.Filter, p audit.Page) ([]*audit.Event, int64, error) {
	var clauses []string
	if where != "" {
		clauses = append(clauses, where)
	}
	idx := len(args) + 1
	add := func(clause string, arg any) {
		clauses = append(clauses, fmt.Sprintf(clause, idx))
		args = append(args, arg)
		idx++
	}
	if f.Action != "" {
		add(`action = $%d`, string(f.Action))
	}
	if f.EntityType != "" {
		add(`entity_type = $%d`, f.EntityType)
	}
	if f.Status != "" {
		add(`status = $%d`, string(f.Status))
	}
	if !f.From.IsZero() {
		add(`created_at >= $%d`, f.From)
	}
	if !f.To.IsZero() {
		add(`created_at <= $%d`, f.To)
	}
	cond := ""
	if len(clauses) > 0 {
		cond = "where " + strings.Join(clauses, " and ")
	}

	var total int64
	if err := (*Store)(s).q(ctx).QueryRowContext(ctx,
		`select count(*) from audit_log `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p = p.Clamp()
	query := fmt.Sprintf(`
		select `+auditColumns+`
		from audit_log %s
		order by created_at desc
		limit $%d offset $%d
	`, cond, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := (*Store)(s).q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*audit.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func scanEvent(rows *sql.Rows) (*audit.Event, error) {
	var (
		e          audit.Event
		actorID    sql.NullString
		entityID   sql.NullString
		oldJSON    []byte
		newJSON    []byte
		extraJSON  []byte
		desc       sql.NullString
		clientIP   sql.NullString
		userAgent  sql.NullString
		corrID     sql.NullString
		action     string
		status     string
		errMessage sql.NullString
	)
	if err := rows.Scan(&e.ID, &actorID, &action, &e.EntityType, &entityID, &oldJSON, &newJSON,
		&desc, &clientIP, &userAgent, &corrID, &status, &errMessage, &extraJSON, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Action = audit.Action(action)
	e.Status = audit.Status(status)
	if actorID.Valid {
		v := actorID.String
		e.ActorID = &v
	}
	if entityID.Valid {
		v := entityID.String
		e.EntityID = &v
	}
	e.Description = desc.String
	e.ClientIP = clientIP.String
	e.UserAgent = userAgent.String
	e.CorrelationID = corrID.String
	e.ErrorMessage = errMessage.String

	var err error
	if e.OldValues, err = unmarshalValues(oldJSON); err != nil {
		return nil, err
	}
	if e.NewValues, err = unmarshalValues(newJSON); err != nil {
		return nil, err
	}
	if e.Extra, err = unmarshalValues(extraJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalValues(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalValues(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode audit values: %w", err)
	}
	return m, nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
