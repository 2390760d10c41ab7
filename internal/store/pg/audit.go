package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"accesshub.org/internal/audit"
	"accesshub.org/internal/ids"
)

var _ audit.Store = (*Store)(nil)

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	changes := []byte("[]")
	if len(entry.Changes) > 0 {
		raw, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
		changes = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, actor_email, action, resource_type, resource_id, resource_name, changes, ip, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.ActorID, nullIfEmpty(entry.ActorEmail), entry.Action,
		entry.ResourceType, nullIfEmpty(entry.ResourceID), nullIfEmpty(entry.ResourceName),
		changes, nullIfEmpty(entry.IP), nullIfEmpty(entry.UserAgent), entry.CreatedAt)
	return err
}

func (s *Store) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	where := []string{"1=1"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.ActorID != "" {
		where = append(where, "actor_id = "+arg(q.ActorID))
	}
	if q.Action != "" {
		where = append(where, "action = "+arg(q.Action))
	}
	if q.ResourceType != "" {
		where = append(where, "resource_type = "+arg(q.ResourceType))
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, actor_id, coalesce(actor_email, ''), action, resource_type,
		       coalesce(resource_id, ''), coalesce(resource_name, ''), changes,
		       coalesce(ip, ''), coalesce(user_agent, ''), created_at
		from audit_log
		where `+strings.Join(where, " and ")+`
		order by created_at desc
		limit `+arg(limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var changes []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorEmail, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.ResourceName, &changes, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("decode changes: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
