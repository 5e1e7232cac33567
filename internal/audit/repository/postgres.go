package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"saas-auth-core/internal/audit/domain"
	"saas-auth-core/internal/db"
)

type SQLRepository struct {
	db *db.DB
}

// NewSQLRepository returns an audit event repository that uses the given db for persistence.
func NewSQLRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database}
}

// Create persists the event. The event must have ID and CreatedAt set.
func (r *SQLRepository) Create(ctx context.Context, e *domain.Event) error {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	uid := sql.NullString{String: e.UserID, Valid: e.UserID != ""}
	_, err = r.db.ExecContext(ctx, r.db.Dialect.Rebind(`INSERT INTO audit_events
		(id, user_id, event_type, event_data, ip_address, user_agent, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, uid, string(e.Type), string(raw), e.IPAddress, e.UserAgent, e.TraceID, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(`SELECT id, user_id, event_type, event_data, ip_address, user_agent, trace_id, created_at
		FROM audit_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var (
			e   domain.Event
			uid sql.NullString
			typ string
			raw []byte
		)
		if err := rows.Scan(&e.ID, &uid, &typ, &raw, &e.IPAddress, &e.UserAgent, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = uid.String
		e.Type = domain.EventType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Data); err != nil {
				return nil, fmt.Errorf("decode event data %s: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
