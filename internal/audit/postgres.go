package audit

import (
	"context"
	"database/sql"
	"fmt"

	id "custodia/pkg/domain"
	pgtx "custodia/pkg/platform/tx"
)

// PostgresStore persists the audit trail in PostgreSQL. Append-only like
// the interface demands: no UPDATE or DELETE statements exist here. An
// append joins the caller's transaction when one is open so the trail
// entry commits with the mutation it records.
//
// Schema (migrations/006_audit_events.sql):
//
//	CREATE TABLE audit_events (
//	    seq       BIGSERIAL PRIMARY KEY,
//	    ts        TIMESTAMPTZ NOT NULL,
//	    action    TEXT NOT NULL,
//	    actor     TEXT NOT NULL,
//	    item_id   TEXT NOT NULL DEFAULT '',
//	    subject   TEXT NOT NULL DEFAULT '',
//	    reason    TEXT NOT NULL DEFAULT '',
//	    detail    TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX audit_events_item_idx ON audit_events (item_id) WHERE item_id <> '';
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) execer {
	if txn, ok := pgtx.From(ctx); ok {
		return txn
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_events (ts, action, actor, item_id, subject, reason, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Timestamp, string(event.Action), event.Actor.String(),
		event.ItemID, event.Subject, event.Reason, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByItem(ctx context.Context, itemID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, action, actor, item_id, subject, reason, detail
		FROM audit_events
		WHERE item_id = $1
		ORDER BY seq`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var action, actor string
		if err := rows.Scan(&event.Timestamp, &action, &actor,
			&event.ItemID, &event.Subject, &event.Reason, &event.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = Action(action)
		event.Actor = id.ActorID(actor)
		out = append(out, event)
	}
	return out, rows.Err()
}
