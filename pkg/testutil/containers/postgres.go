//go:build integration

// Package containers starts throwaway backing services for integration
// tests. Containers live for one suite and are torn down via t.Cleanup.
package containers

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// schema mirrors the migrations the stores document in their doc comments.
const schema = `
CREATE TABLE IF NOT EXISTS items (
    id                UUID PRIMARY KEY,
    batch_code        TEXT NOT NULL,
    origin_actor      TEXT NOT NULL,
    current_custodian TEXT NOT NULL,
    root_digest       TEXT NOT NULL,
    current_stage     INT  NOT NULL,
    active            BOOLEAN NOT NULL,
    status_reason     TEXT NOT NULL DEFAULT '',
    quality_digest    TEXT,
    quality_confidence DOUBLE PRECISION,
    quality_oracle    TEXT,
    quality_received  TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS items_batch_code_key ON items (LOWER(batch_code));
CREATE INDEX IF NOT EXISTS items_custodian_idx ON items (current_custodian);

CREATE TABLE IF NOT EXISTS stage_records (
    item_id      UUID NOT NULL,
    stage        INT  NOT NULL,
    stage_digest TEXT NOT NULL,
    link_digest  TEXT NOT NULL,
    actor        TEXT NOT NULL,
    verified     BOOLEAN NOT NULL DEFAULT FALSE,
    recorded_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (item_id, stage)
);

CREATE TABLE IF NOT EXISTS transfers (
    id                    UUID PRIMARY KEY,
    item_id               UUID NOT NULL,
    from_actor            TEXT NOT NULL,
    to_actor              TEXT NOT NULL,
    source_stage          INT  NOT NULL,
    target_stage          INT  NOT NULL,
    transfer_digest       TEXT NOT NULL,
    conditions_digest     TEXT,
    completion_digest     TEXT,
    requires_verification BOOLEAN NOT NULL,
    status                TEXT NOT NULL,
    reject_reason         TEXT NOT NULL DEFAULT '',
    initiated_at          TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL,
    completed_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS transfers_from_idx ON transfers (from_actor);
CREATE INDEX IF NOT EXISTS transfers_to_idx ON transfers (to_actor);
CREATE UNIQUE INDEX IF NOT EXISTS transfers_open_item_idx ON transfers (item_id)
    WHERE status IN ('INITIATED', 'ACCEPTED');

CREATE TABLE IF NOT EXISTS batches (
    id             UUID PRIMARY KEY,
    code           TEXT NOT NULL,
    creator        TEXT NOT NULL,
    content_digest TEXT NOT NULL,
    total_quantity BIGINT NOT NULL,
    active         BOOLEAN NOT NULL,
    status_reason  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS batches_code_key ON batches (LOWER(code));

CREATE TABLE IF NOT EXISTS batch_members (
    item_id  UUID PRIMARY KEY,
    batch_id UUID NOT NULL REFERENCES batches (id),
    quantity BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS batch_members_batch_idx ON batch_members (batch_id);

CREATE TABLE IF NOT EXISTS batch_lineage (
    seq         BIGSERIAL PRIMARY KEY,
    kind        TEXT NOT NULL,
    parents     UUID[] NOT NULL,
    children    UUID[] NOT NULL,
    actor       TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tamper_reports (
    id              UUID PRIMARY KEY,
    item_id         UUID NOT NULL,
    stage           INT  NOT NULL,
    expected_digest TEXT NOT NULL,
    actual_digest   TEXT NOT NULL,
    reporter        TEXT NOT NULL,
    reported_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tamper_reports_item_idx ON tamper_reports (item_id);

CREATE TABLE IF NOT EXISTS audit_events (
    seq       BIGSERIAL PRIMARY KEY,
    ts        TIMESTAMPTZ NOT NULL,
    action    TEXT NOT NULL,
    actor     TEXT NOT NULL,
    item_id   TEXT NOT NULL DEFAULT '',
    subject   TEXT NOT NULL DEFAULT '',
    reason    TEXT NOT NULL DEFAULT '',
    detail    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_item_idx ON audit_events (item_id) WHERE item_id <> '';
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// custodia schema applied.
type PostgresContainer struct {
	DB  *sql.DB
	DSN string
}

// NewPostgresContainer starts PostgreSQL, applies the schema, and registers
// cleanup on the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("custodia"),
		tcpostgres.WithUsername("custodia"),
		tcpostgres.WithPassword("custodia"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return &PostgresContainer{DB: db, DSN: dsn}
}

// TruncateTables clears the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}
