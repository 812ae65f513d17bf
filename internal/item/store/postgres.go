package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/item/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	pgtx "custodia/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// Postgres persists items in PostgreSQL. The batch-code uniqueness lives in
// a UNIQUE constraint so concurrent registrations are decided by the
// database, and the custodian reverse lookup is an indexed column.
//
// Schema (migrations/001_items.sql):
//
//	CREATE TABLE items (
//	    id                UUID PRIMARY KEY,
//	    batch_code        TEXT NOT NULL,
//	    origin_actor      TEXT NOT NULL,
//	    current_custodian TEXT NOT NULL,
//	    root_digest       TEXT NOT NULL,
//	    current_stage     INT  NOT NULL,
//	    active            BOOLEAN NOT NULL,
//	    status_reason     TEXT NOT NULL DEFAULT '',
//	    quality_digest    TEXT,
//	    quality_confidence DOUBLE PRECISION,
//	    quality_oracle    TEXT,
//	    quality_received  TIMESTAMPTZ,
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    updated_at        TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX items_batch_code_key ON items (LOWER(batch_code));
//	CREATE INDEX items_custodian_idx ON items (current_custodian);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateIfCodeAvailable(ctx context.Context, item *models.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (
			id, batch_code, origin_actor, current_custodian, root_digest,
			current_stage, active, status_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID.String(), item.BatchCode, item.OriginActor.String(),
		item.CurrentCustodian.String(), item.RootDigest.String(),
		int(item.CurrentStage), item.Active, item.StatusReason,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrCodeTaken
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	return s.findOne(ctx, `WHERE id = $1`, itemID.String())
}

func (s *Postgres) FindByBatchCode(ctx context.Context, batchCode string) (*models.Item, error) {
	return s.findOne(ctx, `WHERE LOWER(batch_code) = LOWER($1)`, batchCode)
}

func (s *Postgres) ListByOwner(ctx context.Context, owner id.ActorID) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx, selectItems+` WHERE current_custodian = $1 ORDER BY created_at`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("list items by owner: %w", err)
	}
	defer rows.Close()

	var out []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Execute runs validate-then-mutate under SELECT ... FOR UPDATE so the row
// cannot change between the two callbacks. Joins an in-flight transaction
// from context when the caller coordinates a multi-store unit of work.
func (s *Postgres) Execute(ctx context.Context, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	run := func(tx *sql.Tx) (*models.Item, error) {
		row := tx.QueryRowContext(ctx, selectItems+` WHERE id = $1 FOR UPDATE`, itemID.String())
		item, err := scanItem(row)
		if err != nil {
			return nil, err
		}
		if err := validate(item); err != nil {
			return nil, err
		}
		mutate(item)

		var qDigest, qOracle sql.NullString
		var qConfidence sql.NullFloat64
		var qReceived sql.NullTime
		if item.Quality != nil {
			qDigest = sql.NullString{String: item.Quality.EvidenceDigest.String(), Valid: true}
			qOracle = sql.NullString{String: item.Quality.Oracle.String(), Valid: true}
			qConfidence = sql.NullFloat64{Float64: item.Quality.Confidence, Valid: true}
			qReceived = sql.NullTime{Time: item.Quality.ReceivedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE items SET
				current_custodian = $2, current_stage = $3, active = $4,
				status_reason = $5, quality_digest = $6, quality_confidence = $7,
				quality_oracle = $8, quality_received = $9, updated_at = $10
			WHERE id = $1`,
			item.ID.String(), item.CurrentCustodian.String(), int(item.CurrentStage),
			item.Active, item.StatusReason, qDigest, qConfidence, qOracle, qReceived,
			item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("update item: %w", err)
		}
		return item, nil
	}

	if tx, ok := pgtx.From(ctx); ok {
		return run(tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin item tx: %w", err)
	}
	item, err := run(tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item tx: %w", err)
	}
	return item, nil
}

const selectItems = `
	SELECT id, batch_code, origin_actor, current_custodian, root_digest,
	       current_stage, active, status_reason, quality_digest,
	       quality_confidence, quality_oracle, quality_received,
	       created_at, updated_at
	FROM items`

func (s *Postgres) findOne(ctx context.Context, where string, arg any) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, selectItems+" "+where, arg)
	return scanItem(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var (
		item                     models.Item
		itemID, root             string
		origin, custodian        string
		stage                    int
		qDigest, qOracle         sql.NullString
		qConfidence              sql.NullFloat64
		qReceived                sql.NullTime
	)
	err := row.Scan(&itemID, &item.BatchCode, &origin, &custodian, &root,
		&stage, &item.Active, &item.StatusReason, &qDigest, &qConfidence,
		&qOracle, &qReceived, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}

	parsedID, err := id.ParseItemID(itemID)
	if err != nil {
		return nil, fmt.Errorf("stored item id corrupt: %w", err)
	}
	rootDigest, err := id.ParseDigest(root)
	if err != nil {
		return nil, fmt.Errorf("stored root digest corrupt: %w", err)
	}
	item.ID = parsedID
	item.RootDigest = rootDigest
	item.OriginActor = id.ActorID(origin)
	item.CurrentCustodian = id.ActorID(custodian)
	item.CurrentStage = id.Stage(stage)

	if qDigest.Valid {
		evidence, err := id.ParseDigest(qDigest.String)
		if err != nil {
			return nil, fmt.Errorf("stored quality digest corrupt: %w", err)
		}
		item.Quality = &models.Quality{
			EvidenceDigest: evidence,
			Confidence:     qConfidence.Float64,
			Oracle:         id.ActorID(qOracle.String),
			ReceivedAt:     qReceived.Time,
		}
	}
	return &item, nil
}
