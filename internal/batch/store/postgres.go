package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/batch/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	pgtx "custodia/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists batches across three tables. The primary key on
// batch_members.item_id is the one-batch-per-item guarantee; lineage edges
// use UUID arrays so an ancestry query is a single ANY lookup.
//
// Schema (migrations/004_batches.sql):
//
//	CREATE TABLE batches (
//	    id             UUID PRIMARY KEY,
//	    code           TEXT NOT NULL,
//	    creator        TEXT NOT NULL,
//	    content_digest TEXT NOT NULL,
//	    total_quantity BIGINT NOT NULL,
//	    active         BOOLEAN NOT NULL,
//	    status_reason  TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX batches_code_key ON batches (LOWER(code));
//
//	CREATE TABLE batch_members (
//	    item_id  UUID PRIMARY KEY,
//	    batch_id UUID NOT NULL REFERENCES batches (id),
//	    quantity BIGINT NOT NULL
//	);
//	CREATE INDEX batch_members_batch_idx ON batch_members (batch_id);
//
//	CREATE TABLE batch_lineage (
//	    seq         BIGSERIAL PRIMARY KEY,
//	    kind        TEXT NOT NULL,
//	    parents     UUID[] NOT NULL,
//	    children    UUID[] NOT NULL,
//	    actor       TEXT NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// inTx runs fn inside a transaction, joining one from context when the
// caller coordinates a wider unit of work.
func (s *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if tx, ok := pgtx.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

func (s *Postgres) CreateIfCodeAvailable(ctx context.Context, batch *models.Batch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertBatch(ctx, tx, batch)
	})
}

func insertBatch(ctx context.Context, tx *sql.Tx, batch *models.Batch) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO batches (
			id, code, creator, content_digest, total_quantity,
			active, status_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		batch.ID.String(), batch.Code, batch.Creator.String(),
		batch.ContentDigest.String(), batch.TotalQuantity,
		batch.Active, batch.StatusReason, batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrCodeTaken
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	for itemID, quantity := range batch.Members {
		if err := insertMember(ctx, tx, batch.ID, itemID, quantity); err != nil {
			return err
		}
	}
	return nil
}

func insertMember(ctx context.Context, tx *sql.Tx, batchID id.BatchID, itemID id.ItemID, quantity int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO batch_members (item_id, batch_id, quantity) VALUES ($1, $2, $3)`,
		itemID.String(), batchID.String(), quantity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert batch member: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, batchID id.BatchID) (*models.Batch, error) {
	var batch *models.Batch
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		batch, err = loadBatch(ctx, tx, `WHERE id = $1`, batchID.String(), false)
		return err
	})
	return batch, err
}

func (s *Postgres) FindByCode(ctx context.Context, code string) (*models.Batch, error) {
	var batch *models.Batch
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		batch, err = loadBatch(ctx, tx, `WHERE LOWER(code) = LOWER($1)`, code, false)
		return err
	})
	return batch, err
}

func (s *Postgres) BatchForItem(ctx context.Context, itemID id.ItemID) (id.BatchID, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT batch_id FROM batch_members WHERE item_id = $1`, itemID.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.BatchID{}, sentinel.ErrNotFound
		}
		return id.BatchID{}, fmt.Errorf("resolve batch for item: %w", err)
	}
	batchID, err := id.ParseBatchID(raw)
	if err != nil {
		return id.BatchID{}, fmt.Errorf("stored batch id corrupt: %w", err)
	}
	return batchID, nil
}

func (s *Postgres) Execute(ctx context.Context, batchID id.BatchID, validate func(*models.Batch) error, mutate func(*models.Batch)) (*models.Batch, error) {
	var out *models.Batch
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		batch, err := loadBatch(ctx, tx, `WHERE id = $1`, batchID.String(), true)
		if err != nil {
			return err
		}
		if err := validate(batch); err != nil {
			return err
		}
		before := batch.Clone()
		mutate(batch)
		if err := updateBatch(ctx, tx, batch); err != nil {
			return err
		}
		if err := syncMembers(ctx, tx, before, batch); err != nil {
			return err
		}
		out = batch
		return nil
	})
	return out, err
}

func (s *Postgres) Split(ctx context.Context, sourceID id.BatchID, validate func(*models.Batch) error, mutateSource func(*models.Batch), children []*models.Batch, rel *models.LineageRelationship) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		source, err := loadBatch(ctx, tx, `WHERE id = $1`, sourceID.String(), true)
		if err != nil {
			return err
		}
		if err := validate(source); err != nil {
			return err
		}
		for _, child := range children {
			if err := insertBatch(ctx, tx, child); err != nil {
				return err
			}
		}
		mutateSource(source)
		if err := updateBatch(ctx, tx, source); err != nil {
			return err
		}
		return insertRelationship(ctx, tx, rel)
	})
}

func (s *Postgres) Merge(ctx context.Context, sourceIDs []id.BatchID, validate func([]*models.Batch) error, mutateSource func(*models.Batch), build func([]*models.Batch) (*models.Batch, error), rel *models.LineageRelationship) (*models.Batch, error) {
	var merged *models.Batch
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sources := make([]*models.Batch, 0, len(sourceIDs))
		for _, sourceID := range sourceIDs {
			source, err := loadBatch(ctx, tx, `WHERE id = $1`, sourceID.String(), true)
			if err != nil {
				return err
			}
			sources = append(sources, source)
		}
		if err := validate(sources); err != nil {
			return err
		}

		built, err := build(sources)
		if err != nil {
			return err
		}
		// Membership moves to the merged batch, so the member rows are
		// re-pointed rather than inserted fresh.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM batch_members WHERE batch_id = ANY($1)`, batchIDArray(sourceIDs)); err != nil {
			return fmt.Errorf("detach merged members: %w", err)
		}
		if err := insertBatch(ctx, tx, built); err != nil {
			return err
		}
		for _, source := range sources {
			source.Members = make(map[id.ItemID]int64)
			mutateSource(source)
			if err := updateBatch(ctx, tx, source); err != nil {
				return err
			}
		}
		if err := insertRelationship(ctx, tx, rel); err != nil {
			return err
		}
		merged = built
		return nil
	})
	return merged, err
}

func (s *Postgres) MoveItem(ctx context.Context, fromID, toID id.BatchID, itemID id.ItemID, validate func(from, to *models.Batch) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		from, err := loadBatch(ctx, tx, `WHERE id = $1`, fromID.String(), true)
		if err != nil {
			return err
		}
		to, err := loadBatch(ctx, tx, `WHERE id = $1`, toID.String(), true)
		if err != nil {
			return err
		}
		if err := validate(from, to); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE batch_members SET batch_id = $2 WHERE item_id = $1`,
			itemID.String(), toID.String())
		if err != nil {
			return fmt.Errorf("move batch member: %w", err)
		}
		return nil
	})
}

func (s *Postgres) Relationships(ctx context.Context, batchID id.BatchID) ([]models.LineageRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, parents, children, actor, recorded_at
		FROM batch_lineage
		WHERE $1 = ANY(parents) OR $1 = ANY(children)
		ORDER BY seq`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("load lineage: %w", err)
	}
	defer rows.Close()

	var out []models.LineageRelationship
	for rows.Next() {
		var (
			rel              models.LineageRelationship
			kind, actor      string
			parents, children pq.StringArray
		)
		if err := rows.Scan(&kind, &parents, &children, &actor, &rel.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan lineage edge: %w", err)
		}
		rel.Kind = models.RelationKind(kind)
		rel.Actor = id.ActorID(actor)
		if rel.Parents, err = parseBatchIDs(parents); err != nil {
			return nil, err
		}
		if rel.Children, err = parseBatchIDs(children); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func insertRelationship(ctx context.Context, tx *sql.Tx, rel *models.LineageRelationship) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO batch_lineage (kind, parents, children, actor, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(rel.Kind), batchIDArray(rel.Parents), batchIDArray(rel.Children),
		rel.Actor.String(), rel.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lineage edge: %w", err)
	}
	return nil
}

func updateBatch(ctx context.Context, tx *sql.Tx, batch *models.Batch) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE batches SET
			total_quantity = $2, active = $3, status_reason = $4, updated_at = $5
		WHERE id = $1`,
		batch.ID.String(), batch.TotalQuantity, batch.Active,
		batch.StatusReason, batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// syncMembers applies the membership delta an Execute mutation produced.
func syncMembers(ctx context.Context, tx *sql.Tx, before, after *models.Batch) error {
	for itemID := range before.Members {
		if !after.HasMember(itemID) {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM batch_members WHERE item_id = $1 AND batch_id = $2`,
				itemID.String(), after.ID.String()); err != nil {
				return fmt.Errorf("remove batch member: %w", err)
			}
		}
	}
	for itemID, quantity := range after.Members {
		if !before.HasMember(itemID) {
			if err := insertMember(ctx, tx, after.ID, itemID, quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadBatch(ctx context.Context, tx *sql.Tx, where, arg string, forUpdate bool) (*models.Batch, error) {
	query := `
		SELECT id, code, creator, content_digest, total_quantity,
		       active, status_reason, created_at, updated_at
		FROM batches ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		batch        models.Batch
		batchID      string
		creator      string
		contentD     string
	)
	err := tx.QueryRowContext(ctx, query, arg).Scan(&batchID, &batch.Code, &creator,
		&contentD, &batch.TotalQuantity, &batch.Active, &batch.StatusReason,
		&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	parsedID, err := id.ParseBatchID(batchID)
	if err != nil {
		return nil, fmt.Errorf("stored batch id corrupt: %w", err)
	}
	contentDigest, err := id.ParseDigest(contentD)
	if err != nil {
		return nil, fmt.Errorf("stored content digest corrupt: %w", err)
	}
	batch.ID = parsedID
	batch.Creator = id.ActorID(creator)
	batch.ContentDigest = contentDigest

	batch.Members = make(map[id.ItemID]int64)
	rows, err := tx.QueryContext(ctx,
		`SELECT item_id, quantity FROM batch_members WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rawItem string
		var quantity int64
		if err := rows.Scan(&rawItem, &quantity); err != nil {
			return nil, fmt.Errorf("scan batch member: %w", err)
		}
		itemID, err := id.ParseItemID(rawItem)
		if err != nil {
			return nil, fmt.Errorf("stored member id corrupt: %w", err)
		}
		batch.Members[itemID] = quantity
	}
	return &batch, rows.Err()
}

func batchIDArray(ids []id.BatchID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, batchID := range ids {
		out[i] = batchID.String()
	}
	return out
}

func parseBatchIDs(raw pq.StringArray) ([]id.BatchID, error) {
	out := make([]id.BatchID, len(raw))
	for i, r := range raw {
		batchID, err := id.ParseBatchID(r)
		if err != nil {
			return nil, fmt.Errorf("stored lineage batch id corrupt: %w", err)
		}
		out[i] = batchID
	}
	return out, nil
}
