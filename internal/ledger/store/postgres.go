package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	pgtx "custodia/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists stage records. The (item_id, stage) primary key is the
// database-level append-only guard: a second write to the same slot is a
// unique violation, never an overwrite.
//
// Schema (migrations/002_stage_records.sql):
//
//	CREATE TABLE stage_records (
//	    item_id      UUID NOT NULL,
//	    stage        INT  NOT NULL,
//	    stage_digest TEXT NOT NULL,
//	    link_digest  TEXT NOT NULL,
//	    actor        TEXT NOT NULL,
//	    recorded_at  TIMESTAMPTZ NOT NULL,
//	    verified     BOOLEAN NOT NULL DEFAULT FALSE,
//	    PRIMARY KEY (item_id, stage)
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// execer joins an in-flight transaction when the ledger append runs inside
// the same unit of work as the item stage advance.
func (s *Postgres) execer(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} {
	if tx, ok := pgtx.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, record *models.StageRecord) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO stage_records (item_id, stage, stage_digest, link_digest, actor, recorded_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ItemID.String(), int(record.Stage), record.StageDigest.String(),
		record.LinkDigest.String(), record.Actor.String(), record.RecordedAt,
		record.Verified,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("append stage record: %w", err)
	}
	return nil
}

func (s *Postgres) Chain(ctx context.Context, itemID id.ItemID) ([]models.StageRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectRecords+` WHERE item_id = $1 ORDER BY stage`, itemID.String())
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	defer rows.Close()

	var chain []models.StageRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *record)
	}
	return chain, rows.Err()
}

func (s *Postgres) Tail(ctx context.Context, itemID id.ItemID) (*models.StageRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		selectRecords+` WHERE item_id = $1 ORDER BY stage DESC LIMIT 1`, itemID.String())
	return scanRecord(row)
}

func (s *Postgres) ByStage(ctx context.Context, itemID id.ItemID, stage id.Stage) (*models.StageRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		selectRecords+` WHERE item_id = $1 AND stage = $2`, itemID.String(), int(stage))
	return scanRecord(row)
}

func (s *Postgres) MarkVerified(ctx context.Context, itemID id.ItemID, upTo id.Stage) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE stage_records SET verified = TRUE WHERE item_id = $1 AND stage <= $2`,
		itemID.String(), int(upTo))
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

const selectRecords = `
	SELECT item_id, stage, stage_digest, link_digest, actor, recorded_at, verified
	FROM stage_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.StageRecord, error) {
	var (
		record         models.StageRecord
		itemID         string
		stage          int
		stageD, linkD  string
		actor          string
	)
	err := row.Scan(&itemID, &stage, &stageD, &linkD, &actor, &record.RecordedAt, &record.Verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan stage record: %w", err)
	}

	parsedID, err := id.ParseItemID(itemID)
	if err != nil {
		return nil, fmt.Errorf("stored item id corrupt: %w", err)
	}
	stageDigest, err := id.ParseDigest(stageD)
	if err != nil {
		return nil, fmt.Errorf("stored stage digest corrupt: %w", err)
	}
	linkDigest, err := id.ParseDigest(linkD)
	if err != nil {
		return nil, fmt.Errorf("stored link digest corrupt: %w", err)
	}
	record.ItemID = parsedID
	record.Stage = id.Stage(stage)
	record.StageDigest = stageDigest
	record.LinkDigest = linkDigest
	record.Actor = id.ActorID(actor)
	return &record, nil
}
