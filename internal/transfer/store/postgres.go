package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/transfer/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	pgtx "custodia/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists transfers. Participant lookups run against the
// from/to indexes; the unique partial index on non-terminal rows both
// serves the open-transfer guard without scanning history and enforces
// at most one open transfer per item at the database level.
//
// Schema (migrations/003_transfers.sql):
//
//	CREATE TABLE transfers (
//	    id                    UUID PRIMARY KEY,
//	    item_id               UUID NOT NULL,
//	    from_actor            TEXT NOT NULL,
//	    to_actor              TEXT NOT NULL,
//	    source_stage          INT  NOT NULL,
//	    target_stage          INT  NOT NULL,
//	    transfer_digest       TEXT NOT NULL,
//	    conditions_digest     TEXT,
//	    completion_digest     TEXT,
//	    requires_verification BOOLEAN NOT NULL,
//	    status                TEXT NOT NULL,
//	    reject_reason         TEXT NOT NULL DEFAULT '',
//	    initiated_at          TIMESTAMPTZ NOT NULL,
//	    updated_at            TIMESTAMPTZ NOT NULL,
//	    completed_at          TIMESTAMPTZ
//	);
//	CREATE INDEX transfers_from_idx ON transfers (from_actor);
//	CREATE INDEX transfers_to_idx   ON transfers (to_actor);
//	CREATE UNIQUE INDEX transfers_open_item_idx ON transfers (item_id)
//	    WHERE status NOT IN ('COMPLETED', 'REJECTED');
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, transfer *models.Transfer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (
			id, item_id, from_actor, to_actor, source_stage, target_stage,
			transfer_digest, conditions_digest, requires_verification,
			status, reject_reason, initiated_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		transfer.ID.String(), transfer.ItemID.String(),
		transfer.FromActor.String(), transfer.ToActor.String(),
		int(transfer.SourceStage), int(transfer.TargetStage),
		transfer.TransferDigest.String(), nullDigest(transfer.ConditionsDigest),
		transfer.RequiresVerification, string(transfer.Status),
		transfer.RejectReason, transfer.InitiatedAt, transfer.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, transferID id.TransferID) (*models.Transfer, error) {
	row := s.db.QueryRowContext(ctx, selectTransfers+` WHERE id = $1`, transferID.String())
	return scanTransfer(row)
}

func (s *Postgres) ListByActor(ctx context.Context, actor id.ActorID) ([]*models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		selectTransfers+` WHERE from_actor = $1 OR to_actor = $1 ORDER BY initiated_at DESC`,
		actor.String())
	if err != nil {
		return nil, fmt.Errorf("list transfers by actor: %w", err)
	}
	return collectTransfers(rows)
}

func (s *Postgres) ListOpenByItem(ctx context.Context, itemID id.ItemID) ([]*models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		selectTransfers+` WHERE item_id = $1 AND status NOT IN ('COMPLETED', 'REJECTED') ORDER BY initiated_at`,
		itemID.String())
	if err != nil {
		return nil, fmt.Errorf("list open transfers: %w", err)
	}
	return collectTransfers(rows)
}

// Execute runs validate-then-mutate under SELECT ... FOR UPDATE, joining an
// in-flight transaction from context when completion coordinates the
// custody flip in the same unit of work.
func (s *Postgres) Execute(ctx context.Context, transferID id.TransferID, validate func(*models.Transfer) error, mutate func(*models.Transfer)) (*models.Transfer, error) {
	run := func(tx *sql.Tx) (*models.Transfer, error) {
		row := tx.QueryRowContext(ctx, selectTransfers+` WHERE id = $1 FOR UPDATE`, transferID.String())
		transfer, err := scanTransfer(row)
		if err != nil {
			return nil, err
		}
		if err := validate(transfer); err != nil {
			return nil, err
		}
		mutate(transfer)

		var completedAt sql.NullTime
		if transfer.CompletedAt != nil {
			completedAt = sql.NullTime{Time: *transfer.CompletedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE transfers SET
				status = $2, reject_reason = $3, completion_digest = $4,
				completed_at = $5, updated_at = $6
			WHERE id = $1`,
			transfer.ID.String(), string(transfer.Status), transfer.RejectReason,
			nullDigest(transfer.CompletionDigest), completedAt, transfer.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("update transfer: %w", err)
		}
		return transfer, nil
	}

	if tx, ok := pgtx.From(ctx); ok {
		return run(tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transfer tx: %w", err)
	}
	transfer, err := run(tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer tx: %w", err)
	}
	return transfer, nil
}

const selectTransfers = `
	SELECT id, item_id, from_actor, to_actor, source_stage, target_stage,
	       transfer_digest, conditions_digest, completion_digest,
	       requires_verification, status, reject_reason,
	       initiated_at, updated_at, completed_at
	FROM transfers`

func nullDigest(d id.Digest) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectTransfers(rows *sql.Rows) ([]*models.Transfer, error) {
	defer rows.Close()
	var out []*models.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, transfer)
	}
	return out, rows.Err()
}

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	var (
		transfer             models.Transfer
		transferID, itemID   string
		from, to             string
		sourceStage, target  int
		transferD            string
		conditionsD, compD   sql.NullString
		status               string
		completedAt          sql.NullTime
	)
	err := row.Scan(&transferID, &itemID, &from, &to, &sourceStage, &target,
		&transferD, &conditionsD, &compD, &transfer.RequiresVerification,
		&status, &transfer.RejectReason, &transfer.InitiatedAt,
		&transfer.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}

	parsedID, err := id.ParseTransferID(transferID)
	if err != nil {
		return nil, fmt.Errorf("stored transfer id corrupt: %w", err)
	}
	parsedItem, err := id.ParseItemID(itemID)
	if err != nil {
		return nil, fmt.Errorf("stored item id corrupt: %w", err)
	}
	transferDigest, err := id.ParseDigest(transferD)
	if err != nil {
		return nil, fmt.Errorf("stored transfer digest corrupt: %w", err)
	}
	transfer.ID = parsedID
	transfer.ItemID = parsedItem
	transfer.FromActor = id.ActorID(from)
	transfer.ToActor = id.ActorID(to)
	transfer.SourceStage = id.Stage(sourceStage)
	transfer.TargetStage = id.Stage(target)
	transfer.TransferDigest = transferDigest
	transfer.Status = models.Status(status)

	if conditionsD.Valid {
		d, err := id.ParseDigest(conditionsD.String)
		if err != nil {
			return nil, fmt.Errorf("stored conditions digest corrupt: %w", err)
		}
		transfer.ConditionsDigest = d
	}
	if compD.Valid {
		d, err := id.ParseDigest(compD.String)
		if err != nil {
			return nil, fmt.Errorf("stored completion digest corrupt: %w", err)
		}
		transfer.CompletionDigest = d
	}
	if completedAt.Valid {
		at := completedAt.Time
		transfer.CompletedAt = &at
	}
	return &transfer, nil
}
