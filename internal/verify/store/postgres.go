package store

import (
	"context"
	"database/sql"
	"fmt"

	"custodia/internal/verify/models"
	id "custodia/pkg/domain"
)

// Postgres persists tamper reports.
//
// Schema (migrations/005_tamper_reports.sql):
//
//	CREATE TABLE tamper_reports (
//	    id              UUID PRIMARY KEY,
//	    item_id         UUID NOT NULL,
//	    stage           INT  NOT NULL,
//	    expected_digest TEXT NOT NULL,
//	    actual_digest   TEXT NOT NULL,
//	    reporter        TEXT NOT NULL,
//	    reported_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX tamper_reports_item_idx ON tamper_reports (item_id);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Append(ctx context.Context, report *models.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tamper_reports (
			id, item_id, stage, expected_digest, actual_digest, reporter, reported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID.String(), report.ItemID.String(), int(report.Stage),
		report.ExpectedDigest.String(), report.ActualDigest.String(),
		report.Reporter.String(), report.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tamper report: %w", err)
	}
	return nil
}

func (s *Postgres) ListByItem(ctx context.Context, itemID id.ItemID) ([]*models.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, stage, expected_digest, actual_digest, reporter, reported_at
		FROM tamper_reports WHERE item_id = $1 ORDER BY reported_at`, itemID.String())
	if err != nil {
		return nil, fmt.Errorf("list tamper reports: %w", err)
	}
	defer rows.Close()

	var out []*models.Report
	for rows.Next() {
		var (
			report           models.Report
			reportID, item   string
			stage            int
			expected, actual string
			reporter         string
		)
		if err := rows.Scan(&reportID, &item, &stage, &expected, &actual, &reporter, &report.ReportedAt); err != nil {
			return nil, fmt.Errorf("scan tamper report: %w", err)
		}
		parsedID, err := id.ParseReportID(reportID)
		if err != nil {
			return nil, fmt.Errorf("stored report id corrupt: %w", err)
		}
		parsedItem, err := id.ParseItemID(item)
		if err != nil {
			return nil, fmt.Errorf("stored item id corrupt: %w", err)
		}
		expectedDigest, err := id.ParseDigest(expected)
		if err != nil {
			return nil, fmt.Errorf("stored expected digest corrupt: %w", err)
		}
		actualDigest, err := id.ParseDigest(actual)
		if err != nil {
			return nil, fmt.Errorf("stored actual digest corrupt: %w", err)
		}
		report.ID = parsedID
		report.ItemID = parsedItem
		report.Stage = id.Stage(stage)
		report.ExpectedDigest = expectedDigest
		report.ActualDigest = actualDigest
		report.Reporter = id.ActorID(reporter)
		out = append(out, &report)
	}
	return out, rows.Err()
}
