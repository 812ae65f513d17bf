// Package service implements the integrity verifier: checking externally
// held records against the stored chain, filing tamper reports, and
// quarantining items whose evidence diverges.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	itemmodels "custodia/internal/item/models"
	ledgermodels "custodia/internal/ledger/models"
	verifymetrics "custodia/internal/verify/metrics"
	"custodia/internal/verify/models"
	"custodia/internal/verify/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// ChainReader is the slice of the ledger the verifier needs.
type ChainReader interface {
	Chain(ctx context.Context, itemID id.ItemID) ([]ledgermodels.StageRecord, error)
	IsChainIntact(ctx context.Context, itemID id.ItemID) (bool, error)
	MarkVerified(ctx context.Context, itemID id.ItemID, upTo id.Stage) error
}

// ItemGuard is the slice of the registry the verifier needs: reading the
// chain anchor and quarantining on confirmed divergence.
type ItemGuard interface {
	Get(ctx context.Context, itemID id.ItemID) (*itemmodels.Item, error)
	DeactivateForIntegrity(ctx context.Context, itemID id.ItemID, reporter id.ActorID, reason string) (*itemmodels.Item, error)
}

// Verifier runs integrity checks and the tamper-report policy.
type Verifier struct {
	reports  store.Store
	ledger   ChainReader
	registry ItemGuard
	auditor  *audit.Publisher
	metrics  *verifymetrics.Metrics
	logger   *slog.Logger

	// checkParallel bounds the CheckAll fan-out.
	checkParallel int
}

type Option func(*Verifier)

// WithParallelism bounds the bulk check fan-out. Defaults to 4.
func WithParallelism(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.checkParallel = n
		}
	}
}

func WithMetrics(m *verifymetrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func NewVerifier(reports store.Store, ledger ChainReader, registry ItemGuard, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		reports:       reports,
		ledger:        ledger,
		registry:      registry,
		auditor:       auditor,
		logger:        logger,
		checkParallel: 4,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check walks the supplied records against the stored chain and localizes
// the first divergence. Read-only: a failed check reports, it does not
// quarantine. A full match flags the stored records as verified.
func (v *Verifier) Check(ctx context.Context, itemID id.ItemID, supplied []models.SuppliedRecord) (*models.VerificationResult, error) {
	start := time.Now()

	item, err := v.registry.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	chain, err := v.ledger.Chain(ctx, itemID)
	if err != nil {
		return nil, err
	}

	result := &models.VerificationResult{
		ItemID:      itemID,
		TotalStages: len(chain),
	}

	fail := func(stage id.Stage) (*models.VerificationResult, error) {
		result.FailedStage = &stage
		v.metrics.RecordCheck(false, start)
		return result, nil
	}

	prev := item.RootDigest
	for i := range chain {
		stored := &chain[i]
		if i >= len(supplied) {
			// The caller's copy stops short of the stored chain.
			return fail(stored.Stage)
		}
		offered := supplied[i]
		if offered.Stage != stored.Stage ||
			offered.StageDigest != stored.StageDigest ||
			!stored.Links(prev) {
			return fail(stored.Stage)
		}
		prev = stored.StageDigest
		result.StagesVerified++
	}
	if len(supplied) > len(chain) {
		// The caller claims stages the ledger never recorded.
		return fail(supplied[len(chain)].Stage)
	}

	result.IsValid = true
	if len(chain) > 0 {
		if err := v.ledger.MarkVerified(ctx, itemID, chain[len(chain)-1].Stage); err != nil {
			return nil, err
		}
	}
	v.metrics.RecordCheck(true, start)
	return result, nil
}

// ReportTamper files a divergence claim, audits it, and quarantines the
// item. The report never alters the chain; deactivation is the policy
// response and is idempotent across repeated reports.
func (v *Verifier) ReportTamper(ctx context.Context, itemID id.ItemID, stage id.Stage, expected, actual id.Digest, reporter id.ActorID) (*models.Report, error) {
	report, err := models.NewReport(id.NewReportID(), itemID, stage, expected, actual, reporter, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if _, err := v.registry.Get(ctx, itemID); err != nil {
		return nil, err
	}

	if err := v.reports.Append(ctx, report); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store tamper report")
	}
	if err := v.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionTamperReported,
		Actor:   reporter,
		ItemID:  itemID.String(),
		Subject: stage.String(),
		Detail:  "expected " + expected.String() + ", got " + actual.String(),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit tamper report")
	}

	if _, err := v.registry.DeactivateForIntegrity(ctx, itemID, reporter,
		"tamper reported at stage "+stage.String()); err != nil {
		return nil, err
	}

	v.metrics.IncrementTamperReports()
	v.logger.WarnContext(ctx, "tamper report filed",
		"item_id", itemID,
		"stage", stage,
		"reporter", reporter,
	)
	return report, nil
}

// ListReports returns the item's tamper reports, oldest first.
func (v *Verifier) ListReports(ctx context.Context, itemID id.ItemID) ([]*models.Report, error) {
	reports, err := v.reports.ListByItem(ctx, itemID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tamper reports")
	}
	return reports, nil
}

// CheckAll runs full chain walks over many items with bounded parallelism.
// One broken item does not abort the sweep; per-item errors surface as
// invalid results with zero verified stages.
func (v *Verifier) CheckAll(ctx context.Context, itemIDs []id.ItemID) ([]models.VerificationResult, error) {
	results := make([]models.VerificationResult, len(itemIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.checkParallel)
	for i, itemID := range itemIDs {
		g.Go(func() error {
			intact, err := v.ledger.IsChainIntact(gctx, itemID)
			if err != nil {
				v.logger.ErrorContext(gctx, "bulk check failed for item",
					"item_id", itemID,
					"error", err,
				)
				results[i] = models.VerificationResult{ItemID: itemID}
				return nil
			}
			chain, err := v.ledger.Chain(gctx, itemID)
			if err != nil {
				results[i] = models.VerificationResult{ItemID: itemID}
				return nil
			}
			result := models.VerificationResult{
				ItemID:      itemID,
				IsValid:     intact,
				TotalStages: len(chain),
			}
			if intact {
				result.StagesVerified = len(chain)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
