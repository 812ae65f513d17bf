package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/verify/models"
	verifyservice "custodia/internal/verify/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// VerifyHandler wires integrity verification endpoints to the verifier.
type VerifyHandler struct {
	verifier *verifyservice.Verifier
	logger   *slog.Logger
}

func NewVerifyHandler(verifier *verifyservice.Verifier, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{verifier: verifier, logger: logger}
}

// Register mounts verification endpoints on the router.
func (h *VerifyHandler) Register(r chi.Router) {
	r.Post("/verify/{itemID}", h.HandleCheck)
	r.Post("/verify/{itemID}/tamper", h.HandleReportTamper)
	r.Get("/verify/{itemID}/reports", h.HandleListReports)
	r.Post("/verify/sweep", h.HandleCheckAll)
}

type suppliedRecordPayload struct {
	Stage       int    `json:"stage"`
	StageDigest string `json:"stage_digest"`
}

type CheckRequest struct {
	Records []suppliedRecordPayload `json:"records"`

	records []models.SuppliedRecord
}

func (req *CheckRequest) Validate() error {
	req.records = make([]models.SuppliedRecord, len(req.Records))
	for i, raw := range req.Records {
		stage, err := id.ParseStage(raw.Stage)
		if err != nil {
			return err
		}
		digest, err := id.ParseDigest(raw.StageDigest)
		if err != nil {
			return err
		}
		req.records[i] = models.SuppliedRecord{Stage: stage, StageDigest: digest}
	}
	return nil
}

// HandleCheck handles POST /verify/{itemID} requests, comparing an
// externally held copy of the chain against the stored records.
func (h *VerifyHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*CheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.verifier.Check(ctx, itemID, req.records)
	if err != nil {
		h.logger.ErrorContext(ctx, "integrity check failed",
			"request_id", requestID,
			"item_id", itemID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "integrity check finished",
		"request_id", requestID,
		"item_id", itemID,
		"valid", result.IsValid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

type ReportTamperRequest struct {
	Stage          int    `json:"stage"`
	ExpectedDigest string `json:"expected_digest"`
	ActualDigest   string `json:"actual_digest"`

	stage    id.Stage
	expected id.Digest
	actual   id.Digest
}

func (req *ReportTamperRequest) Validate() error {
	stage, err := id.ParseStage(req.Stage)
	if err != nil {
		return err
	}
	expected, err := id.ParseDigest(req.ExpectedDigest)
	if err != nil {
		return err
	}
	actual, err := id.ParseDigest(req.ActualDigest)
	if err != nil {
		return err
	}
	req.stage = stage
	req.expected = expected
	req.actual = actual
	return nil
}

// HandleReportTamper handles POST /verify/{itemID}/tamper requests.
func (h *VerifyHandler) HandleReportTamper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*ReportTamperRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.verifier.ReportTamper(ctx, itemID, req.stage, req.expected, req.actual, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "tamper report failed",
			"request_id", requestID,
			"item_id", itemID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, report)
}

// HandleListReports handles GET /verify/{itemID}/reports requests.
func (h *VerifyHandler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reports, err := h.verifier.ListReports(ctx, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

type CheckAllRequest struct {
	ItemIDs []string `json:"item_ids"`

	itemIDs []id.ItemID
}

func (req *CheckAllRequest) Validate() error {
	if len(req.ItemIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "item_ids is required")
	}
	req.itemIDs = make([]id.ItemID, len(req.ItemIDs))
	for i, raw := range req.ItemIDs {
		itemID, err := id.ParseItemID(raw)
		if err != nil {
			return err
		}
		req.itemIDs[i] = itemID
	}
	return nil
}

// HandleCheckAll handles POST /verify/sweep requests, walking many chains
// with bounded parallelism.
func (h *VerifyHandler) HandleCheckAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[*CheckAllRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	results, err := h.verifier.CheckAll(ctx, req.itemIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "integrity sweep finished",
		"request_id", requestID,
		"items", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}
