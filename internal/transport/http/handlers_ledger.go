package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	ledgerservice "custodia/internal/ledger/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// LedgerHandler wires stage-chain endpoints to the ledger service.
type LedgerHandler struct {
	ledger *ledgerservice.Ledger
	logger *slog.Logger
}

func NewLedgerHandler(ledger *ledgerservice.Ledger, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// Register mounts ledger endpoints on the router.
func (h *LedgerHandler) Register(r chi.Router) {
	r.Post("/items/{itemID}/stages", h.HandleAppendStage)
	r.Get("/items/{itemID}/chain", h.HandleChain)
	r.Get("/items/{itemID}/chain/intact", h.HandleChainIntact)
	r.Get("/items/{itemID}/chain/tail", h.HandleTailDigest)
	r.Get("/items/{itemID}/stages/{stage}/verify", h.HandleVerifyStage)
}

type AppendStageRequest struct {
	Stage       int    `json:"stage"`
	StageDigest string `json:"stage_digest"`

	stage       id.Stage
	stageDigest id.Digest
}

func (req *AppendStageRequest) Validate() error {
	stage, err := id.ParseStage(req.Stage)
	if err != nil {
		return err
	}
	digest, err := id.ParseDigest(req.StageDigest)
	if err != nil {
		return err
	}
	req.stage = stage
	req.stageDigest = digest
	return nil
}

// HandleAppendStage handles POST /items/{itemID}/stages requests.
func (h *LedgerHandler) HandleAppendStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*AppendStageRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.ledger.AppendStage(ctx, itemID, req.stage, req.stageDigest, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "stage append failed",
			"request_id", requestID,
			"item_id", itemID,
			"stage", req.stage,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "stage appended",
		"request_id", requestID,
		"item_id", itemID,
		"stage", req.stage,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, record)
}

// HandleChain handles GET /items/{itemID}/chain requests.
func (h *LedgerHandler) HandleChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	chain, err := h.ledger.Chain(ctx, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": chain})
}

// HandleChainIntact handles GET /items/{itemID}/chain/intact requests.
func (h *LedgerHandler) HandleChainIntact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	intact, err := h.ledger.IsChainIntact(ctx, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"intact": intact})
}

// HandleTailDigest handles GET /items/{itemID}/chain/tail requests.
func (h *LedgerHandler) HandleTailDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	digest, err := h.ledger.TailDigest(ctx, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tail_digest": digest})
}

// HandleVerifyStage handles GET /items/{itemID}/stages/{stage}/verify
// requests. The digest to compare arrives as a query parameter so the
// check stays a cacheable read.
func (h *LedgerHandler) HandleVerifyStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ordinal, err := strconv.Atoi(chi.URLParam(r, "stage"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "stage must be an integer"))
		return
	}
	stage, err := id.ParseStage(ordinal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	supplied, err := id.ParseDigest(r.URL.Query().Get("digest"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	match, err := h.ledger.VerifyStageDigest(ctx, itemID, stage, supplied)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"match": match})
}
