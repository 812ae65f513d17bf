package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	batchservice "custodia/internal/batch/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// BatchHandler wires batch grouping and lineage endpoints to the lineage
// service.
type BatchHandler struct {
	lineage *batchservice.Lineage
	logger  *slog.Logger
}

func NewBatchHandler(lineage *batchservice.Lineage, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{lineage: lineage, logger: logger}
}

// Register mounts batch endpoints on the router.
func (h *BatchHandler) Register(r chi.Router) {
	r.Post("/batches", h.HandleCreate)
	r.Post("/batches/merge", h.HandleMerge)
	r.Get("/batches/{batchID}", h.HandleGet)
	r.Post("/batches/{batchID}/items", h.HandleAddItem)
	r.Post("/batches/{batchID}/split", h.HandleSplit)
	r.Post("/batches/{batchID}/move-item", h.HandleMoveItem)
	r.Get("/batches/{batchID}/lineage", h.HandleLineage)
}

type CreateBatchRequest struct {
	Code          string `json:"code"`
	ContentDigest string `json:"content_digest"`

	contentDigest id.Digest
}

func (req *CreateBatchRequest) Validate() error {
	if req.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	digest, err := id.ParseDigest(req.ContentDigest)
	if err != nil {
		return err
	}
	req.contentDigest = digest
	return nil
}

// HandleCreate handles POST /batches requests.
func (h *BatchHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[*CreateBatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	batch, err := h.lineage.CreateBatch(ctx, req.Code, req.contentDigest, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "batch creation failed",
			"request_id", requestID,
			"code", req.Code,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batch created",
		"request_id", requestID,
		"batch_id", batch.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, batch)
}

// HandleGet handles GET /batches/{batchID} requests.
func (h *BatchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	batch, err := h.lineage.Get(ctx, batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

type AddBatchItemRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`

	itemID id.ItemID
}

func (req *AddBatchItemRequest) Validate() error {
	itemID, err := id.ParseItemID(req.ItemID)
	if err != nil {
		return err
	}
	if req.Quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	req.itemID = itemID
	return nil
}

// HandleAddItem handles POST /batches/{batchID}/items requests.
func (h *BatchHandler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*AddBatchItemRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	batch, err := h.lineage.AddItem(ctx, batchID, req.itemID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

type SplitBatchRequest struct {
	Quantities []int64  `json:"quantities"`
	NewCodes   []string `json:"new_codes"`
}

func (req *SplitBatchRequest) Validate() error {
	if len(req.Quantities) < 2 {
		return dErrors.New(dErrors.CodeValidation, "a split needs at least two parts")
	}
	if len(req.Quantities) != len(req.NewCodes) {
		return dErrors.New(dErrors.CodeValidation, "one code is required per split part")
	}
	return nil
}

// HandleSplit handles POST /batches/{batchID}/split requests.
func (h *BatchHandler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*SplitBatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	children, err := h.lineage.Split(ctx, batchID, req.Quantities, req.NewCodes, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "batch split failed",
			"request_id", requestID,
			"batch_id", batchID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batch split",
		"request_id", requestID,
		"batch_id", batchID,
		"children", len(children),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"batches": children})
}

type MergeBatchesRequest struct {
	BatchIDs []string `json:"batch_ids"`
	NewCode  string   `json:"new_code"`

	batchIDs []id.BatchID
}

func (req *MergeBatchesRequest) Validate() error {
	if len(req.BatchIDs) < 2 {
		return dErrors.New(dErrors.CodeValidation, "a merge needs at least two source batches")
	}
	if req.NewCode == "" {
		return dErrors.New(dErrors.CodeValidation, "new_code is required")
	}
	req.batchIDs = make([]id.BatchID, len(req.BatchIDs))
	for i, raw := range req.BatchIDs {
		batchID, err := id.ParseBatchID(raw)
		if err != nil {
			return err
		}
		req.batchIDs[i] = batchID
	}
	return nil
}

// HandleMerge handles POST /batches/merge requests.
func (h *BatchHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[*MergeBatchesRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	merged, err := h.lineage.Merge(ctx, req.batchIDs, req.NewCode, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "batch merge failed",
			"request_id", requestID,
			"sources", len(req.batchIDs),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batches merged",
		"request_id", requestID,
		"merged_id", merged.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, merged)
}

type MoveBatchItemRequest struct {
	ToBatchID string `json:"to_batch_id"`
	ItemID    string `json:"item_id"`

	toBatchID id.BatchID
	itemID    id.ItemID
}

func (req *MoveBatchItemRequest) Validate() error {
	toBatchID, err := id.ParseBatchID(req.ToBatchID)
	if err != nil {
		return err
	}
	itemID, err := id.ParseItemID(req.ItemID)
	if err != nil {
		return err
	}
	req.toBatchID = toBatchID
	req.itemID = itemID
	return nil
}

// HandleMoveItem handles POST /batches/{batchID}/move-item requests,
// relocating a member from a split source into one of its children.
func (h *BatchHandler) HandleMoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	fromID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*MoveBatchItemRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.lineage.MoveItem(ctx, fromID, req.toBatchID, req.itemID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"moved": true})
}

// HandleLineage handles GET /batches/{batchID}/lineage requests.
func (h *BatchHandler) HandleLineage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relationships, err := h.lineage.Lineage(ctx, batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"relationships": relationships})
}
