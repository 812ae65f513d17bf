package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/collaborator"
	itemservice "custodia/internal/item/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// ItemHandler wires registry endpoints to the registry service.
type ItemHandler struct {
	registry *itemservice.Registry
	logger   *slog.Logger
}

func NewItemHandler(registry *itemservice.Registry, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{registry: registry, logger: logger}
}

// Register mounts registry endpoints on the router.
func (h *ItemHandler) Register(r chi.Router) {
	r.Post("/items", h.HandleRegister)
	r.Get("/items", h.HandleListByOwner)
	r.Get("/items/by-code/{code}", h.HandleGetByCode)
	r.Get("/items/{itemID}", h.HandleGet)
	r.Post("/items/{itemID}/deactivate", h.HandleDeactivate)
	r.Post("/items/{itemID}/reactivate", h.HandleReactivate)
	r.Post("/items/{itemID}/quality", h.HandleQuality)
}

type RegisterItemRequest struct {
	BatchCode  string `json:"batch_code"`
	RootDigest string `json:"root_digest"`

	rootDigest id.Digest
}

func (req *RegisterItemRequest) Validate() error {
	if req.BatchCode == "" {
		return dErrors.New(dErrors.CodeValidation, "batch_code is required")
	}
	digest, err := id.ParseDigest(req.RootDigest)
	if err != nil {
		return err
	}
	req.rootDigest = digest
	return nil
}

// HandleRegister handles POST /items requests.
func (h *ItemHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[*RegisterItemRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	item, err := h.registry.Register(ctx, req.BatchCode, req.rootDigest, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "item registration failed",
			"request_id", requestID,
			"batch_code", req.BatchCode,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "item registered",
		"request_id", requestID,
		"item_id", item.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, item)
}

// HandleGet handles GET /items/{itemID} requests.
func (h *ItemHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.registry.Get(ctx, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// HandleGetByCode handles GET /items/by-code/{code} requests.
func (h *ItemHandler) HandleGetByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	item, err := h.registry.GetByBatchCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// HandleListByOwner handles GET /items?owner= requests.
func (h *ItemHandler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, err := id.ParseActorID(r.URL.Query().Get("owner"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "owner query parameter is required"))
		return
	}
	items, err := h.registry.ListByOwner(ctx, owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type DeactivateItemRequest struct {
	Reason string `json:"reason"`
}

func (req *DeactivateItemRequest) Validate() error {
	if req.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// HandleDeactivate handles POST /items/{itemID}/deactivate requests.
func (h *ItemHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*DeactivateItemRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	item, err := h.registry.Deactivate(ctx, itemID, requestcontext.Actor(ctx), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// HandleReactivate handles POST /items/{itemID}/reactivate requests.
func (h *ItemHandler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.registry.Reactivate(ctx, itemID, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

type QualityEvidenceRequest struct {
	EvidenceDigest string  `json:"evidence_digest"`
	Confidence     float64 `json:"confidence"`

	evidenceDigest id.Digest
}

func (req *QualityEvidenceRequest) Validate() error {
	digest, err := id.ParseDigest(req.EvidenceDigest)
	if err != nil {
		return err
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return dErrors.New(dErrors.CodeValidation, "confidence must be within [0,1]")
	}
	req.evidenceDigest = digest
	return nil
}

// HandleQuality handles POST /items/{itemID}/quality requests. The acting
// party is recorded as the oracle.
func (h *ItemHandler) HandleQuality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*QualityEvidenceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	item, err := h.registry.AttachQualityEvidence(ctx, itemID, collaborator.QualityResult{
		EvidenceDigest: req.evidenceDigest,
		Confidence:     req.Confidence,
		Oracle:         requestcontext.Actor(ctx),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}
