package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	transferservice "custodia/internal/transfer/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// TransferHandler wires custody transfer endpoints to the protocol service.
type TransferHandler struct {
	protocol *transferservice.Protocol
	logger   *slog.Logger
}

func NewTransferHandler(protocol *transferservice.Protocol, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{protocol: protocol, logger: logger}
}

// Register mounts transfer endpoints on the router.
func (h *TransferHandler) Register(r chi.Router) {
	r.Post("/transfers", h.HandleInitiate)
	r.Get("/transfers", h.HandleListByActor)
	r.Get("/transfers/{transferID}", h.HandleGet)
	r.Post("/transfers/{transferID}/accept", h.HandleAccept)
	r.Post("/transfers/{transferID}/reject", h.HandleReject)
	r.Post("/transfers/{transferID}/complete", h.HandleComplete)
	r.Post("/transfers/{transferID}/force-reject", h.HandleForceReject)
}

type InitiateTransferRequest struct {
	ItemID               string `json:"item_id"`
	To                   string `json:"to"`
	SourceStage          int    `json:"source_stage"`
	TargetStage          int    `json:"target_stage"`
	TransferDigest       string `json:"transfer_digest"`
	ConditionsDigest     string `json:"conditions_digest,omitempty"`
	RequiresVerification bool   `json:"requires_verification"`

	itemID           id.ItemID
	to               id.ActorID
	sourceStage      id.Stage
	targetStage      id.Stage
	transferDigest   id.Digest
	conditionsDigest id.Digest
}

func (req *InitiateTransferRequest) Validate() error {
	itemID, err := id.ParseItemID(req.ItemID)
	if err != nil {
		return err
	}
	to, err := id.ParseActorID(req.To)
	if err != nil {
		return err
	}
	sourceStage, err := id.ParseStage(req.SourceStage)
	if err != nil {
		return err
	}
	targetStage, err := id.ParseStage(req.TargetStage)
	if err != nil {
		return err
	}
	transferDigest, err := id.ParseDigest(req.TransferDigest)
	if err != nil {
		return err
	}
	if req.ConditionsDigest != "" {
		conditionsDigest, err := id.ParseDigest(req.ConditionsDigest)
		if err != nil {
			return err
		}
		req.conditionsDigest = conditionsDigest
	}
	req.itemID = itemID
	req.to = to
	req.sourceStage = sourceStage
	req.targetStage = targetStage
	req.transferDigest = transferDigest
	return nil
}

// HandleInitiate handles POST /transfers requests. The acting party is
// always the sending side.
func (h *TransferHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[*InitiateTransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	transfer, err := h.protocol.Initiate(ctx,
		req.itemID, requestcontext.Actor(ctx), req.to,
		req.sourceStage, req.targetStage,
		req.transferDigest, req.conditionsDigest,
		req.RequiresVerification,
	)
	if err != nil {
		h.logger.ErrorContext(ctx, "transfer initiation failed",
			"request_id", requestID,
			"item_id", req.itemID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "transfer initiated",
		"request_id", requestID,
		"transfer_id", transfer.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, transfer)
}

// HandleGet handles GET /transfers/{transferID} requests.
func (h *TransferHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	transfer, err := h.protocol.Get(ctx, transferID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transfer)
}

// HandleListByActor handles GET /transfers requests, scoped to the acting
// party's participation.
func (h *TransferHandler) HandleListByActor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	transfers, err := h.protocol.ListByActor(ctx, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

// HandleAccept handles POST /transfers/{transferID}/accept requests.
func (h *TransferHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	transfer, err := h.protocol.Accept(ctx, transferID, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transfer)
}

type RejectTransferRequest struct {
	Reason string `json:"reason"`
}

func (req *RejectTransferRequest) Validate() error {
	if req.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// HandleReject handles POST /transfers/{transferID}/reject requests.
func (h *TransferHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*RejectTransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	transfer, err := h.protocol.Reject(ctx, transferID, requestcontext.Actor(ctx), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transfer)
}

type CompleteTransferRequest struct {
	CompletionDigest string `json:"completion_digest"`

	completionDigest id.Digest
}

func (req *CompleteTransferRequest) Validate() error {
	digest, err := id.ParseDigest(req.CompletionDigest)
	if err != nil {
		return err
	}
	req.completionDigest = digest
	return nil
}

// HandleComplete handles POST /transfers/{transferID}/complete requests.
func (h *TransferHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*CompleteTransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	transfer, err := h.protocol.Complete(ctx, transferID, requestcontext.Actor(ctx), req.completionDigest)
	if err != nil {
		h.logger.ErrorContext(ctx, "transfer completion failed",
			"request_id", requestID,
			"transfer_id", transferID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "transfer completed",
		"request_id", requestID,
		"transfer_id", transferID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, transfer)
}

// HandleForceReject handles POST /transfers/{transferID}/force-reject
// requests. Emergency capability is enforced by the protocol service.
func (h *TransferHandler) HandleForceReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[*RejectTransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	transfer, err := h.protocol.ForceReject(ctx, transferID, requestcontext.Actor(ctx), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transfer)
}
