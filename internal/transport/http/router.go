// Package httptransport is the thin HTTP layer. Handlers decode, validate,
// and delegate to the domain services; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/pkg/platform/httputil"
)

// Handlers bundles the per-module handlers the router mounts.
type Handlers struct {
	Items     *ItemHandler
	Ledger    *LedgerHandler
	Transfers *TransferHandler
	Batches   *BatchHandler
	Verify    *VerifyHandler
}

// NewRouter assembles the full route table. Every domain endpoint sits
// behind bearer auth; health and metrics stay open for probes and
// scrapers.
func NewRouter(h Handlers, validator TokenValidator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover(logger))
	r.Use(RequestTime)
	r.Use(Tracing)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(validator, logger))
		h.Items.Register(r)
		h.Ledger.Register(r)
		h.Transfers.Register(r)
		h.Batches.Register(r)
		h.Verify.Register(r)
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
