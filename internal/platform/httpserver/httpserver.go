package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Request bodies are small digest payloads, so
// the read side is tight; the write timeout leaves room for chain walks
// and verification sweeps over long-lived items.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
