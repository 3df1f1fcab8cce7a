// Package httpserver builds the audit API's HTTP listener.
package httpserver

import (
	"net/http"
	"time"
)

// Config tunes the listener. Zero values fall back to defaults suited to
// the small JSON payloads this API serves.
type Config struct {
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// New builds the server. Per-request deadlines belong to handler contexts;
// the listener only guards against slow or idle connections.
func New(addr string, handler http.Handler, cfg Config) *http.Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
