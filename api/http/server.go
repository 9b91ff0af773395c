// Package http implements the authenticated REST API over the user, device,
// message, and file stores, the admin master-key-gated management endpoints,
// and the /ws upgrade entry point into a relay session.
package http

import (
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second // long enough for a multipart file upload.
	idleTimeout       = 60 * time.Second
	maxHeaderBytes    = 32 << 10
)

// NewServer builds an *http.Server with the conservative timeouts the relay
// uses everywhere except the /ws path (which is hijacked by the websocket
// upgrader and so is not governed by these settings).
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}
