package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// soapContentType is used for responses that do not name their own type
const soapContentType = "application/soap+xml; charset=utf-8"

// Handler processes an inbound message and returns the back-channel
// response. A nil response is answered with 202 Accepted and no body.
type Handler interface {
	Handle(ctx context.Context, body io.Reader, contentType string) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, body io.Reader, contentType string) (*Response, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, body io.Reader, contentType string) (*Response, error) {
	return f(ctx, body, contentType)
}

// HTTPSServer accepts messages posted to DefaultPath and hands them to a
// Handler
type HTTPSServer struct {
	server  *http.Server
	handler Handler
	limit   int64
	tls     bool
}

// NewHTTPSServer builds a server listening on addr. A nil config means
// DefaultHTTPSConfig.
func NewHTTPSServer(addr string, config *HTTPSConfig, handler Handler) *HTTPSServer {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	s := &HTTPSServer{
		handler: handler,
		limit:   config.maxBodySize(),
		tls:     len(config.Certificates) > 0,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPath, s.serveMessage)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		TLSConfig:    config.tlsConfig(true),
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		IdleTimeout:  config.IdleConnTimeout,
	}
	return s
}

// HTTPHandler returns the server's request multiplexer.
func (s *HTTPSServer) HTTPHandler() http.Handler {
	return s.server.Handler
}

func (s *HTTPSServer) serveMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body := http.MaxBytesReader(w, r.Body, s.limit)
	resp, err := s.handler.Handle(r.Context(), body, r.Header.Get("Content-Type"))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to process message: %v", err), http.StatusInternalServerError)
		return
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	if resp.Empty() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	status, ct := resp.Status, resp.ContentType
	if status == 0 {
		status = http.StatusOK
	}
	if ct == "" {
		ct = soapContentType
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// Start serves TLS until Shutdown. It fails when no certificate is
// configured.
func (s *HTTPSServer) Start() error {
	if !s.tls {
		return errors.New("transport: no TLS certificates configured")
	}
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown stops accepting connections and waits for active requests
func (s *HTTPSServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
