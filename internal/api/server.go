// Package api implements the HTTP surface (spec.md §6): the minimal
// set of engine-relevant endpoints that feed and observe the Engine.
// Domain endpoints (cluster launch, job submit, ...) follow the same
// POST /<operation> pattern, parameterized by (name, entrypoint kind,
// schedule type) — registering one is the daemon's job, not this
// package's; this package only knows how to turn any such
// registration into a route.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/oriys/aperture/internal/engine"
	"github.com/oriys/aperture/internal/logging"
	"github.com/oriys/aperture/internal/metrics"
	"github.com/oriys/aperture/internal/observability"
	"github.com/oriys/aperture/internal/queue"
	"github.com/oriys/aperture/internal/service"
)

// Operation binds an HTTP-visible name to an entrypoint kind and the
// lane it schedules onto.
type Operation struct {
	Name         string
	Entrypoint   string
	ScheduleType engine.ScheduleType
}

// Server is the HTTP surface over one Engine.
type Server struct {
	engine     *service.Engine
	mux        *http.ServeMux
	pollEvery  time.Duration
	httpServer *http.Server
}

// NewServer builds the ServeMux described in spec.md §6 plus one
// POST route per operation.
func NewServer(eng *service.Engine, addr string, operations []Operation) *Server {
	s := &Server{
		engine:    eng,
		mux:       http.NewServeMux(),
		pollEvery: 200 * time.Millisecond,
	}

	for _, op := range operations {
		op := op
		s.mux.HandleFunc("POST /"+op.Name, s.handleOperation(op))
	}

	s.mux.HandleFunc("GET /get", s.handleGet)
	s.mux.HandleFunc("GET /stream", s.handleStream)
	s.mux.HandleFunc("POST /abort", s.handleAbort)
	s.mux.HandleFunc("GET /requests", s.handleRequests)
	s.mux.HandleFunc("POST /requests", s.handleRequests)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: chain(s.mux, requestIDMiddleware, corsMiddleware),
	}
	return s
}

// ListenAndServe starts the HTTP server. It blocks until the server
// stops (on Shutdown or a fatal listen error).
func (s *Server) ListenAndServe() error {
	logging.Op().Info("http server starting", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleOperation creates a Request record for op and enqueues it,
// acknowledging with the request ID in X-Request-ID (spec.md §6's
// POST /<operation> row).
func (s *Server) handleOperation(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartRequestSpan(r.Context(), "request.submit",
			observability.AttrEntrypoint.String(op.Entrypoint),
			observability.AttrScheduleType.String(string(op.ScheduleType)),
		)
		defer span.End()

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			observability.EndRequestSpan(span, err)
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}

		sanitized, _, err := SanitizeRequestBody(raw)
		if err != nil {
			observability.EndRequestSpan(span, err)
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		userID := r.Header.Get("X-User-ID")
		requestID := r.Header.Get("X-Request-ID")

		id, err := s.engine.ScheduleRequest(ctx, op.Name, op.Entrypoint, sanitized, userID, op.ScheduleType, false, requestID)
		if err != nil {
			observability.EndRequestSpan(span, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		span.SetAttributes(observability.AttrRequestID.String(id))
		observability.EndRequestSpan(span, nil)

		w.Header().Set("X-Request-ID", id)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": id})
	}
}

// handleGet long-polls until the record's status is terminal, then
// returns the full record. 404 if unknown.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("request_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		req, err := s.engine.Store.Get(r.Context(), id)
		if err != nil {
			if err == engine.ErrNotFound {
				writeError(w, http.StatusNotFound, "unknown request_id")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if req.Status.Terminal() {
			writeJSON(w, http.StatusOK, req)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleStream streams the log file as text/plain, waiting until
// RUNNING, then tailing until the record reaches a terminal status.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("request_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	ctx := r.Context()
	req, err := s.waitUntilStarted(ctx, id)
	if err != nil {
		if err == engine.ErrNotFound {
			writeError(w, http.StatusNotFound, "unknown request_id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	f, err := os.Open(req.LogPath)
	if err != nil {
		fmt.Fprintf(w, "error opening log: %v\n", err)
		return
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	wake := s.engine.Notifier.Subscribe(ctx, queue.QueueStream)

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			io.WriteString(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == nil {
			continue
		}

		cur, err := s.engine.Store.Get(ctx, id)
		if err != nil {
			return
		}
		if cur.Status.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(time.Second):
		}
	}
}

// waitUntilStarted blocks until id's record leaves PENDING (reaches
// RUNNING or a terminal status), so /stream never opens a log file
// before it is guaranteed to exist — it always does (created at
// CreateIfNotExists), but this also means we never tail a request
// that hasn't been picked up by a worker yet.
func (s *Server) waitUntilStarted(ctx context.Context, id string) (*engine.Request, error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		req, err := s.engine.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Status != engine.StatusPending {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// abortBody is POST /abort's optional body; an absent/empty
// request_id means "abort everything pending/running".
type abortBody struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var body abortBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if body.RequestID == "" {
		if err := s.engine.AbortAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if _, err := s.engine.Store.Get(r.Context(), body.RequestID); err != nil {
		if err == engine.ErrNotFound {
			writeError(w, http.StatusNotFound, "unknown request_id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.engine.Abort(r.Context(), body.RequestID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("request_id")
	if id == "" && r.Method == http.MethodPost {
		var body abortBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		id = body.RequestID
	}

	if id != "" {
		req, err := s.engine.Store.Get(r.Context(), id)
		if err != nil {
			if err == engine.ErrNotFound {
				writeError(w, http.StatusNotFound, "unknown request_id")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, []*engine.Request{req})
		return
	}

	reqs, err := s.engine.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Aperture request execution engine: healthy\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
