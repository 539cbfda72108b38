// Package handler provides the HTTP handlers for the storage server.
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stevemurr/simple-storage-server/errors"
	"github.com/stevemurr/simple-storage-server/storage"
)

// Resources are the route families that expose the document operations.
// Both serve the same contract.
var Resources = []string{"storage", "usermodel"}

const (
	msgSuccess      = "Success."
	msgInvalidJSON  = "Invalid JSON body."
	msgNotAnObject  = "Request body must be a JSON object."
	msgBodyTooLarge = "Request body too large."
	msgNotFound     = "Not Found"

	msgTooManyRequests = "Too many requests, try again later."
)

// Options configures a Handler. Zero values select the defaults.
type Options struct {
	APIPath      string
	MaxBodyBytes int64
	// Gatherer, when set, is served on /metrics.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	storage *storage.Storage
	mux     *http.ServeMux
	logger  *slog.Logger
	apiPath string
	maxBody int64
}

// New creates a Handler and wires up all routes.
func New(s *storage.Storage, opts Options) *Handler {
	if opts.APIPath == "" {
		opts.APIPath = "/api"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		storage: s,
		mux:     http.NewServeMux(),
		logger:  opts.Logger.With("component", "handler"),
		apiPath: strings.TrimRight(opts.APIPath, "/"),
		maxBody: opts.MaxBodyBytes,
	}
	h.routes()
	if opts.Gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// routes registers, for each resource under the API path:
//
//	GET    /{res}/{prefix}/{suffix}         document, or JSON null when absent
//	POST   /{res}/{prefix}/{suffix}         create
//	PUT    /{res}/{prefix}/{suffix}         create or replace
//	PATCH  /{res}/{prefix}/{suffix}         replace an existing document
//	POST   /{res}/update/{prefix}/{suffix}  merge dotted-path fields
//	DELETE /{res}/{prefix}/{suffix}         delete
func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("GET /health", h.health)
	if h.apiPath != "" {
		h.mux.HandleFunc("GET "+h.apiPath+"/health", h.health)
	}

	for _, res := range Resources {
		base := h.apiPath + "/" + res
		h.mux.HandleFunc("GET "+base+"/{prefix}/{suffix}", h.get)
		h.mux.HandleFunc("POST "+base+"/{prefix}/{suffix}", h.create)
		h.mux.HandleFunc("PUT "+base+"/{prefix}/{suffix}", h.updateAndSet)
		h.mux.HandleFunc("PATCH "+base+"/{prefix}/{suffix}", h.update)
		h.mux.HandleFunc("POST "+base+"/update/{prefix}/{suffix}", h.updateFields)
		h.mux.HandleFunc("DELETE "+base+"/{prefix}/{suffix}", h.del)
	}

	h.mux.HandleFunc("/", h.notFound)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeError maps a storage error onto its status code and public message.
func writeError(w http.ResponseWriter, err error) {
	writeMessage(w, errors.Status(err), errors.PublicMessage(err))
}

// bodyError is a request body the server refuses to read as a document.
type bodyError struct {
	status int
	msg    string
}

func (e *bodyError) Error() string { return e.msg }

// readDocument decodes the request body as a JSON object. An empty body is
// an empty document. Errors are *bodyError.
func (h *Handler) readDocument(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))

	var v any
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return map[string]any{}, nil
		case stderrors.As(err, &tooLarge):
			return nil, &bodyError{http.StatusRequestEntityTooLarge, msgBodyTooLarge}
		default:
			return nil, &bodyError{http.StatusBadRequest, msgInvalidJSON}
		}
	}
	if dec.More() {
		return nil, &bodyError{http.StatusBadRequest, msgInvalidJSON}
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, &bodyError{http.StatusBadRequest, msgNotAnObject}
	}
	return doc, nil
}

// operationContext detaches the backend call from the client connection so
// a disconnect cannot abort a write halfway.
func operationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "Simple Storage Server",
		"api":       h.apiPath,
		"resources": Resources,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !h.storage.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"backend": "unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "backend": "ready"})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusNotFound, msgNotFound)
}

// ---------- document endpoints ----------

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.storage.Get(operationContext(r), r.PathValue("prefix"), r.PathValue("suffix"))
	if err != nil {
		writeError(w, err)
		return
	}
	// A missing document is a successful JSON null rather than an empty
	// body, so every 200 response parses as JSON.
	if doc == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// docOp is a storage write that takes the decoded request body.
type docOp func(ctx context.Context, prefix, suffix string, doc map[string]any) error

func (h *Handler) withBody(op docOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := h.readDocument(w, r)
		if err != nil {
			var be *bodyError
			if !stderrors.As(err, &be) {
				be = &bodyError{http.StatusBadRequest, msgInvalidJSON}
			}
			h.logger.DebugContext(r.Context(), "request body rejected", "path", r.URL.Path, "status", be.status, "reason", be.msg)
			writeMessage(w, be.status, be.msg)
			return
		}
		if err := op(operationContext(r), r.PathValue("prefix"), r.PathValue("suffix"), doc); err != nil {
			writeError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, msgSuccess)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	h.withBody(h.storage.Create)(w, r)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.withBody(h.storage.Update)(w, r)
}

func (h *Handler) updateFields(w http.ResponseWriter, r *http.Request) {
	h.withBody(h.storage.UpdateFields)(w, r)
}

func (h *Handler) updateAndSet(w http.ResponseWriter, r *http.Request) {
	h.withBody(h.storage.UpdateAndSet)(w, r)
}

func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Del(operationContext(r), r.PathValue("prefix"), r.PathValue("suffix")); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, msgSuccess)
}

// String describes the mounted routes, for startup logging.
func (h *Handler) String() string {
	return fmt.Sprintf("%s/{%s}/{prefix}/{suffix}", h.apiPath, strings.Join(Resources, ","))
}
