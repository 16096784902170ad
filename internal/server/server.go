// Package server exposes an adapter.Adapter over the HTTP wire contract
// consumed by adapter.Remote:
//
//	GET    /api/v1/{resource}       200 + JSON array
//	POST   /api/v1/{resource}       201 + created record
//	PATCH  /api/v1/{resource}/{id}  200 + updated record
//	DELETE /api/v1/{resource}/{id}  204
//
// Failures answer {"error":{"code":...,"message":...}}.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server is an http.Handler serving one adapter.
type Server struct {
	adapter adapter.Adapter
	logger  *slog.Logger
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server backed by a.
func New(a adapter.Adapter, opts ...Option) *Server {
	s := &Server{
		adapter: a,
		logger:  slog.Default(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	prefix := adapter.APIPrefix
	s.mux.HandleFunc("GET "+prefix+"{resource}", s.handleList)
	s.mux.HandleFunc("POST "+prefix+"{resource}", s.handleCreate)
	s.mux.HandleFunc("PATCH "+prefix+"{resource}/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE "+prefix+"{resource}/{id}", s.handleRemove)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return s
}

// ServeHTTP logs and dispatches the request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	records, err := s.adapter.List(r.Context(), resource)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	partial, ok := s.readObject(w, r, resource)
	if !ok {
		return
	}
	rec, err := s.adapter.Create(r.Context(), resource, partial)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	id := record.ParsePathID(r.PathValue("id"))
	patch, ok := s.readObject(w, r, resource)
	if !ok {
		return
	}
	rec, err := s.adapter.Update(r.Context(), resource, id, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	id := record.ParsePathID(r.PathValue("id"))
	if err := s.adapter.Remove(r.Context(), resource, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readObject decodes the request body as a JSON object. It answers 400
// itself when the body is not one.
func (s *Server) readObject(w http.ResponseWriter, r *http.Request, resource string) (record.Fields, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, adapter.KindValidation, fmt.Sprintf("read body: %v", err))
		return nil, false
	}
	m, err := record.DecodeObject(data)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, adapter.KindValidation, err.Error())
		return nil, false
	}
	return record.Fields(m), true
}

// StatusFor maps an error kind to its wire status.
func StatusFor(kind adapter.Kind) int {
	switch kind {
	case adapter.KindValidation:
		return http.StatusUnprocessableEntity
	case adapter.KindNotFound:
		return http.StatusNotFound
	case adapter.KindConnectivity:
		return http.StatusServiceUnavailable
	case adapter.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := adapter.KindOf(err)
	if kind == "" {
		kind = adapter.KindUnexpected
	}
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", string(kind), "error", err)
	}

	msg := err.Error()
	var ae *adapter.Error
	if errors.As(err, &ae) {
		msg = ae.Message
		if ae.Err != nil {
			msg += ": " + ae.Err.Error()
		}
	}
	s.writeJSONError(w, status, kind, msg)
}

type errorBody struct {
	Code    adapter.Kind `json:"code"`
	Message string       `json:"message"`
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, kind adapter.Kind, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": errorBody{Code: kind, Message: message},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := marshal(payload)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// marshal writes records canonically and anything else with encoding/json.
func marshal(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case record.Record, []record.Record:
		return record.MarshalCanonical(p)
	default:
		return json.Marshal(p)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
