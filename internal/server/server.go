// Package server provides the HTTP write and read endpoints of the relay.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jnst/event-relay/internal/buffer"
	"github.com/jnst/event-relay/internal/model"
	"github.com/jnst/event-relay/internal/repository"
	"github.com/jnst/event-relay/internal/service"
)

const (
	contentTypeJSON        = "Content-Type"
	applicationJSON        = "application/json"
	failedToEncodeResponse = "failed to encode response"
	maxRequestBodyBytes    = 1 << 20
	viewEvents             = "events"
)

// Options wires the server to the relay components present in this process.
// Producer is nil for a read-only process and ReadBuffer is nil for a
// write-only one; the matching endpoints then answer 503.
type Options struct {
	Producer   service.ProducerService
	ReadBuffer *buffer.Ring
	EventRepo  repository.EventRepository
	Stats      *service.Stats
	Topic      string
}

// APIServer handles HTTP requests for the relay.
type APIServer struct {
	producer   service.ProducerService
	readBuffer *buffer.Ring
	eventRepo  repository.EventRepository
	stats      *service.Stats
	topic      string
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(opts Options) *APIServer {
	return &APIServer{
		producer:   opts.Producer,
		readBuffer: opts.ReadBuffer,
		eventRepo:  opts.EventRepo,
		stats:      opts.Stats,
		topic:      opts.Topic,
	}
}

// Routes returns the HTTP handler with all endpoints registered.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/write", s.WriteEvent)
	mux.HandleFunc("/api/read", s.ReadEvents)
	mux.HandleFunc("/api/events", s.ListStoredEvents)
	mux.HandleFunc("/api/stats", s.Stats)
	mux.HandleFunc("/health", s.HealthCheck)

	return mux
}

// WriteEvent handles POST /api/write: relays {content} to the broker and store.
func (s *APIServer) WriteEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.producer == nil {
		http.Error(w, "Write endpoint not enabled", http.StatusServiceUnavailable)
		return
	}

	var req model.WriteEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	receipt, err := s.producer.Send(r.Context(), s.topic, req.Content)
	if err != nil {
		if errors.Is(err, model.ErrInvalidArgument) {
			http.Error(w, "Invalid post data.", http.StatusBadRequest)
			return
		}

		slog.Error("error sending message to broker", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusAccepted, model.WriteEventResponse{
		ID:        receipt.EventID,
		CreatedAt: receipt.CreatedAt,
	})
}

// ReadEvents handles GET /api/read: the read buffer snapshot as payload
// strings, or as events with ?view=events.
func (s *APIServer) ReadEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.readBuffer == nil {
		http.Error(w, "Read endpoint not enabled", http.StatusServiceUnavailable)
		return
	}

	if r.URL.Query().Get("view") == viewEvents {
		writeJSON(w, http.StatusOK, s.readBuffer.Snapshot())
		return
	}

	writeJSON(w, http.StatusOK, s.readBuffer.Contents())
}

// ListStoredEvents handles GET /api/events: newest events from the store.
func (s *APIServer) ListStoredEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.eventRepo.List(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list events", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	if events == nil {
		events = []*model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

type statsResponse struct {
	service.StatsSnapshot

	BufferLen      int    `json:"bufferLen"`
	BufferCapacity int    `json:"bufferCapacity"`
	BufferDropped  uint64 `json:"bufferDropped"`
}

// Stats handles GET /api/stats.
func (s *APIServer) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp statsResponse
	if s.stats != nil {
		resp.StatsSnapshot = s.stats.Snapshot()
	}

	if s.readBuffer != nil {
		resp.BufferLen = s.readBuffer.Len()
		resp.BufferCapacity = s.readBuffer.Cap()
		resp.BufferDropped = s.readBuffer.Dropped()
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health endpoint for service health check.
func (*APIServer) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(failedToEncodeResponse, slog.String("error", err.Error()))
	}
}
