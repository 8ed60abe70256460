package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/client"
	"github.com/agrisync/agent/internal/queue"
	"github.com/agrisync/agent/internal/validation"
)

// SyncTrigger wakes the background drainer.
type SyncTrigger interface {
	Trigger(force bool)
}

// ConnectivitySource reports the current upstream reachability for healthz.
type ConnectivitySource interface {
	Online() bool
}

// HistorySource exposes the per-transaction delivery audit trail. Nil when
// the agent runs on file-backed stores, which keep no attempt history.
type HistorySource interface {
	GetByTransactionID(ctx context.Context, transactionID string) ([]queue.DeliveryAttempt, error)
}

// Server is the local HTTP surface the UI talks to. Transaction routes are
// handled here; everything else falls through to the mediator, which
// forwards upstream or serves from cache.
type Server struct {
	queue        *queue.Queue
	validator    *validation.Validator
	drainer      SyncTrigger
	conn         ConnectivitySource
	history      HistorySource
	mediator     http.Handler
	auditManager *AuditManager
	logger       *zap.Logger
	server       *http.Server
}

func New(
	q *queue.Queue,
	validator *validation.Validator,
	drainer SyncTrigger,
	conn ConnectivitySource,
	history HistorySource,
	mediator http.Handler,
	auditManager *AuditManager,
	logger *zap.Logger,
) *Server {
	return &Server{
		queue:        q,
		validator:    validator,
		drainer:      drainer,
		conn:         conn,
		history:      history,
		mediator:     mediator,
		auditManager: auditManager,
		logger:       logger,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.auditManager.Start(ctx)

	s.logger.Info("Agent server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down agent server")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("HTTP server shutdown completed")

	s.auditManager.Shutdown(ctx)
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/transactions/new", s.handleSubmitTransaction).Methods(http.MethodPost)
	router.HandleFunc("/sync", s.handleTriggerSync).Methods(http.MethodPost)
	router.HandleFunc("/queue", s.handleListQueue).Methods(http.MethodGet)
	router.HandleFunc("/queue/dead", s.handleDeadQueue).Methods(http.MethodGet)
	router.HandleFunc("/queue/{id}/history", s.handleTransactionHistory).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Market data, static assets and navigations all go through the
	// offline-aware mediator.
	router.PathPrefix("/").Handler(s.mediator)

	return s.auditLogMiddleware(router)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	_, fieldErrors, err := s.validator.CheckTradePayload(body)
	if len(fieldErrors) > 0 {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Validation failed",
			"fields": fieldErrors,
		})
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := s.queue.Submit(r.Context(), body)
	if err != nil {
		if errors.Is(err, client.ErrDeliveryFailed) {
			respondError(w, http.StatusBadGateway, "Error: "+err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	status := http.StatusCreated
	if outcome.Status == queue.OutcomeQueued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, outcome)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	s.drainer.Trigger(true)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Sync triggered",
	})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	records, err := s.queue.All(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleDeadQueue(w http.ResponseWriter, r *http.Request) {
	records, err := s.queue.Dead(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleTransactionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "Delivery history requires the database-backed store")
		return
	}

	transactionID := mux.Vars(r)["id"]
	if transactionID == "" {
		respondError(w, http.StatusBadRequest, "Missing transaction ID")
		return
	}

	attempts, err := s.history.GetByTransactionID(r.Context(), transactionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.conn.Online(),
	})
}
