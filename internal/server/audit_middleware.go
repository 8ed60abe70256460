package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerName := getHandlerName(r.URL.Path, r.Method)
		if handlerName == "" {
			// Mediator passthrough traffic is not audited; buffering asset
			// and market bodies here would double every response.
			next.ServeHTTP(w, r)
			return
		}

		entry := AuditLogEntry{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   handlerName,
		}

		if r.Body != nil && r.Method == http.MethodPost {
			requestBody, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			entry.Request = string(requestBody)
		}

		wrw := newResponseWriterWrapper(w)

		next.ServeHTTP(wrw, r)

		entry.StatusCode = wrw.GetStatusCode()
		entry.Response = string(wrw.GetBody())

		var outcome struct {
			Status        string `json:"status"`
			TransactionID string `json:"transaction_id"`
		}
		if err := json.Unmarshal(wrw.GetBody(), &outcome); err == nil {
			entry.Outcome = outcome.Status
			entry.TransactionID = outcome.TransactionID
		}

		s.auditManager.LogEntry(r.Context(), entry)
	})
}

// getHandlerName maps audited API paths to handler names. An empty name
// means the request belongs to the mediator and is skipped.
func getHandlerName(path string, method string) string {
	switch {
	case path == "/transactions/new" && method == http.MethodPost:
		return "handleSubmitTransaction"
	case path == "/sync" && method == http.MethodPost:
		return "handleTriggerSync"
	case path == "/queue/dead" && method == http.MethodGet:
		return "handleDeadQueue"
	case path == "/queue" && method == http.MethodGet:
		return "handleListQueue"
	case strings.HasPrefix(path, "/queue/") && strings.HasSuffix(path, "/history"):
		return "handleTransactionHistory"
	}
	return ""
}
