// Package webhook exposes the thin HTTP surface: one inbound message per
// call, plus read-only stats.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/suspectuso/ton-assistant/internal/assistant"
	"github.com/suspectuso/ton-assistant/internal/ledger"
)

// InboundMessage is one message delivered by an external transport
type InboundMessage struct {
	AccountID string `json:"account_id"`
	Text      string `json:"text"`
}

// Reply is the orchestrator's answer
type Reply struct {
	Reply string `json:"reply"`
}

// Server handles inbound webhook calls
type Server struct {
	assistant *assistant.Assistant
	store     *ledger.Store
	log       *slog.Logger

	server *http.Server
}

// NewServer creates a new webhook server
func NewServer(a *assistant.Assistant, store *ledger.Store, log *slog.Logger) *Server {
	return &Server{
		assistant: a,
		store:     store,
		log:       log,
	}
}

// Handler returns the HTTP handler, separate from Start for tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleHealth)
	return mux
}

// Start starts the webhook server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // AI answers can be slow
	}

	s.log.Info("starting webhook server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.log.Warn("invalid webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	msg.AccountID = strings.TrimSpace(msg.AccountID)
	if msg.AccountID == "" || strings.TrimSpace(msg.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "account_id and text are required"})
		return
	}

	reply := s.assistant.Handle(r.Context(), msg.AccountID, msg.Text)
	writeJSON(w, http.StatusOK, Reply{Reply: reply})
}

// handleStats reads aggregates straight from the store, no mutation
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
