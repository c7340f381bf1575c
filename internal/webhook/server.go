// Package webhook accepts inbound mail over HTTP and feeds it to the
// decision engine.
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/types"
)

// maxBodyBytes bounds a webhook payload, attachments included.
const maxBodyBytes = 25 << 20

// Processor runs a decision cycle for an inbound message.
type Processor interface {
	ProcessInbound(ctx context.Context, email types.InboundEmail) (*engine.Result, error)
}

var _ Processor = (*engine.Engine)(nil)

// Attachment is a file in the payload. Content is base64.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Payload is the body of POST /webhook/email.
type Payload struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Date        string       `json:"date"`
	MessageID   string       `json:"message_id"`
	InReplyTo   string       `json:"in_reply_to"`
	References  string       `json:"references"`
	Attachments []Attachment `json:"attachments"`
}

// Email converts the payload, decoding attachment content.
func (p Payload) Email() (types.InboundEmail, error) {
	if strings.TrimSpace(p.From) == "" {
		return types.InboundEmail{}, errors.New("from is required")
	}
	email := types.InboundEmail{
		From:       p.From,
		To:         p.To,
		Subject:    p.Subject,
		Body:       p.Body,
		Date:       p.Date,
		MessageID:  p.MessageID,
		InReplyTo:  p.InReplyTo,
		References: p.References,
	}
	for _, a := range p.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return types.InboundEmail{}, fmt.Errorf("attachment %q: invalid base64 content", a.Filename)
		}
		email.Attachments = append(email.Attachments, types.Attachment{
			Filename: a.Filename,
			Content:  content,
		})
	}
	return email, nil
}

// Config holds configuration for the webhook server.
type Config struct {
	Addr  string
	Clock clock.Clock
	Log   *slog.Logger
}

// Server is the inbound webhook.
type Server struct {
	proc  Processor
	mux   *http.ServeMux
	srv   *http.Server
	addr  string
	clock clock.Clock
	log   *slog.Logger
}

// NewServer creates a webhook server for proc.
func NewServer(cfg Config, proc Processor) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Server{
		proc:  proc,
		mux:   http.NewServeMux(),
		addr:  cfg.Addr,
		clock: cfg.Clock,
		log:   cfg.Log.With("component", "webhook"),
	}
	s.mux.HandleFunc("/webhook/email", s.handleEmail)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("Webhook listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// handleEmail handles POST /webhook/email.
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var p Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}
	email, err := p.Email()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.InfoContext(r.Context(), "Received email", "from", email.From, "subject", email.Subject)
	// A cycle that has started sending must finish its writes even if the
	// caller goes away.
	res, err := s.proc.ProcessInbound(context.WithoutCancel(r.Context()), email)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Processing failed", "from", email.From, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   types.FormatTimestamp(s.clock.Now()),
	})
}
