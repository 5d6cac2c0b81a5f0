package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wabot/internal/dispatch"
	"wabot/internal/eventbus"
	"wabot/internal/window"
	logx "wabot/pkg/logx"
)

type Config struct {
	Addr         string
	VerifyToken  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dispatcher is the slice of the engine the HTTP surface drives.
type Dispatcher interface {
	EnqueueBatch(ctx context.Context, recipient string, payloadRefs []string) ([]string, error)
	Activate(ctx context.Context, recipient string) error
	Confirm(recipient string)
	Pause()
	Resume()
	ClearQueue(ctx context.Context) int
	ResetFailure()
	Snapshot() dispatch.Snapshot
	WindowState(ctx context.Context, recipient string) (window.State, error)
}

// Server exposes the inbound webhook and the operator API: enqueue,
// queue control, failure reset, snapshots and the live SSE event feed.
type Server struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	eng Dispatcher
}

func New(cfg Config, eng Dispatcher, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, bus: bus, eng: eng}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/webhook", s.handleWebhookVerify)
	r.Post("/webhook", s.handleWebhook)

	r.Post("/jobs", s.handleEnqueue)
	r.Post("/activate", s.handleActivate)
	r.Get("/status", s.handleStatus)
	r.Get("/windows/{recipient}", s.handleWindow)
	r.Get("/events", s.handleEvents)

	r.Post("/queue/pause", s.handlePause)
	r.Post("/queue/resume", s.handleResume)
	r.Post("/queue/clear", s.handleClear)
	r.Post("/system/reset-failure", s.handleResetFailure)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// --- webhook ---

func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.cfg.VerifyToken == "" ||
		q.Get("hub.mode") != "subscribe" ||
		q.Get("hub.verify_token") != s.cfg.VerifyToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// webhookPayload is the subset of the platform's webhook body we care
// about: who replied. Everything else is ignored.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		// The platform retries on non-200; a malformed body won't improve.
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			for _, m := range ch.Value.Messages {
				if m.From != "" {
					s.eng.Confirm(m.From)
				}
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// --- operator API ---

type enqueueRequest struct {
	Recipient string   `json:"recipient"`
	Payloads  []string `json:"payloads"`
}

type enqueueResponse struct {
	JobIDs []string `json:"job_ids"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	ids, err := s.eng.EnqueueBatch(r.Context(), req.Recipient, req.Payloads)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobIDs: ids})
}

type activateRequest struct {
	Recipient string `json:"recipient"`
}

// handleActivate opens a session window for a recipient outside the queue.
// It blocks for the whole activation sequence, so callers see the outcome.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.eng.Activate(r.Context(), req.Recipient); err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"recipient": req.Recipient, "state": "activated"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	st, err := s.eng.WindowState(r.Context(), recipient)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"recipient": st.Recipient,
		"status":    string(st.Status),
		"detail":    st.Detail,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.eng.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"state": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.eng.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n := s.eng.ClearQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}

func (s *Server) handleResetFailure(w http.ResponseWriter, r *http.Request) {
	s.eng.ResetFailure()
	writeJSON(w, http.StatusOK, map[string]string{"state": "reset"})
}

// handleEvents streams the bus as server-sent events for the dashboard.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeErr(w, http.StatusServiceUnavailable, "event bus disabled")
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsub := s.bus.Subscribe(64)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	enc := func(ev eventbus.Event) {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return
		}
		_, _ = w.Write([]byte("event: " + ev.Type + "\ndata: "))
		_, _ = w.Write(data)
		_, _ = w.Write([]byte("\n\n"))
		fl.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			fl.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			enc(ev)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
