// Package server exposes liveness sessions over HTTP. Clients create a
// session, stream per-frame observations into it and poll its report until
// the session captures, fails or is cancelled.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/gesture"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/session"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

var log = logging.Component("server")

const (
	maxObservationBytes = 16 << 20
	defaultRetention    = 10 * time.Minute
)

// Options configures a server.
type Options struct {
	Listen      string
	Engine      session.Config
	Deps        session.Deps // Source is ignored; each session gets a mailbox
	Store       RecordStore
	MaxSessions int
	Retention   time.Duration
}

// Server is the session HTTP API.
type Server struct {
	opts       Options
	router     *chi.Mux
	httpServer *http.Server
	manager    *Manager

	baseCtx context.Context
	stop    context.CancelFunc
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Retention == 0 {
		opts.Retention = defaultRetention
	}

	ctx, stop := context.WithCancel(context.Background())
	r := chi.NewRouter()
	s := &Server{
		opts:    opts,
		router:  r,
		manager: NewManager(opts.Store, opts.MaxSessions, opts.Retention),
		baseCtx: ctx,
		stop:    stop,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/v1/health", s.health)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.cancelSession)
		r.Post("/{id}/observations", s.pushObservation)
	})

	s.httpServer = &http.Server{
		Addr:              opts.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Manager returns the session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Start serves until the server is shut down.
func (s *Server) Start() error {
	log.Infof("Starting session API on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and cancels all running sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down session API...")

	err := s.httpServer.Shutdown(ctx)
	if mErr := s.manager.Shutdown(ctx); err == nil {
		err = mErr
	}
	s.stop()
	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": chiMiddleware.GetReqID(r.Context()),
		}).Debug("Request handled")
	})
}

// CreateSessionRequest starts a session.
type CreateSessionRequest struct {
	Mode        string   `json:"mode"`
	Expressions []string `json:"expressions,omitempty"`
	Reference   []byte   `json:"reference,omitempty"` // base64 image
}

// SessionResponse describes a session.
type SessionResponse struct {
	SessionID string          `json:"session_id"`
	Mode      string          `json:"mode"`
	Report    *session.Report `json:"report,omitempty"`
	Result    *session.Result `json:"result,omitempty"`
}

// ObservationRequest is one frame's observation. {"face": false} or a
// missing box reports a tick without a face.
type ObservationRequest struct {
	observation.Observation
	Face *bool `json:"face,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Running(),
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxObservationBytes)).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	cfg := s.opts.Engine
	if req.Mode != "" {
		cfg.Gesture.Kind = gesture.Kind(req.Mode)
	}
	if len(req.Expressions) > 0 {
		cfg.Gesture.Expressions = req.Expressions
	}

	sess, err := s.manager.Start(s.baseCtx, cfg, s.opts.Deps, req.Reference)
	switch {
	case errors.Is(err, ErrTooManySessions):
		respondError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := sess.Controller().Snapshot()
	respondJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Report:    &report,
	})
}

func (s *Server) pushObservation(w http.ResponseWriter, r *http.Request) {
	sess := s.manager.Get(chi.URLParam(r, "id"))
	if sess == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	var req ObservationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxObservationBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid observation")
		return
	}

	var obs *observation.Observation
	if (req.Face == nil || *req.Face) && req.Box.Width > 0 && req.Box.Height > 0 {
		obs = &req.Observation
	}

	if !sess.Push(obs) || sess.Controller().Status().Terminal() {
		respondJSON(w, http.StatusConflict, s.describe(sess))
		return
	}
	respondJSON(w, http.StatusAccepted, s.describe(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if sess := s.manager.Get(id); sess != nil {
		respondJSON(w, http.StatusOK, s.describe(sess))
		return
	}

	rec, err := s.manager.Record(id)
	switch {
	case errors.Is(err, storage.ErrRecordNotFound), errors.Is(err, storage.ErrInvalidID):
		respondError(w, http.StatusNotFound, "session not found")
	case err != nil:
		log.WithError(err).Warn("Failed to load session record")
		respondError(w, http.StatusInternalServerError, "failed to load session record")
	default:
		respondJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sess := s.manager.Get(chi.URLParam(r, "id"))
	if sess == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.Controller().Cancel()
	respondJSON(w, http.StatusAccepted, s.describe(sess))
}

func (s *Server) describe(sess *Session) SessionResponse {
	report := sess.Controller().Snapshot()
	return SessionResponse{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Report:    &report,
		Result:    sess.Controller().Result(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
