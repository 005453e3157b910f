// Package main implements the orchestration HTTP API.
//
// Endpoints:
//
//	POST /api/reviews                     - submit a contract for review (202, processed async)
//	GET  /api/reviews/{id}                - review status and findings
//	POST /api/tasks                       - enqueue an orchestrated task
//	GET  /api/tasks/{id}                  - task status and result
//	POST /api/contracts/{id}/signature    - start a signature cycle (inline provider call)
//	POST /api/webhooks/signature          - signature provider callbacks
//	GET  /healthz                         - liveness and broker state
//
// Authentication is a shared X-API-Key header; when API_KEY is unset the
// server runs open (dev mode). Webhook ingress is unauthenticated but
// rate limited per source address.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentflow/orchestrator/pkg/alert"
	"github.com/talentflow/orchestrator/pkg/config"
	"github.com/talentflow/orchestrator/pkg/errs"
	"github.com/talentflow/orchestrator/pkg/jobs"
	"github.com/talentflow/orchestrator/pkg/logger"
	"github.com/talentflow/orchestrator/pkg/queue"
	"github.com/talentflow/orchestrator/pkg/ratelimit"
	"github.com/talentflow/orchestrator/pkg/review"
	"github.com/talentflow/orchestrator/pkg/signature"
	"github.com/talentflow/orchestrator/pkg/task"
)

type server struct {
	cfg        config.Config
	fabric     queue.Fabric
	tasks      task.Store
	reviews    review.Store
	signatures *signature.Orchestrator
	limiter    *ratelimit.Limiter
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(enableCORS)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			g.Use(s.auth)

			g.Group(func(ai chi.Router) {
				ai.Use(ratelimit.Middleware(s.limiter, ratelimit.AILimit))
				ai.Post("/reviews", s.handleCreateReview)
			})

			g.Group(func(gen chi.Router) {
				gen.Use(ratelimit.Middleware(s.limiter, ratelimit.GeneralLimit))
				gen.Get("/reviews/{id}", s.handleGetReview)
				gen.Post("/tasks", s.handleCreateTask)
				gen.Get("/tasks/{id}", s.handleGetTask)
				gen.Post("/contracts/{id}/signature", s.handleInitiateSignature)
			})
		})

		api.Group(func(wh chi.Router) {
			wh.Use(ratelimit.Middleware(s.limiter, ratelimit.WebhookLimit, ratelimit.WithKeyFunc(ratelimit.IPKey)))
			wh.Post("/webhooks/signature", s.handleSignatureWebhook)
		})
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	broker := "ok"
	if s.fabric.Degraded() {
		broker = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "broker": broker})
}

func (s *server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID     string `json:"ownerId"`
		DocumentRef string `json:"documentRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	if req.DocumentRef == "" {
		writeError(w, http.StatusBadRequest, "documentRef is required")
		return
	}

	rev := review.New(uuid.New().String(), req.OwnerID, req.DocumentRef)
	if err := s.reviews.Create(r.Context(), rev); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if _, err := s.fabric.Enqueue(r.Context(), review.QueueReviews, review.Job{ReviewID: rev.ID}, jobs.DefaultOptions()); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": rev.ID, "status": string(rev.Status)})
}

func (s *server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rev, err := s.reviews.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string          `json:"type"`
		Payload     json.RawMessage `json:"payload"`
		MaxAttempts int             `json:"maxAttempts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	t := task.New(uuid.New().String(), req.Type, req.Payload)
	if req.MaxAttempts > 0 {
		t.MaxAttempts = req.MaxAttempts
	}
	if err := s.tasks.Create(r.Context(), t); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if _, err := s.fabric.Enqueue(r.Context(), task.Queue, task.Job{TaskID: t.ID}, jobs.DefaultOptions()); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": t.ID, "status": string(t.Status)})
}

func (s *server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) handleInitiateSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID     string `json:"ownerId"`
		DocumentURL string `json:"documentUrl"`
		SignerEmail string `json:"signerEmail"`
		SignerName  string `json:"signerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sig, err := s.signatures.Initiate(r.Context(), signature.InitiateParams{
		ContractID:  chi.URLParam(r, "id"),
		OwnerID:     req.OwnerID,
		DocumentURL: req.DocumentURL,
		SignerEmail: req.SignerEmail,
		SignerName:  req.SignerName,
	})
	if err != nil {
		if errs.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Provider detail stays in the logs; callers get a stable message.
		logger.Log.Error().Err(err).Str("contract_id", chi.URLParam(r, "id")).Msg("Signature initiation failed")
		writeError(w, http.StatusBadGateway, "signature processing failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         sig.ID,
		"status":     string(sig.Status),
		"envelopeId": sig.EnvelopeID,
	})
}

func (s *server) handleSignatureWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.signatures.HandleCallback(r.Context(), raw); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// auth enforces the shared API key and records the acting user for
// per-user rate limiting. An empty configured key disables auth.
func (s *server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user := r.Header.Get("X-User-ID"); user != "" {
			r = r.WithContext(ratelimit.WithSubject(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, X-User-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func buildStores(ctx context.Context, cfg config.Config) (task.Store, review.Store, signature.Store) {
	if cfg.PostgresDSN == "" {
		logger.Log.Info().Msg("POSTGRES_DSN not set, using in-memory stores")
		return task.NewMemoryStore(), review.NewMemoryStore(), signature.NewMemoryStore()
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	return task.NewPGStore(pool), review.NewPGStore(pool), signature.NewPGStore(pool)
}

func buildProvider(cfg config.Config) signature.Provider {
	if cfg.SignatureProvider == "hosted" && cfg.SignatureBaseURL != "" {
		return signature.NewHosted(cfg.SignatureBaseURL, cfg.SignatureAPIKey)
	}
	if cfg.SignatureProvider == "hosted" {
		logger.Log.Warn().Msg("SIGNATURE_BASE_URL not set, falling back to selfhosted provider")
	}
	return signature.NewSelfHosted()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.APIKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	}

	fabric := queue.New(cfg.RedisAddr, cfg.RedisPassword)
	taskStore, reviewStore, sigStore := buildStores(ctx, cfg)
	alerts := alert.FromConfig(cfg.AlertWebhookURL)
	signatures := signature.NewOrchestrator(sigStore, buildProvider(cfg), nil, alerts)

	counters := ratelimit.NewMemoryStore()
	go counters.StartSweep(ctx, time.Minute)

	s := &server{
		cfg:        cfg,
		fabric:     fabric,
		tasks:      taskStore,
		reviews:    reviewStore,
		signatures: signatures,
		limiter:    ratelimit.NewLimiter(counters),
	}

	httpServer := &http.Server{Addr: cfg.APIAddr, Handler: s.router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Log.Info().Str("addr", cfg.APIAddr).Msg("Server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
