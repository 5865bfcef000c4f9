package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/uzbekfilmtv/kinobot/internal/broadcast"
	"github.com/uzbekfilmtv/kinobot/internal/models"
	"github.com/uzbekfilmtv/kinobot/internal/service"
)

// Registry is the content-code surface exposed over HTTP.
type Registry interface {
	Add(ctx context.Context, code, value string) (models.Descriptor, error)
	Remove(ctx context.Context, code string) error
	List(ctx context.Context) ([]string, error)
}

// Ledger is the quota surface exposed over HTTP.
type Ledger interface {
	Stats(ctx context.Context) (models.Stats, error)
	GrantBonus(ctx context.Context, telegramID int64, amount int) error
}

// Broadcaster fans a payload out to the whole user base.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload broadcast.Payload) (models.BroadcastReport, error)
}

// RunLog lists past broadcast runs.
type RunLog interface {
	List(ctx context.Context, limit int) ([]models.BroadcastReport, error)
}

type Server struct {
	addr       string
	username   string
	password   string
	log        *slog.Logger
	registry   Registry
	ledger     Ledger
	dispatcher Broadcaster
	runs       RunLog
	router     *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, registry Registry, ledger Ledger, dispatcher Broadcaster, runs RunLog) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		username:   username,
		password:   password,
		log:        log,
		registry:   registry,
		ledger:     ledger,
		dispatcher: dispatcher,
		runs:       runs,
		router:     r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/content", func(r chi.Router) {
			r.Get("/", s.handleListContent)
			r.Post("/", s.handleAddContent)
			r.Delete("/{code}", s.handleDeleteContent)
		})
		protected.Get("/stats", s.handleStats)
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/broadcasts", s.handleListBroadcasts)
		protected.Post("/grant", s.handleGrant)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	codes, err := s.registry.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	if codes == nil {
		codes = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

type contentRequest struct {
	Code  string `json:"code"`
	Value string `json:"value"`
}

func (s *Server) handleAddContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Value) == "" {
		http.Error(w, "code and value required", http.StatusBadRequest)
		return
	}
	descriptor, err := s.registry.Add(r.Context(), req.Code, req.Value)
	if err != nil {
		if errors.Is(err, service.ErrDescriptorInvalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"code": strings.TrimSpace(req.Code),
		"kind": descriptor.Kind,
	})
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.registry.Remove(r.Context(), code); err != nil {
		if errors.Is(err, service.ErrCodeNotFound) {
			http.Error(w, "code not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"users":            stats.Users,
		"content_entries":  stats.ContentEntries,
		"total_deliveries": stats.TotalDeliveries,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	// Detach the fan-out from the request lifetime: a client disconnect or
	// the server write timeout must not abort a run already in progress.
	report, err := s.dispatcher.Broadcast(context.WithoutCancel(r.Context()), broadcast.Payload{Text: req.Message})
	if err != nil {
		if errors.Is(err, broadcast.ErrInProgress) {
			http.Error(w, "broadcast already in progress", http.StatusConflict)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    report.RunID,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"total":     report.Total,
	})
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	reports, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if reports == nil {
		reports = []models.BroadcastReport{}
	}
	s.writeJSON(w, http.StatusOK, reports)
}

type grantRequest struct {
	UserID int64 `json:"user_id"`
	Amount int   `json:"amount"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || req.Amount <= 0 {
		http.Error(w, "user_id and positive amount required", http.StatusBadRequest)
		return
	}
	if err := s.ledger.GrantBonus(r.Context(), req.UserID, req.Amount); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="kinobot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
