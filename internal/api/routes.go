// Package api serves the dashboard: sync control, race and stable data, and a
// WebSocket feed of sync events.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"race-sync-service/internal/config"
	"race-sync-service/internal/database"
	"race-sync-service/internal/logger"
	"race-sync-service/internal/racing"
	"race-sync-service/internal/store"
	"race-sync-service/internal/sync"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type SyncController interface {
	Start() error
	Stop()
	GetStatus() string
}

type Repository interface {
	ListRaces(ctx context.Context, tracks []string) ([]map[string]any, error)
	ListHorses(ctx context.Context, tracks []string) ([]racing.Horse, error)
	SaveHorses(ctx context.Context, records []database.Record) (*database.UpsertResult, error)
	SexBreakdown(ctx context.Context) ([]racing.SexCount, error)
}

type SchemaReader interface {
	Columns(ctx context.Context, table string) ([]string, error)
}

type Handler struct {
	cfg         config.ServerConfig
	syncManager SyncController
	history     store.Store
	repo        Repository
	schema      SchemaReader
	hub         *Hub
}

func NewHandler(cfg config.ServerConfig, manager SyncController, history store.Store, repo Repository, schema SchemaReader, hub *Hub) *Handler {
	return &Handler{
		cfg:         cfg,
		syncManager: manager,
		history:     history,
		repo:        repo,
		schema:      schema,
		hub:         hub,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		if h.hub != nil {
			r.Get("/ws", h.hub.ServeHTTP)
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/stop", h.StopSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/history", h.GetSyncHistory)

		r.Get("/races", h.ListRaces)

		r.Get("/horses", h.ListHorses)
		r.Put("/horses", h.SaveHorses)
		r.Get("/horses/sex-breakdown", h.SexBreakdown)

		r.Get("/tables/{table}/columns", h.TableColumns)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Start(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) StopSync(w http.ResponseWriter, r *http.Request) {
	h.syncManager.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := h.syncManager.GetStatus()
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	limit = min(max(limit, 1), maxHistoryLimit)

	history, err := h.history.GetSyncHistory(r.Context(), limit, max(offset, 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListRaces(w http.ResponseWriter, r *http.Request) {
	races, err := h.repo.ListRaces(r.Context(), tracks(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, races)
}

func (h *Handler) ListHorses(w http.ResponseWriter, r *http.Request) {
	horses, err := h.repo.ListHorses(r.Context(), tracks(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, horses)
}

// SaveHorses upserts the edited stable rows and returns the refreshed breakdown.
func (h *Handler) SaveHorses(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var records []database.Record
	if err := dec.Decode(&records); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}

	res, err := h.repo.SaveHorses(r.Context(), records)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.repo.SexBreakdown(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":        res,
		"sex_breakdown": counts,
	})
}

func (h *Handler) SexBreakdown(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.SexBreakdown(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) TableColumns(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	cols, err := h.schema.Columns(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": cols})
}

// CorsMiddleware allows the configured origins. "*" allows any origin.
func (h *Handler) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case slices.Contains(h.cfg.CorsOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(h.cfg.CorsOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires the configured bearer token. Browsers cannot set
// headers on WebSocket upgrades, so a token query parameter is accepted too.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AuthToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tracks collects ?track= filters, repeated or comma separated.
func tracks(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["track"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func statusFor(err error) int {
	var castErr *database.CastingError
	var schemaErr *database.SchemaLookupError
	switch {
	case errors.As(err, &castErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &schemaErr):
		return http.StatusNotFound
	case errors.Is(err, racing.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, sync.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, database.ErrNoPrimaryKey), errors.Is(err, database.ErrNoColumns):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody(err))
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}
