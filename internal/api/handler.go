package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/report"
	"github.com/tanq16/moneybook/internal/storage"
	"github.com/tanq16/moneybook/internal/syncer"
	"github.com/tanq16/moneybook/internal/web"
)

// Syncer is the part of syncer.Service the handlers use.
type Syncer interface {
	Run(ctx context.Context) (storage.Table, syncer.Result, error)
	Cached() (storage.Table, error)
}

type Options struct {
	PasswordHash string
	SyncOnLoad   bool
	Reporter     report.Reporter
	Mapping      report.Mapping
}

type Handler struct {
	storage storage.Storage
	syncer  Syncer
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

const requestIDHeader = "X-Request-ID"

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHandler(store storage.Storage, s Syncer, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		storage: store,
		syncer:  s,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes registers the dashboard pages and the JSON API.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", h.RequirePage(web.ServeIndex))
	mux.HandleFunc("/login", web.ServeLogin)
	mux.Handle("/static/", web.Static())

	mux.HandleFunc("/api/auth/login", h.AuthLogin)
	mux.HandleFunc("/api/auth/logout", h.AuthLogout)
	mux.HandleFunc("/api/auth/me", h.RequireAuth(h.AuthMe))

	mux.HandleFunc("/api/table", h.RequireAuth(h.GetTable))
	mux.HandleFunc("/api/report/monthly", h.RequireAuth(h.GetMonthlyReport))
	mux.HandleFunc("/api/report/alltime", h.RequireAuth(h.GetAllTimeReport))
	mux.HandleFunc("/api/sync", h.RequireAuth(h.TriggerSync))

	return h.logRequests(mux)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
