package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/report"
	"github.com/tanq16/moneybook/internal/storage"
)

const syncErrorHeader = "X-Sync-Error"

type tableResponse struct {
	Columns   []string      `json:"columns"`
	Rows      []storage.Row `json:"rows"`
	Watermark string        `json:"watermark"`
	SyncedAt  time.Time     `json:"syncedAt"`
}

type monthlyResponse struct {
	report.MonthlyReport
	Skipped int `json:"skipped"`
}

type allTimeResponse struct {
	report.AllTimeReport
	Skipped int `json:"skipped"`
}

// loadTable syncs first when configured to. A failed sync falls back to
// the cache.
func (h *Handler) loadTable(w http.ResponseWriter, r *http.Request) (storage.Table, error) {
	if h.opts.SyncOnLoad {
		table, _, err := h.syncer.Run(r.Context())
		if err == nil {
			return table, nil
		}
		h.logger.Warn("sync failed, serving cached data", zap.Error(err))
		w.Header().Set(syncErrorHeader, err.Error())
	}
	return h.syncer.Cached()
}

// GetTable serves the cache as is. The dashboard asks for a report first,
// and that request does any sync-on-load.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	table, err := h.syncer.Cached()
	if err != nil {
		h.logger.Error("failed to load table", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to load cached data"})
		return
	}
	if table.Rows == nil {
		table.Rows = []storage.Row{}
	}
	writeJSON(w, http.StatusOK, tableResponse{
		Columns:   table.Columns,
		Rows:      table.Rows,
		Watermark: table.Watermark,
		SyncedAt:  table.SyncedAt,
	})
}

func (h *Handler) GetMonthlyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	month := h.now()
	if raw := r.URL.Query().Get("month"); raw != "" {
		loc := h.opts.Reporter.Location
		if loc == nil {
			loc = time.Local
		}
		parsed, err := time.ParseInLocation("2006-01", raw, loc)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid month, expected YYYY-MM"})
			return
		}
		month = parsed
	}
	table, err := h.loadTable(w, r)
	if err != nil {
		h.logger.Error("failed to load table", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to load cached data"})
		return
	}
	expenses, skipped := h.opts.Reporter.FromTable(table, h.opts.Mapping)
	writeJSON(w, http.StatusOK, monthlyResponse{
		MonthlyReport: h.opts.Reporter.Monthly(expenses, month),
		Skipped:       skipped,
	})
}

func (h *Handler) GetAllTimeReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	table, err := h.loadTable(w, r)
	if err != nil {
		h.logger.Error("failed to load table", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to load cached data"})
		return
	}
	expenses, skipped := h.opts.Reporter.FromTable(table, h.opts.Mapping)
	writeJSON(w, http.StatusOK, allTimeResponse{
		AllTimeReport: h.opts.Reporter.AllTime(expenses),
		Skipped:       skipped,
	})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	_, result, err := h.syncer.Run(r.Context())
	if err != nil {
		h.logger.Error("manual sync failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Sync failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
