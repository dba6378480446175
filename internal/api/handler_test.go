package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/report"
	"github.com/tanq16/moneybook/internal/storage"
	"github.com/tanq16/moneybook/internal/syncer"
)

type fakeSyncer struct {
	table  storage.Table
	err    error
	runs   int
	result syncer.Result
}

func (f *fakeSyncer) Run(context.Context) (storage.Table, syncer.Result, error) {
	f.runs++
	if f.err != nil {
		return storage.Table{}, syncer.Result{}, f.err
	}
	return f.table, f.result, nil
}

func (f *fakeSyncer) Cached() (storage.Table, error) {
	return f.table, nil
}

func cachedTable() storage.Table {
	return storage.Table{
		Columns: []string{"ID", "Name", "Category", "Payment", "Amount", "Date Payment", "Updated At"},
		Rows: []storage.Row{
			{"ID": "EXP-1", "Name": "Lunch", "Category": "food", "Payment": "cash", "Amount": 12.0, "Date Payment": "2024-03-02T12:00:00.000Z"},
			{"ID": "EXP-2", "Name": "Train", "Category": "transport", "Payment": "card", "Amount": 30.0, "Date Payment": "2024-03-04T08:00:00.000Z"},
			{"ID": "EXP-3", "Name": "Dinner", "Category": "food", "Payment": "cash", "Amount": 20.0, "Date Payment": "2024-02-20T19:00:00.000Z"},
		},
		Watermark: "2024-03-04T08:00:00.000Z",
	}
}

func newTestHandler(t *testing.T, fake *fakeSyncer, opts Options) (*Handler, storage.Storage) {
	t.Helper()
	store, err := storage.InitializeJsonStore(storage.SystemConfig{
		StorageURL:  filepath.Join(t.TempDir(), "cache.json"),
		StorageType: storage.BackendTypeJSON,
	}, zap.NewNop())
	require.NoError(t, err)

	opts.Reporter = report.Reporter{ExcludedCategory: "emoney", CashPayment: "cash", Location: time.UTC}
	opts.Mapping = report.Mapping{
		ID: "ID", Date: "Date Payment", Amount: "Amount", Category: "Category",
		Payment: "Payment", Name: "Name", Month: "Month Year Date",
	}
	h := NewHandler(store, fake, opts, zap.NewNop())
	h.now = func() time.Time { return time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC) }
	return h, store
}

func do(t *testing.T, handler http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetTableOpenAccess(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSyncer{table: cachedTable()}, Options{})
	rec := do(t, h.Routes(), http.MethodGet, "/api/table", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp tableResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Rows, 3)
	assert.Equal(t, "2024-03-04T08:00:00.000Z", resp.Watermark)
}

func TestMonthlyReportEndpoint(t *testing.T) {
	fake := &fakeSyncer{table: cachedTable()}
	h, _ := newTestHandler(t, fake, Options{})
	routes := h.Routes()

	rec := do(t, routes, http.MethodGet, "/api/report/monthly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Month           string                `json:"month"`
		Total           string                `json:"total"`
		HighestCategory *report.CategoryTotal `json:"highestCategory"`
		Metrics         []report.Metric       `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Mar 2024", resp.Month)
	assert.Equal(t, "42", resp.Total)
	require.NotNil(t, resp.HighestCategory)
	assert.Equal(t, "transport", resp.HighestCategory.Category)
	assert.Equal(t, "Transport", resp.Metrics[2].Value)
	assert.Zero(t, fake.runs, "no sync unless configured")

	rec = do(t, routes, http.MethodGet, "/api/report/monthly?month=2024-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Feb 2024", resp.Month)
	assert.Equal(t, "20", resp.Total)

	rec = do(t, routes, http.MethodGet, "/api/report/monthly?month=march", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllTimeReportEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSyncer{table: cachedTable()}, Options{})
	rec := do(t, h.Routes(), http.MethodGet, "/api/report/alltime", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Total  string         `json:"total"`
		Charts []report.Chart `json:"charts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "32", resp.Total)
	assert.Len(t, resp.Charts, 3)
}

func TestSyncOnLoadFallsBackToCache(t *testing.T) {
	fake := &fakeSyncer{table: cachedTable(), err: errors.New("notion unreachable")}
	h, _ := newTestHandler(t, fake, Options{SyncOnLoad: true})

	routes := h.Routes()

	rec := do(t, routes, http.MethodGet, "/api/report/monthly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.runs)
	assert.Contains(t, rec.Header().Get(syncErrorHeader), "notion unreachable")

	var resp struct {
		Total string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.Total, "cached rows still reported")
}

func TestGetTableNeverSyncs(t *testing.T) {
	fake := &fakeSyncer{table: cachedTable()}
	h, _ := newTestHandler(t, fake, Options{SyncOnLoad: true})
	routes := h.Routes()

	rec := do(t, routes, http.MethodGet, "/api/report/alltime", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, routes, http.MethodGet, "/api/table", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, fake.runs, "one sync per dashboard render")
	assert.Empty(t, rec.Header().Get(syncErrorHeader))
}

func TestTriggerSync(t *testing.T) {
	fake := &fakeSyncer{table: cachedTable(), result: syncer.Result{Fetched: 2, Inserted: 1, Updated: 1}}
	h, _ := newTestHandler(t, fake, Options{})
	routes := h.Routes()

	rec := do(t, routes, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result syncer.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Fetched)

	rec = do(t, routes, http.MethodGet, "/api/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	fake.err = errors.New("rate limited")
	rec = do(t, routes, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	hash, err := storage.HashPassword("correct horse")
	require.NoError(t, err)
	h, store := newTestHandler(t, &fakeSyncer{table: cachedTable()}, Options{PasswordHash: hash})
	routes := h.Routes()

	rec := do(t, routes, http.MethodGet, "/api/table", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, routes, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = do(t, routes, http.MethodPost, "/api/auth/login", `{"password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, routes, http.MethodPost, "/api/auth/login", `{"password":"correct horse","remember":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, sessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)

	session, err := store.GetSession(hashSessionToken(cookie.Value))
	require.NoError(t, err, "session stored under the token hash")
	assert.Equal(t, h.now().Add(sessionRememberDuration), session.ExpiresAt)
	_, err = store.GetSession(cookie.Value)
	assert.ErrorIs(t, err, storage.ErrNotFound, "raw token is never stored")

	rec = do(t, routes, http.MethodGet, "/api/table", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, routes, http.MethodGet, "/", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "My Spendings Report")

	rec = do(t, routes, http.MethodPost, "/api/auth/logout", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, routes, http.MethodGet, "/api/table", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredSessionRejected(t *testing.T) {
	hash, err := storage.HashPassword("correct horse")
	require.NoError(t, err)
	h, _ := newTestHandler(t, &fakeSyncer{table: cachedTable()}, Options{PasswordHash: hash})
	routes := h.Routes()

	rec := do(t, routes, http.MethodPost, "/api/auth/login", `{"password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := rec.Result().Cookies()[0]

	h.now = func() time.Time { return time.Date(2024, 3, 22, 10, 0, 0, 0, time.UTC) }
	rec = do(t, routes, http.MethodGet, "/api/table", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSyncer{table: cachedTable()}, Options{})
	routes := h.Routes()

	rec := do(t, routes, http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}
