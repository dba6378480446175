package syncer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jomei/notionapi"
	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/notion"
	"github.com/tanq16/moneybook/internal/storage"
)

// Source is a connected view of one Notion database.
type Source interface {
	Columns() []string
	QueryDatabase(ctx context.Context, filter notionapi.Filter, sorts []notionapi.SortObject) ([]storage.Row, error)
}

// Connector opens a Source. It runs on every sync so schema changes in
// Notion show up as new columns.
type Connector func(ctx context.Context) (Source, error)

type Result struct {
	Full      bool      `json:"full"`
	Fetched   int       `json:"fetched"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated"`
	Rows      int       `json:"rows"`
	Watermark string    `json:"watermark"`
	SyncedAt  time.Time `json:"syncedAt"`
}

type Config struct {
	DatabaseID        string
	IDProperty        string
	WatermarkProperty string
}

// Service keeps the local cache in step with Notion. Runs are serialized.
type Service struct {
	cfg     Config
	store   storage.Storage
	connect Connector
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
}

func New(cfg Config, store storage.Storage, connect Connector, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		connect: connect,
		logger:  logger,
		now:     time.Now,
	}
}

// NotionConnector connects through a Notion database service.
func NotionConnector(service notion.DatabaseService, databaseID string, logger *zap.Logger) Connector {
	return func(ctx context.Context) (Source, error) {
		return notion.NewSyncDB(ctx, service, databaseID, notion.WithLogger(logger))
	}
}

// Cached returns the table as last saved, without contacting Notion.
func (s *Service) Cached() (storage.Table, error) {
	return s.store.LoadTable(s.cfg.DatabaseID)
}

// Reset drops the cached table so the next Run fetches everything.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveTable(s.cfg.DatabaseID, storage.Table{}); err != nil {
		return fmt.Errorf("reset cache: %w", err)
	}
	s.logger.Info("cache reset", zap.String("database_id", s.cfg.DatabaseID))
	return nil
}

// Run fetches rows edited after the cached watermark and merges them into
// the cache. An empty cache, or one without the watermark column, gets a
// full fetch instead.
func (s *Service) Run(ctx context.Context) (storage.Table, Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, err := s.connect(ctx)
	if err != nil {
		return storage.Table{}, Result{}, fmt.Errorf("connect to notion: %w", err)
	}
	columns := source.Columns()
	if !slices.Contains(columns, s.cfg.WatermarkProperty) {
		return storage.Table{}, Result{}, fmt.Errorf("watermark property %q not found in database", s.cfg.WatermarkProperty)
	}

	old, err := s.store.LoadTable(s.cfg.DatabaseID)
	if err != nil {
		return storage.Table{}, Result{}, fmt.Errorf("load cache: %w", err)
	}

	full := old.Empty() || old.Watermark == "" || !old.HasColumn(s.cfg.WatermarkProperty)
	var filter notionapi.Filter
	if !full {
		filter, err = notion.AfterWatermark(s.cfg.WatermarkProperty, old.Watermark)
		if err != nil {
			s.logger.Warn("cached watermark unusable, doing full sync", zap.Error(err))
			full = true
		}
	}
	if full {
		old = storage.Table{}
	}

	rows, err := source.QueryDatabase(ctx, filter, notion.AscendingBy(s.cfg.WatermarkProperty))
	if err != nil {
		return storage.Table{}, Result{}, err
	}
	if !full {
		rows = s.newerThan(rows, old.Watermark)
	}

	table, merged := storage.Merge(old, rows, columns, s.cfg.IDProperty, s.cfg.WatermarkProperty)
	table.SyncedAt = s.now()
	if err := s.store.SaveTable(s.cfg.DatabaseID, table); err != nil {
		return storage.Table{}, Result{}, fmt.Errorf("save cache: %w", err)
	}

	result := Result{
		Full:      full,
		Fetched:   len(rows),
		Inserted:  merged.Inserted,
		Updated:   merged.Updated,
		Rows:      len(table.Rows),
		Watermark: table.Watermark,
		SyncedAt:  table.SyncedAt,
	}
	s.logger.Info("sync finished",
		zap.Bool("full", result.Full),
		zap.Int("fetched", result.Fetched),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.String("watermark", result.Watermark))
	return table, result, nil
}

// newerThan drops rows not strictly after watermark. Notion's date filter
// only has second precision, so rows at or just before a watermark with
// milliseconds come back again.
func (s *Service) newerThan(rows []storage.Row, watermark string) []storage.Row {
	kept := make([]storage.Row, 0, len(rows))
	for _, row := range rows {
		wm, ok := row[s.cfg.WatermarkProperty].(string)
		if ok && wm != "" && !storage.WatermarkAfter(wm, watermark) {
			continue
		}
		kept = append(kept, row)
	}
	if dropped := len(rows) - len(kept); dropped > 0 {
		s.logger.Debug("dropped rows already cached", zap.Int("count", dropped))
	}
	return kept
}

// Loop syncs every interval until ctx is done. Failures are logged and the
// next tick tries again.
func (s *Service) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("periodic sync failed", zap.Error(err))
			}
		}
	}
}
