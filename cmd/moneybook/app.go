package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/config"
	"github.com/tanq16/moneybook/internal/notion"
	"github.com/tanq16/moneybook/internal/report"
	"github.com/tanq16/moneybook/internal/storage"
	"github.com/tanq16/moneybook/internal/syncer"
)

// app is everything the commands share once settings are validated.
type app struct {
	store  storage.Storage
	syncer *syncer.Service
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := storage.InitializeStorage(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	client, err := notion.NewClient(notion.ClientConfig{
		Token:   cfg.Notion.IntegrationToken,
		Version: cfg.Notion.Version,
		BaseURL: cfg.Notion.BaseURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	svc := syncer.New(syncer.Config{
		DatabaseID:        cfg.Notion.DatabaseID,
		IDProperty:        cfg.Notion.IDProperty,
		WatermarkProperty: cfg.Notion.WatermarkProperty,
	}, store, syncer.NotionConnector(client.Database, cfg.Notion.DatabaseID, logger), logger)

	logger.Info("configuration loaded",
		zap.String("database_id", cfg.Notion.DatabaseID),
		zap.String("token", cfg.RedactedToken()),
		zap.String("storage", string(cfg.Storage.StorageType)))
	return &app{store: store, syncer: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func reporterFor(cfg *config.Config) (report.Reporter, report.Mapping, error) {
	loc, err := cfg.Location()
	if err != nil {
		return report.Reporter{}, report.Mapping{}, err
	}
	reporter := report.Reporter{
		ExcludedCategory: cfg.Columns.ExcludedCategory,
		CashPayment:      cfg.Columns.CashPayment,
		Location:         loc,
	}
	mapping := report.Mapping{
		ID:       cfg.Notion.IDProperty,
		Date:     cfg.Columns.Date,
		Amount:   cfg.Columns.Amount,
		Category: cfg.Columns.Category,
		Payment:  cfg.Columns.Payment,
		Name:     cfg.Columns.Name,
		Month:    cfg.Columns.Month,
	}
	return reporter, mapping, nil
}
