package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tanq16/moneybook/internal/storage"
)

// NotionConfig holds the integration settings.
//
// WARNING: IntegrationToken is a secret and must not be logged.
type NotionConfig struct {
	DatabaseID        string `mapstructure:"database_id"`
	IntegrationToken  string `mapstructure:"integration_token"`
	Version           string `mapstructure:"notion_version"`
	BaseURL           string `mapstructure:"notion_url"`
	WatermarkProperty string `mapstructure:"watermark_property"`
	IDProperty        string `mapstructure:"id_property"`
}

// Columns maps report fields to Notion property names.
type Columns struct {
	Date             string `mapstructure:"date_column"`
	Amount           string `mapstructure:"amount_column"`
	Category         string `mapstructure:"category_column"`
	Payment          string `mapstructure:"payment_column"`
	Name             string `mapstructure:"name_column"`
	Month            string `mapstructure:"month_column"`
	ExcludedCategory string `mapstructure:"excluded_category"`
	CashPayment      string `mapstructure:"cash_payment"`
}

type ServerConfig struct {
	ListenAddr           string        `mapstructure:"listen_addr"`
	DashboardPassword    string        `mapstructure:"dashboard_password_hash"` // bcrypt hash; empty disables login
	SyncOnLoad           bool          `mapstructure:"sync_on_load"`
	SyncInterval         time.Duration `mapstructure:"sync_interval"`
	SessionCleanupPeriod time.Duration `mapstructure:"session_cleanup_period"`
}

type Config struct {
	Notion   NotionConfig         `mapstructure:",squash"`
	Columns  Columns              `mapstructure:",squash"`
	Server   ServerConfig         `mapstructure:",squash"`
	Storage  storage.SystemConfig `mapstructure:"-"`
	LogLevel string               `mapstructure:"log_level"`
	Timezone string               `mapstructure:"timezone"`
}

var defaults = map[string]any{
	"notion_version":         "2022-06-28",
	"watermark_property":     "Updated At",
	"id_property":            "ID",
	"date_column":            "Date Payment",
	"amount_column":          "Amount",
	"category_column":        "Category",
	"payment_column":         "Payment",
	"name_column":            "Name",
	"month_column":           "Month Year Date",
	"excluded_category":      "emoney",
	"cash_payment":           "cash",
	"listen_addr":            ":8080",
	"sync_on_load":           true,
	"sync_interval":          "0s",
	"session_cleanup_period": "1h",
	"storage_type":           "json",
	"storage_url":            "moneybook_data.json",
	"storage_ssl":            "disable",
	"log_level":              "info",
	"timezone":               "Local",
}

// envKeys are bound explicitly so Unmarshal sees values that only exist in
// the environment.
var envKeys = []string{
	"database_id", "integration_token", "notion_version", "notion_url",
	"storage_user", "storage_pass", "dashboard_password_hash",
}

// Load reads the optional .env file at path, then the environment, which
// takes precedence. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Storage = storage.SystemConfig{
		StorageType: storage.BackendTypeFromString(v.GetString("storage_type")),
		StorageURL:  v.GetString("storage_url"),
		StorageUser: v.GetString("storage_user"),
		StoragePass: v.GetString("storage_pass"),
		StorageSSL:  storage.SSLModeFromString(v.GetString("storage_ssl")),
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}

// ValidateNotion reports the first missing Notion setting.
func (c *Config) ValidateNotion() error {
	switch {
	case c.Notion.DatabaseID == "":
		return fmt.Errorf("missing DATABASE_ID")
	case c.Notion.IntegrationToken == "":
		return fmt.Errorf("missing INTEGRATION_TOKEN")
	case c.Notion.WatermarkProperty == "":
		return fmt.Errorf("missing WATERMARK_PROPERTY")
	}
	return nil
}

// Validate checks everything the server needs.
func (c *Config) Validate() error {
	if err := c.ValidateNotion(); err != nil {
		return err
	}
	if c.Storage.StorageType == "" {
		return fmt.Errorf("unsupported STORAGE_TYPE (use json, sqlite or postgres)")
	}
	if c.Server.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL cannot be negative")
	}
	if c.Columns.Date == "" || c.Columns.Amount == "" {
		return fmt.Errorf("DATE_COLUMN and AMOUNT_COLUMN are required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE, used to bucket expenses into days and months.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RedactedToken keeps the first and last four characters of the token.
func (c *Config) RedactedToken() string {
	tok := c.Notion.IntegrationToken
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", len(tok)-8) + tok[len(tok)-4:]
}
