package storage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup by key has no match.
var ErrNotFound = errors.New("not found")

// Storage interface for all storage types
type Storage interface {
	Close() error

	// Cached tables, one per Notion database
	LoadTable(databaseID string) (Table, error)
	SaveTable(databaseID string, table Table) error

	// Dashboard sessions
	CreateSession(session Session) error
	GetSession(id string) (Session, error)
	DeleteSession(id string) error
	DeleteExpiredSessions(now time.Time) error
}

// Row is one flattened Notion record keyed by property name. Values are
// string, float64 or nil so every backend round-trips them unchanged.
type Row map[string]any

// PageIDKey holds the Notion page id of a row. It is not part of Columns.
const PageIDKey = "_page_id"

// Table is the cached tabular form of a Notion database.
type Table struct {
	Columns   []string  `json:"columns"`
	Rows      []Row     `json:"rows"`
	Watermark string    `json:"watermark"`
	SyncedAt  time.Time `json:"syncedAt"`
}

func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
}

type BackendType string

const (
	BackendTypeJSON     BackendType = "json"
	BackendTypeSQLite   BackendType = "sqlite"
	BackendTypePostgres BackendType = "postgres"
)

// config for the storage backend
type SystemConfig struct {
	StorageURL  string
	StorageType BackendType
	StorageUser string
	StoragePass string
	StorageSSL  string
}

func BackendTypeFromString(s string) BackendType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return BackendTypeJSON
	case "sqlite":
		return BackendTypeSQLite
	case "postgres":
		return BackendTypePostgres
	default:
		return ""
	}
}

func SSLModeFromString(s string) string {
	switch s {
	case "disable", "require", "verify-full", "verify-ca":
		return s
	default:
		return "disable"
	}
}

// initializes the storage backend
func InitializeStorage(baseConfig SystemConfig, logger *zap.Logger) (Storage, error) {
	if baseConfig.StorageURL == "" {
		return nil, fmt.Errorf("missing STORAGE_URL for %s backend", baseConfig.StorageType)
	}
	switch baseConfig.StorageType {
	case BackendTypeJSON:
		return InitializeJsonStore(baseConfig, logger)
	case BackendTypeSQLite:
		return InitializeSQLiteStore(baseConfig, logger)
	case BackendTypePostgres:
		if baseConfig.StorageUser == "" {
			return nil, fmt.Errorf("missing STORAGE_USER for postgres backend")
		}
		if baseConfig.StoragePass == "" {
			return nil, fmt.Errorf("missing STORAGE_PASS for postgres backend")
		}
		return InitializePostgresStore(baseConfig, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %q (use json, sqlite or postgres)", baseConfig.StorageType)
	}
}

var REInvalidChars *regexp.Regexp = regexp.MustCompile(`[^\p{L}\p{N}\s.,\-'_!"]`)
var RERepeatingSpaces *regexp.Regexp = regexp.MustCompile(`\s+`)

// allows readable chars like unicode, otherwise replaces with whitespace
func SanitizeString(s string) string {
	sanitized := REInvalidChars.ReplaceAllString(s, " ")
	sanitized = RERepeatingSpaces.ReplaceAllString(sanitized, " ")
	return strings.TrimSpace(sanitized)
}
