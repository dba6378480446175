package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// databaseStore implements the Storage interface for PostgreSQL and SQLite.
// Queries are written with ? placeholders and rebound per dialect.
type databaseStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

type dialect struct {
	name        string
	timestamp   string
	numbered    bool
	copyRows    bool
	createExtra []string
}

var (
	postgresDialect = dialect{
		name:      "postgres",
		timestamp: "TIMESTAMPTZ",
		numbered:  true,
		copyRows:  true,
	}
	sqliteDialect = dialect{
		name:      "sqlite",
		timestamp: "DATETIME",
		createExtra: []string{
			`PRAGMA journal_mode = WAL`,
		},
	}
)

const (
	createSyncStateTableSQL = `
	CREATE TABLE IF NOT EXISTS sync_state (
		database_id VARCHAR(64) PRIMARY KEY,
		columns TEXT NOT NULL,
		watermark TEXT NOT NULL DEFAULT '',
		synced_at %[1]s NOT NULL
	);`

	createRowsTableSQL = `
	CREATE TABLE IF NOT EXISTS notion_rows (
		database_id VARCHAR(64) NOT NULL,
		position INTEGER NOT NULL,
		page_id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (database_id, position)
	);`

	createSessionsTableSQL = `
	CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(64) PRIMARY KEY,
		created_at %[1]s NOT NULL,
		expires_at %[1]s NOT NULL,
		ip VARCHAR(100),
		user_agent TEXT
	);`
)

func InitializePostgresStore(baseConfig SystemConfig, logger *zap.Logger) (Storage, error) {
	return openDatabaseStore(postgresDialect, makeDBURL(baseConfig), logger)
}

func InitializeSQLiteStore(baseConfig SystemConfig, logger *zap.Logger) (Storage, error) {
	return openDatabaseStore(sqliteDialect, baseConfig.StorageURL, logger)
}

func makeDBURL(baseConfig SystemConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s?sslmode=%s", baseConfig.StorageUser, baseConfig.StoragePass, baseConfig.StorageURL, SSLModeFromString(baseConfig.StorageSSL))
}

func openDatabaseStore(d dialect, dsn string, logger *zap.Logger) (Storage, error) {
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}
	if d.name == sqliteDialect.name {
		// single writer; avoids SQLITE_BUSY between the sync loop and requests
		db.SetMaxOpenConns(1)
	}
	logger.Info("connected to database", zap.String("dialect", d.name))

	s := &databaseStore{db: db, dialect: d, logger: logger}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database tables: %w", err)
	}
	return s, nil
}

func (s *databaseStore) createTables() error {
	stmts := append([]string{}, s.dialect.createExtra...)
	stmts = append(stmts,
		fmt.Sprintf(createSyncStateTableSQL, s.dialect.timestamp),
		createRowsTableSQL,
		fmt.Sprintf(createSessionsTableSQL, s.dialect.timestamp),
		`CREATE INDEX IF NOT EXISTS notion_rows_page_idx ON notion_rows (database_id, page_id)`,
		`CREATE INDEX IF NOT EXISTS sessions_expires_idx ON sessions (expires_at)`,
	)
	for _, query := range stmts {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $1, $2, ... for dialects that number them.
func (s *databaseStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *databaseStore) Close() error {
	return s.db.Close()
}

func (s *databaseStore) LoadTable(databaseID string) (Table, error) {
	var table Table
	var columnsStr string
	err := s.db.QueryRow(
		s.rebind(`SELECT columns, watermark, synced_at FROM sync_state WHERE database_id = ?`),
		databaseID,
	).Scan(&columnsStr, &table.Watermark, &table.SyncedAt)
	if err == sql.ErrNoRows {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("failed to read sync state: %w", err)
	}
	if err := json.Unmarshal([]byte(columnsStr), &table.Columns); err != nil {
		return Table{}, fmt.Errorf("failed to parse cached columns: %w", err)
	}

	rows, err := s.db.Query(
		s.rebind(`SELECT data FROM notion_rows WHERE database_id = ? ORDER BY position ASC`),
		databaseID,
	)
	if err != nil {
		return Table{}, fmt.Errorf("failed to query cached rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return Table{}, fmt.Errorf("failed to scan cached row: %w", err)
		}
		var row Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return Table{}, fmt.Errorf("failed to parse cached row: %w", err)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("failed to read cached rows: %w", err)
	}
	return table, nil
}

// SaveTable replaces the cached table in one transaction.
func (s *databaseStore) SaveTable(databaseID string, table Table) (err error) {
	columnsJSON, err := json.Marshal(table.Columns)
	if err != nil {
		return err
	}
	if table.SyncedAt.IsZero() {
		table.SyncedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(s.rebind(`
		INSERT INTO sync_state (database_id, columns, watermark, synced_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (database_id) DO UPDATE SET columns = excluded.columns, watermark = excluded.watermark, synced_at = excluded.synced_at`),
		databaseID, string(columnsJSON), table.Watermark, table.SyncedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}
	if _, err = tx.Exec(s.rebind(`DELETE FROM notion_rows WHERE database_id = ?`), databaseID); err != nil {
		return fmt.Errorf("failed to clear cached rows: %w", err)
	}
	if s.dialect.copyRows {
		err = s.copyRows(tx, databaseID, table.Rows)
	} else {
		err = s.insertRows(tx, databaseID, table.Rows)
	}
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit table: %w", err)
	}
	s.logger.Debug("saved table", zap.String("database", databaseID), zap.Int("rows", len(table.Rows)))
	return nil
}

func (s *databaseStore) copyRows(tx *sql.Tx, databaseID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(pq.CopyIn("notion_rows", "database_id", "position", "page_id", "data"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy in: %w", err)
	}
	defer stmt.Close()
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(databaseID, i, pageID(row), string(data)); err != nil {
			return fmt.Errorf("failed to execute copy in: %w", err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("failed to finalize copy in: %w", err)
	}
	return nil
}

func (s *databaseStore) insertRows(tx *sql.Tx, databaseID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(s.rebind(`INSERT INTO notion_rows (database_id, position, page_id, data) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(databaseID, i, pageID(row), string(data)); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return nil
}

func (s *databaseStore) CreateSession(session Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	query := `INSERT INTO sessions (id, created_at, expires_at, ip, user_agent) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(s.rebind(query), session.ID, session.CreatedAt.UTC(), session.ExpiresAt.UTC(), session.IP, session.UserAgent)
	return err
}

func (s *databaseStore) GetSession(id string) (Session, error) {
	query := `SELECT id, created_at, expires_at, ip, user_agent FROM sessions WHERE id = ?`
	var session Session
	var ip, userAgent sql.NullString
	err := s.db.QueryRow(s.rebind(query), id).Scan(&session.ID, &session.CreatedAt, &session.ExpiresAt, &ip, &userAgent)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	session.IP = ip.String
	session.UserAgent = userAgent.String
	return session, nil
}

func (s *databaseStore) DeleteSession(id string) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM sessions WHERE id = ?`), id)
	return err
}

func (s *databaseStore) DeleteExpiredSessions(now time.Time) error {
	result, err := s.db.Exec(s.rebind(`DELETE FROM sessions WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("removed expired sessions", zap.Int64("count", n))
	}
	return nil
}

func pageID(row Row) string {
	id, _ := row[PageIDKey].(string)
	return id
}
