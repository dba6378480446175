package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// jsonStore keeps everything in a single JSON file, rewritten on each change.
type jsonStore struct {
	filePath string
	logger   *zap.Logger
	mu       sync.RWMutex
	data     jsonFileData
}

type jsonFileData struct {
	Tables   map[string]Table   `json:"tables"`
	Sessions map[string]Session `json:"sessions"`
}

func InitializeJsonStore(baseConfig SystemConfig, logger *zap.Logger) (Storage, error) {
	filePath := baseConfig.StorageURL
	if filepath.Ext(filePath) == "" {
		filePath = filepath.Join(filePath, "moneybook_data.json")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	store := &jsonStore{
		filePath: filePath,
		logger:   logger,
		data: jsonFileData{
			Tables:   map[string]Table{},
			Sessions: map[string]Session{},
		},
	}
	raw, err := os.ReadFile(filePath)
	switch {
	case os.IsNotExist(err):
		logger.Info("creating new json store", zap.String("path", filePath))
		if err := store.flush(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	default:
		if err := json.Unmarshal(raw, &store.data); err != nil {
			return nil, fmt.Errorf("failed to parse storage file: %w", err)
		}
		if store.data.Tables == nil {
			store.data.Tables = map[string]Table{}
		}
		if store.data.Sessions == nil {
			store.data.Sessions = map[string]Session{}
		}
	}
	return store, nil
}

// flush writes to a temp file and renames it so a crash never leaves a
// truncated cache behind. Callers hold the lock and undo their change to
// s.data when it fails, so memory never runs ahead of disk.
func (s *jsonStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

func (s *jsonStore) Close() error {
	return nil
}

func (s *jsonStore) LoadTable(databaseID string) (Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.data.Tables[databaseID]
	if !ok {
		return Table{}, nil
	}
	rows := make([]Row, len(table.Rows))
	copy(rows, table.Rows)
	table.Rows = rows
	return table, nil
}

func (s *jsonStore) SaveTable(databaseID string, table Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data.Tables[databaseID]
	s.data.Tables[databaseID] = table
	if err := s.flush(); err != nil {
		if had {
			s.data.Tables[databaseID] = prev
		} else {
			delete(s.data.Tables, databaseID)
		}
		return err
	}
	return nil
}

func (s *jsonStore) CreateSession(session Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data.Sessions[session.ID]
	s.data.Sessions[session.ID] = session
	if err := s.flush(); err != nil {
		if had {
			s.data.Sessions[session.ID] = prev
		} else {
			delete(s.data.Sessions, session.ID)
		}
		return err
	}
	return nil
}

func (s *jsonStore) GetSession(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.data.Sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *jsonStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data.Sessions[id]
	if !ok {
		return nil
	}
	delete(s.data.Sessions, id)
	if err := s.flush(); err != nil {
		s.data.Sessions[id] = prev
		return err
	}
	return nil
}

func (s *jsonStore) DeleteExpiredSessions(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := map[string]Session{}
	for id, session := range s.data.Sessions {
		if now.After(session.ExpiresAt) {
			delete(s.data.Sessions, id)
			removed[id] = session
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.flush(); err != nil {
		for id, session := range removed {
			s.data.Sessions[id] = session
		}
		return err
	}
	s.logger.Debug("removed expired sessions", zap.Int("count", len(removed)))
	return nil
}
