// Package position implements PositionStore (§4.3): a durable
// per-session symbol→net table backed by an embedded SQL file, with an
// in-memory cache read path and fire-and-forget write-through.
//
// Grounded on src/position.rs's PositionDB (single-connection pool,
// sqlite_master enumeration on startup, spawn-and-forget REPLACE INTO)
// reimplemented against database/sql + github.com/mattn/go-sqlite3
// instead of sqlx, and on the teacher's internal/store/store.go for the
// mutex-guarded in-memory half of the cache.
package position

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"xgateway/pkg/proto"
)

// Store is the shared, internally-synchronized position cache + SQL
// write-through described in §3's Ownership paragraph.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[uint16]map[string]proto.Position

	logger *slog.Logger
}

// Open opens (creating if missing) the SQL file at path, enumerates
// existing per-session tables, and loads every non-zero position into
// the in-memory cache.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("position: open %s: %w", path, err)
	}
	// One writer: matches the original's max_connections(1) and the
	// fire-and-forget write model — concurrent writers would just
	// serialize behind SQLite's own locking anyway.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		cache:  make(map[uint16]map[string]proto.Position),
		logger: logger.With("component", "position_store"),
	}

	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	if err != nil {
		return fmt.Errorf("position: enumerate tables: %w", err)
	}
	defer rows.Close()

	var sessionIDs []uint16
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("position: scan table name: %w", err)
		}
		id, err := strconv.ParseUint(name, 10, 16)
		if err != nil {
			// Not a session table (shouldn't happen in a dedicated db file).
			continue
		}
		sessionIDs = append(sessionIDs, uint16(id))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, sid := range sessionIDs {
		positions, err := s.load(sid)
		if err != nil {
			return err
		}
		s.cache[sid] = positions
	}
	return nil
}

func (s *Store) load(sessionID uint16) (map[string]proto.Position, error) {
	query := fmt.Sprintf(`SELECT symbol, net FROM %s WHERE net <> 0`, quoteIdent(sessionID))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("position: load session %d: %w", sessionID, err)
	}
	defer rows.Close()

	positions := make(map[string]proto.Position)
	for rows.Next() {
		var p proto.Position
		if err := rows.Scan(&p.Symbol, &p.Net); err != nil {
			return nil, fmt.Errorf("position: scan session %d: %w", sessionID, err)
		}
		positions[p.Symbol] = p
		s.logger.Info("loaded position", "session_id", sessionID, "symbol", p.Symbol, "net", p.Net)
	}
	return positions, rows.Err()
}

func quoteIdent(sessionID uint16) string {
	return fmt.Sprintf(`"%d"`, sessionID)
}

// CreateTable idempotently creates the per-session table (§4.3).
func (s *Store) CreateTable(sessionID uint16) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (symbol TEXT PRIMARY KEY NOT NULL, net REAL NOT NULL)`,
		quoteIdent(sessionID),
	)
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("position: create table for session %d: %w", sessionID, err)
	}

	s.mu.Lock()
	if _, ok := s.cache[sessionID]; !ok {
		s.cache[sessionID] = make(map[string]proto.Position)
	}
	s.mu.Unlock()
	return nil
}

// GetPositions returns a snapshot of the cached positions for sessionID,
// or (nil, false) if the session has never logged in.
func (s *Store) GetPositions(sessionID uint16) (map[string]proto.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions, ok := s.cache[sessionID]
	if !ok {
		return nil, false
	}
	snapshot := make(map[string]proto.Position, len(positions))
	for k, v := range positions {
		snapshot[k] = v
	}
	return snapshot, true
}

// Update writes position into the in-memory cache synchronously, then
// spawns a fire-and-forget REPLACE INTO. Write failures are logged, not
// surfaced (§4.3, §7 "Persistence"): positions are reconstructible from
// the exchange and order latency must not wait on fsync.
func (s *Store) Update(sessionID uint16, p proto.Position) {
	s.mu.Lock()
	if _, ok := s.cache[sessionID]; !ok {
		s.cache[sessionID] = make(map[string]proto.Position)
	}
	s.cache[sessionID][p.Symbol] = p
	s.mu.Unlock()

	go func() {
		query := fmt.Sprintf(`REPLACE INTO %s (symbol, net) VALUES (?, ?)`, quoteIdent(sessionID))
		if _, err := s.db.Exec(query, p.Symbol, p.Net); err != nil {
			s.logger.Error("position write-through failed", "session_id", sessionID, "symbol", p.Symbol, "error", err)
			return
		}
		s.logger.Debug("position persisted", "session_id", sessionID, "symbol", p.Symbol, "net", p.Net)
	}()
}

// DropTable removes a session's table. Testing only (§4.3).
func (s *Store) DropTable(sessionID uint16) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(sessionID))
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("position: drop table for session %d: %w", sessionID, err)
	}
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
	return nil
}

// Close releases the underlying SQL connection.
func (s *Store) Close() error {
	return s.db.Close()
}
