// Package savestore keeps named save slots of VM snapshots in SQLite.
package savestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nethervm/nethervm/snapshot"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("nethervm.savestore")

// ErrSlotNotFound indicates the requested save slot doesn't exist.
var ErrSlotNotFound = errors.New("save slot not found")

// Slot describes one stored save without decoding it.
type Slot struct {
	Name     string
	ID       string
	Program  string
	Saved    time.Time
	Snapshot int // encoded size in bytes
}

// Store handles SQLite storage for save slots.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the save database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating save directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS saves (
		slot TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		program TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened save store %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Path is the database file the store was opened on.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes snap to slot, replacing what was there.
func (s *Store) Save(slot string, snap *snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO saves (slot, id, program, saved_at, data) VALUES (?, ?, ?, ?, ?)",
		slot, snap.ID, snap.Program, snap.Created, data,
	)
	if err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	log.Infof("saved %s (%s, %d bytes)", slot, snap.ID, len(data))
	return nil
}

// Load reads and decodes the snapshot in slot.
func (s *Store) Load(slot string) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM saves WHERE slot = ?", slot).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
		}
		return nil, fmt.Errorf("querying slot %s: %w", slot, err)
	}
	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("slot %s: %w", slot, err)
	}
	return snap, nil
}

// List returns every slot, most recently saved first.
func (s *Store) List() ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT slot, id, program, saved_at, length(data) FROM saves ORDER BY saved_at DESC, slot")
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var sl Slot
		var saved int64
		if err := rows.Scan(&sl.Name, &sl.ID, &sl.Program, &saved, &sl.Snapshot); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		sl.Saved = time.Unix(0, saved)
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

// Delete removes slot.
func (s *Store) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM saves WHERE slot = ?", slot)
	if err != nil {
		return fmt.Errorf("deleting slot %s: %w", slot, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
	}
	return nil
}
