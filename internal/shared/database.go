package shared

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

// NewDatabase opens a connection to a SQLite database at the specified path.
// The path can be ":memory:" for an in-memory database.
//
// File databases use WAL, a busy timeout and immediate transactions so that concurrent
// writers queue instead of failing. In-memory databases are pinned to one connection
// because every new connection would otherwise see a fresh, empty database.
func NewDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isMemory(path) {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
// Recommended for production use to limit connections and improve performance.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func dsn(path string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if !isMemory(path) {
		params += "&_journal_mode=WAL"
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// ProcessLock guards a database file against a second daemon.
type ProcessLock struct {
	path string
	lock *flock.Flock
}

// NewProcessLock returns a lock file placed next to the database at dbPath.
func NewProcessLock(dbPath string) *ProcessLock {
	lockPath := filepath.Join(filepath.Dir(dbPath), "."+filepath.Base(dbPath)+".lock")
	return &ProcessLock{path: lockPath, lock: flock.New(lockPath)}
}

// Acquire takes the lock without blocking, returning [ErrLocked] if it is held elsewhere.
func (p *ProcessLock) Acquire() error {
	ok, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", p.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, p.path)
	}
	return nil
}

// Release unlocks the lock file.
func (p *ProcessLock) Release() error {
	return p.lock.Unlock()
}

// Path returns the lock file location.
func (p *ProcessLock) Path() string { return p.path }
