package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/retry"
)

// Store is the single shared persistence layer. All pipeline artefacts are
// keyed by run id; nothing crosses stages in process memory.
type Store struct {
	conn *sql.DB
	log  logger.Logger
}

// Config represents store configuration
type Config struct {
	Path string
}

// DefaultConfig returns default store configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Path: filepath.Join(homeDir, ".driftcert", "driftcert.db"),
	}
}

// New opens the database, enabling WAL journaling and a 30 s busy wait so
// concurrent runs contend on locks instead of failing.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, log: logger.New("store")}

	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// exec runs a statement with the lock-contention retry loop
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	return retry.Do(ctx, retry.StoreConfig(), func() error {
		_, err := s.conn.ExecContext(ctx, query, args...)
		return err
	})
}

// inTx runs fn inside a transaction with the same retry policy
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retry.Do(ctx, retry.StoreConfig(), func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		service_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		repo_url TEXT NOT NULL,
		main_branch TEXT NOT NULL,
		environments TEXT NOT NULL,
		config_paths TEXT NOT NULL,
		grp TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_services_group ON services(grp);
	CREATE INDEX IF NOT EXISTS idx_services_active ON services(active);

	CREATE TABLE IF NOT EXISTS golden_branches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id TEXT NOT NULL,
		environment TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		branch_type TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		certification_score REAL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (service_id) REFERENCES services(service_id)
	);
	CREATE INDEX IF NOT EXISTS idx_golden_service_env ON golden_branches(service_id, environment);
	CREATE INDEX IF NOT EXISTS idx_golden_active ON golden_branches(is_active);

	CREATE TABLE IF NOT EXISTS validation_runs (
		run_id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		environment TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_service ON validation_runs(service_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON validation_runs(status);

	CREATE TABLE IF NOT EXISTS context_bundles (
		run_id TEXT PRIMARY KEY,
		bundle TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES validation_runs(run_id)
	);

	CREATE TABLE IF NOT EXISTS config_deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		delta_id TEXT NOT NULL,
		file TEXT NOT NULL,
		category TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id, delta_id),
		FOREIGN KEY (run_id) REFERENCES validation_runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deltas_run ON config_deltas(run_id);

	CREATE TABLE IF NOT EXISTS llm_outputs (
		run_id TEXT PRIMARY KEY,
		output TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES validation_runs(run_id)
	);

	CREATE TABLE IF NOT EXISTS policy_validations (
		run_id TEXT PRIMARY KEY,
		validation TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES validation_runs(run_id)
	);

	CREATE TABLE IF NOT EXISTS certifications (
		run_id TEXT PRIMARY KEY,
		certification TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES validation_runs(run_id)
	);

	CREATE TABLE IF NOT EXISTS reports (
		run_id TEXT PRIMARY KEY,
		report TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES validation_runs(run_id)
	);

	CREATE TABLE IF NOT EXISTS aggregated_results (
		service_id TEXT NOT NULL,
		environment TEXT NOT NULL,
		decision TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (service_id, environment, decision)
	);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// GetSyncValue reads a sync_state entry; missing keys return ""
func (s *Store) GetSyncValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSyncValue upserts a sync_state entry
func (s *Store) SetSyncValue(ctx context.Context, key, value string) error {
	return s.exec(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
}
