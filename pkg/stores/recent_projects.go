// Package stores persists completed generation sessions as recent projects.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ProjectRecord is the archived form of a finished generation session.
type ProjectRecord struct {
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	FrameworkID string    `json:"framework_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// RecentProjects is a SQLite-backed archive of generated projects.
type RecentProjects struct {
	db  *sql.DB
	cfg Config
}

// Config holds store configuration. Zero pool values take defaults.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewRecentProjects creates a store instance. Init must be called before use.
func NewRecentProjects(cfg Config) (*RecentProjects, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &RecentProjects{cfg: cfg}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *RecentProjects) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *RecentProjects) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *RecentProjects) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveProject archives a record. Saving an existing session ID refreshes the
// record and promotes it to the top of the recent list.
func (s *RecentProjects) SaveProject(ctx context.Context, record ProjectRecord) error {
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = time.Now()
	}

	query := `
		INSERT INTO recent_projects (session_id, name, path, framework_id, status, created_at, finished_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			framework_id = excluded.framework_id,
			status = excluded.status,
			created_at = excluded.created_at,
			finished_at = excluded.finished_at,
			archived_at = excluded.archived_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.SessionID,
		record.Name,
		record.Path,
		record.FrameworkID,
		record.Status,
		record.CreatedAt,
		record.FinishedAt,
		record.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// GetProject retrieves a record by session ID.
func (s *RecentProjects) GetProject(ctx context.Context, sessionID string) (*ProjectRecord, error) {
	query := `
		SELECT session_id, name, path, framework_id, status, created_at, finished_at, archived_at
		FROM recent_projects
		WHERE session_id = ?
	`

	record := &ProjectRecord{}
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&record.SessionID,
		&record.Name,
		&record.Path,
		&record.FrameworkID,
		&record.Status,
		&record.CreatedAt,
		&record.FinishedAt,
		&record.ArchivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return record, nil
}

// ListProjects returns up to limit records, most recently archived first.
// A limit of zero returns everything.
func (s *RecentProjects) ListProjects(ctx context.Context, limit int) ([]ProjectRecord, error) {
	query := `
		SELECT session_id, name, path, framework_id, status, created_at, finished_at, archived_at
		FROM recent_projects
		ORDER BY archived_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var records []ProjectRecord
	for rows.Next() {
		var record ProjectRecord
		if err := rows.Scan(
			&record.SessionID,
			&record.Name,
			&record.Path,
			&record.FrameworkID,
			&record.Status,
			&record.CreatedAt,
			&record.FinishedAt,
			&record.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read projects: %w", err)
	}
	return records, nil
}

// DeleteProject removes a record.
func (s *RecentProjects) DeleteProject(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM recent_projects WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("project not found: %s", sessionID)
	}
	return nil
}
