// Package history persists a local record of analysis submissions. It is a
// convenience log for the operator; the workflow never reads it back.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a submission does not exist.
var ErrNotFound = errors.New("not found")

// Submission is one recorded upload and its outcome.
type Submission struct {
	ID           string
	JobID        string
	FileName     string
	DocumentType string
	Phase        string // processing, completed, failed
	Error        string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Store wraps a SQLite database holding the submission log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "scribe.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// SaveSubmission records a new submission in the processing phase.
func (s *Store) SaveSubmission(sub Submission) error {
	phase := sub.Phase
	if phase == "" {
		phase = "processing"
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (id, job_id, file_name, document_type, phase, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.JobID, sub.FileName, sub.DocumentType, phase, sub.Error,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// FinishSubmission marks the most recent submission for jobID with its
// terminal phase and optional error message.
func (s *Store) FinishSubmission(jobID, phase, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE submissions SET phase = ?, error = ?, completed_at = ?
		WHERE id = (SELECT id FROM submissions WHERE job_id = ? ORDER BY created_at DESC LIMIT 1)`,
		phase, errMsg, time.Now().UTC().Format(time.RFC3339), jobID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSubmission returns a single submission by its id.
func (s *Store) GetSubmission(id string) (Submission, error) {
	row := s.db.QueryRow(`
		SELECT id, job_id, file_name, document_type, phase, error, created_at, completed_at
		FROM submissions WHERE id = ?`, id,
	)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return Submission{}, ErrNotFound
	}
	return sub, err
}

// RecentSubmissions returns the newest submissions first.
func (s *Store) RecentSubmissions(limit int) ([]Submission, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, file_name, document_type, phase, error, created_at, completed_at
		FROM submissions ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (Submission, error) {
	var sub Submission
	var createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&sub.ID, &sub.JobID, &sub.FileName, &sub.DocumentType,
		&sub.Phase, &sub.Error, &createdAt, &completedAt); err != nil {
		return Submission{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Submission{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sub.CreatedAt = t
	if completedAt.Valid {
		ct, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return Submission{}, fmt.Errorf("parsing completed_at: %w", err)
		}
		sub.CompletedAt = &ct
	}
	return sub, nil
}
