package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the submission log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "errsheet.db")
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

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for tests and maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
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

	// Sort by filename to guarantee ascending order.
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

		// Check if already applied.
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

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Submissions ---

// SaveSubmission records a new attempt. Status defaults to pending.
func (s *Store) SaveSubmission(sub Submission) error {
	status := sub.Status
	if status == "" {
		status = StatusPending
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (id, created_at, status, evidence_kind, updated_range, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, createdAt.UTC().Format(timeLayout), status, sub.EvidenceKind,
		sub.UpdatedRange, sub.Error, formatOptionalTime(sub.FinishedAt),
	)
	return err
}

// CompleteSubmission marks an attempt as appended at updatedRange.
func (s *Store) CompleteSubmission(id, updatedRange string) error {
	return s.finish(id, StatusAppended, updatedRange, "")
}

// FailSubmission marks an attempt as failed with errMsg.
func (s *Store) FailSubmission(id, errMsg string) error {
	return s.finish(id, StatusFailed, "", errMsg)
}

func (s *Store) finish(id, status, updatedRange, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE submissions SET status = ?, updated_range = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, updatedRange, errMsg, s.now().UTC().Format(timeLayout), id,
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

func (s *Store) GetSubmission(id string) (Submission, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, status, evidence_kind, updated_range, error, finished_at
		FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return Submission{}, ErrNotFound
	}
	return sub, err
}

// ListSubmissions returns attempts newest first.
func (s *Store) ListSubmissions(limit, offset int) ([]Submission, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, status, evidence_kind, updated_range, error, finished_at
		FROM submissions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
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

// CountSubmissions returns the number of attempts per status.
func (s *Store) CountSubmissions() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// FailStaleSubmissions marks attempts still pending that were created
// before the cutoff as failed with errMsg.
func (s *Store) FailStaleSubmissions(before time.Time, errMsg string) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE submissions SET status = ?, error = ?, finished_at = ?
		WHERE status = ? AND created_at < ?`,
		StatusFailed, errMsg, s.now().UTC().Format(timeLayout),
		StatusPending, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneSubmissions deletes finished attempts created before the cutoff.
func (s *Store) PruneSubmissions(before time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM submissions WHERE status != ? AND created_at < ?`,
		StatusPending, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (Submission, error) {
	var sub Submission
	var createdAt string
	var finishedAt sql.NullString
	if err := row.Scan(&sub.ID, &createdAt, &sub.Status, &sub.EvidenceKind, &sub.UpdatedRange, &sub.Error, &finishedAt); err != nil {
		return Submission{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Submission{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sub.CreatedAt = t
	if finishedAt.Valid && finishedAt.String != "" {
		ft, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return Submission{}, fmt.Errorf("parsing finished_at: %w", err)
		}
		sub.FinishedAt = ft
	}
	return sub, nil
}

func formatOptionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
