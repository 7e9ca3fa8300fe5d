package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteJournal implements Journal using modernc.org/sqlite (pure Go, no CGO).
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at the given path.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The daemon writes while CLI commands read; one connection keeps
	// SQLite from reporting "database is locked".
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteJournal{db: db}, nil
}

// newULID generates a new ULID string.
func newULID(t time.Time) string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (j *SQLiteJournal) Migrate(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, k int) bool {
		return entries[i].Name() < entries[k].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := j.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := j.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.ID == "" {
		e.ID = newULID(e.At)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (id, path, task_uuid, description, project, action, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.UUID, e.Description, e.Project, string(e.Action), string(e.Reason), e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	var where []string
	var args []any
	since := filter.Since.UTC()
	switch {
	case filter.Since.IsZero():
	case filter.IncludeOpen:
		where = append(where, `(e.at >= ? OR (e.at < ? AND e.action = ? AND NOT EXISTS (
			SELECT 1 FROM entries x
			WHERE x.task_uuid = e.task_uuid AND x.at < ?
			  AND (x.at > e.at OR (x.at = e.at AND x.id > e.id)))))`)
		args = append(args, since, since, string(ActionStart), since)
	default:
		where = append(where, "e.at >= ?")
		args = append(args, since)
	}
	if filter.UUID != "" {
		where = append(where, "e.task_uuid = ?")
		args = append(args, filter.UUID)
	}

	query := `SELECT e.id, e.path, e.task_uuid, e.description, e.project, e.action, e.reason, e.at FROM entries e`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.at, e.id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var action, reason string
		if err := rows.Scan(&e.ID, &e.Path, &e.UUID, &e.Description, &e.Project, &action, &reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Action = Action(action)
		e.Reason = Reason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
