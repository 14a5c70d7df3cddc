package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"warden/internal/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	DefaultCacheTTL = 60 * time.Second
	refreshTimeout  = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	project_root TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

// SQLDirectory stores sessions in sqlite or postgres.
type SQLDirectory struct {
	db     *sql.DB
	driver string
	cache  *cache
	log    *logging.StructuredLogger
}

// OpenSQL opens the session table. For sqlite, dsn is a file path.
func OpenSQL(ctx context.Context, driver, dsn string, cacheTTL time.Duration) (*SQLDirectory, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite session store path must be set")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("prepare session store dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres session store requires a dsn")
		}
	default:
		return nil, fmt.Errorf("unsupported session driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &SQLDirectory{
		db:     db,
		driver: driver,
		cache:  newCache(cacheTTL),
		log:    logging.NewStructuredLogger("session"),
	}, nil
}

func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

// bind rewrites ? placeholders into $n for postgres.
func (d *SQLDirectory) bind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d *SQLDirectory) Lookup(ctx context.Context, id string) (Session, error) {
	res := d.cache.get(id)
	if res.Hit {
		if res.NeedsRefresh {
			go d.refreshInBackground(id)
		}
		if res.Session == nil {
			return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return *res.Session, nil
	}

	s, err := d.fetch(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		d.cache.set(id, nil)
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	d.cache.set(id, &s)
	return s, nil
}

func (d *SQLDirectory) fetch(ctx context.Context, id string) (Session, error) {
	row := d.db.QueryRowContext(ctx, d.bind(`SELECT session_id, project_root, created_at FROM sessions WHERE session_id = ?`), id)
	var s Session
	if err := row.Scan(&s.ID, &s.ProjectRoot, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (d *SQLDirectory) refreshInBackground(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	s, err := d.fetch(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		d.cache.set(id, nil)
	case err != nil:
		d.log.Warn("background session refresh failed", map[string]interface{}{"session_id": id, "error": err.Error()})
		d.cache.delete(id)
	default:
		d.cache.set(id, &s)
	}
}

// Register creates or updates a session.
func (d *SQLDirectory) Register(ctx context.Context, id, projectRoot string) error {
	if id == "" || projectRoot == "" {
		return errors.New("session id and project root are required")
	}
	now := time.Now().UTC()
	if _, err := d.db.ExecContext(ctx, d.bind(`
INSERT INTO sessions (session_id, project_root, created_at) VALUES (?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET project_root = excluded.project_root`), id, projectRoot, now); err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	d.cache.delete(id)
	return nil
}

func (d *SQLDirectory) Remove(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, d.bind(`DELETE FROM sessions WHERE session_id = ?`), id)
	if err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	d.cache.delete(id)
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns every session ordered by id.
func (d *SQLDirectory) List(ctx context.Context) ([]Session, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT session_id, project_root, created_at FROM sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.ProjectRoot, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
