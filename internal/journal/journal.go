// Package journal persists a record of every workspace action the navigator
// ran, in SQLite for a single user or PostgreSQL for a shared install.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Entry is one finished action.
type Entry struct {
	ID        string
	Action    string
	Paths     []string
	State     string
	Message   string
	Retries   int
	Changed   int
	BackedUp  int
	CreatedAt time.Time
}

// Journal is a SQL-backed action journal.
type Journal struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to the journal database. driver is "sqlite" or "postgres".
func Open(driver, dsn string, logger *zap.Logger) (*Journal, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		// one writer; concurrent connections would see SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Journal{db: db, driver: driver, logger: logger}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Migrate applies the embedded migrations. An up-to-date schema is not an error.
func (j *Journal) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	var driver database.Driver
	switch j.driver {
	case "postgres":
		conn, err := j.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("migration connection: %w", err)
		}
		defer conn.Close()
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
	default:
		driver, err = sqlite.WithInstance(j.db, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
	}

	// m.Close is not called: the sqlite driver would close j.db with it.
	m, err := migrate.NewWithInstance("iofs", src, j.driver, driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		j.logger.Debug("journal schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (j *Journal) rebind(query string) string {
	if j.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record stores e, assigning an id and timestamp when missing.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, j.rebind(
		`INSERT INTO action_journal (id, action, paths, state, message, retries, changed, backed_up, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Action, strings.Join(e.Paths, "\n"), e.State, e.Message,
		e.Retries, e.Changed, e.BackedUp, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return e, fmt.Errorf("record %s: %w", e.Action, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, j.rebind(
		`SELECT id, action, paths, state, message, retries, changed, backed_up, created_at
		 FROM action_journal ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var paths string
		var created int64
		if err := rows.Scan(&e.ID, &e.Action, &paths, &e.State, &e.Message,
			&e.Retries, &e.Changed, &e.BackedUp, &created); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		if paths != "" {
			e.Paths = strings.Split(paths, "\n")
		}
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
