package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/otcbroker/broker/internal/obslog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialect covers the one real syntactic difference between the two
// backends this package drives: placeholder style. Everything else
// (RETURNING, transactions, the schema itself) is written portably.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// rebind rewrites a query written with '?' placeholders into d's syntax.
func (d dialect) rebind(query string) string {
	if d == dialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is the database/sql-backed Store, driven by either the
// postgres (github.com/lib/pq) or sqlite (github.com/mattn/go-sqlite3)
// driver (§6.4 "postgres in production, sqlite for a single-operator
// deployment").
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     *obslog.Logger
}

// Open connects to dsn using driverName ("postgres" or "sqlite3") and
// verifies connectivity. Callers must still call Migrate before use.
func Open(driverName, dsn string) (*SQLStore, error) {
	var d dialect
	switch driverName {
	case "postgres":
		d = dialectPostgres
	case "sqlite3":
		d = dialectSQLite
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driverName, err)
	}
	if d == dialectSQLite {
		// sqlite only supports one writer; serialize everything through a
		// single connection rather than letting database/sql pool writers
		// that will just block on SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &SQLStore{db: db, dialect: d, log: obslog.New("store")}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// migration is one embedded .sql file, ordered by its numeric prefix.
type migration struct {
	version string
	sql     string
}

// Migrate applies every pending migration in order, recording each in
// schema_migrations. ALTER TABLE migrations that target a column already
// present fail with a dialect-specific "duplicate column" error, which is
// ignored — the same additive, idempotent-by-tolerance approach the pack's
// own sqlite storage layer uses for its schema evolution.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	migrations, err := s.loadMigrations()
	if err != nil {
		return err
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("store: read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		s.log.Infof("applying migration %s", m.version)
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("store: migration %s: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLStore) loadMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, migration{
			version: strings.TrimSuffix(d.Name(), ".sql"),
			sql:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read migrations: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s *SQLStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumnErr(err) {
				continue
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), m.version, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements splits a migration file on statement-terminating
// semicolons. The schema files never use semicolons inside string
// literals, so a naive split is sufficient.
func splitStatements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func isDuplicateColumnErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
