package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"signalrelay/internal/constants"
	"signalrelay/internal/migrations"
	"signalrelay/internal/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Dialect names the SQL driver in use
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

type Database struct {
	db        *sql.DB
	dialect   Dialect
	encryptor *encryptor
	logger    *logrus.Logger
	opTimeout time.Duration
}

// New opens the store selected by cfg.DSN and verifies the connection.
// The schema is not applied; call Migrate.
func New(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dialect, dsn, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		if err := ensureSQLiteFile(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// One writer at a time; BEGIN IMMEDIATE serializes the rest.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	enc, err := NewEncryptor(cfg.EncryptPayloads)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	opTimeout := time.Duration(cfg.OpTimeoutSec) * time.Second
	if opTimeout <= 0 {
		opTimeout = constants.DefaultDatabaseOpTimeoutSec * time.Second
	}

	return &Database{
		db:        db,
		dialect:   dialect,
		encryptor: enc,
		logger:    logger,
		opTimeout: opTimeout,
	}, nil
}

// ParseDSN returns the driver and driver-specific DSN for a configured DSN.
func ParseDSN(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = constants.DefaultSQLiteDSN
	}
	if raw[0] == '\x00' {
		return "", "", fmt.Errorf("invalid database DSN")
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, raw, nil
	case strings.HasPrefix(lower, "sqlite://"):
		raw = raw[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite3://"):
		raw = raw[len("sqlite3://"):]
	}

	if !strings.HasPrefix(raw, "file:") {
		raw = "file:" + raw
	}
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")

	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return DialectSQLite, raw + sep + params.Encode(), nil
}

// ensureSQLiteFile creates the database file with owner-only permissions.
func ensureSQLiteFile(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		if strings.Contains(path[i:], "mode=memory") {
			return nil
		}
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close database file: %w", err)
	}
	return nil
}

// Migrate applies every embedded migration that has not run yet.
func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	all, err := migrations.All()
	if err != nil {
		return err
	}

	for _, m := range all {
		var count int
		if err := d.QueryRow(ctx, selectMigration, m.Version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		err := d.WithTx(ctx, "migrate "+m.Version, func(tx *Tx) error {
			if _, err := tx.tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, insertMigration, m.Version, ToMillis(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		d.logger.WithField("version", m.Version).Info("Applied database migration")
	}
	return nil
}

// AppliedMigration is one row of schema_migrations
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// AppliedMigrations lists the migrations already run, oldest version first
func (d *Database) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	if _, err := d.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	rows, err := d.Query(ctx, listMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m  AppliedMigration
			ms int64
		)
		if err := rows.Scan(&m.Version, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		m.AppliedAt = FromMillis(ms)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks connectivity within the operation timeout
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	return d.db.PingContext(ctx)
}

func (d *Database) Dialect() Dialect {
	return d.dialect
}

// Rebind rewrites ? placeholders to $n for Postgres. Placeholders inside
// single-quoted literals are left alone.
func (d *Database) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ForUpdate is the row-lock suffix for a SELECT that precedes an update of
// the same row. sqlite transactions already hold the write lock.
func (d *Database) ForUpdate() string {
	if d.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// SkipLocked is the suffix for claim candidate selection
func (d *Database) SkipLocked() string {
	if d.dialect == DialectPostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (d *Database) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.Rebind(query), args...)
}

func (d *Database) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.Rebind(query), args...)
}

func (d *Database) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.Rebind(query), args...)
}

// Tx is a transaction whose statements are rebound for the active dialect
type Tx struct {
	tx *sql.Tx
	d  *Database
}

func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.Rebind(query), args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.Rebind(query), args...)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.Rebind(query), args...)
}

// ForUpdate mirrors Database.ForUpdate for use inside a transaction
func (t *Tx) ForUpdate() string {
	return t.d.ForUpdate()
}

// SkipLocked mirrors Database.SkipLocked for use inside a transaction
func (t *Tx) SkipLocked() string {
	return t.d.SkipLocked()
}

// WithTx runs fn in one transaction, committing when fn returns nil.
// Lock contention and serialization failures retry the whole transaction.
func (d *Database) WithTx(ctx context.Context, operationName string, fn func(tx *Tx) error) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		opCtx, cancel := d.opContext(ctx)
		defer cancel()

		sqlTx, err := d.db.BeginTx(opCtx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(&Tx{tx: sqlTx, d: d}); err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				d.logger.WithError(rbErr).WithField("operation", operationName).Warn("Rollback failed")
			}
			return err
		}

		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}, operationName)
}

func (d *Database) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.opTimeout)
}

// EncryptPayload encrypts a stored payload when payload encryption is enabled
func (d *Database) EncryptPayload(plaintext string) (string, error) {
	return d.encryptor.EncryptIfEnabled(plaintext)
}

// DecryptPayload reverses EncryptPayload. Rows written before encryption was
// enabled are returned unchanged.
func (d *Database) DecryptPayload(stored string) (string, error) {
	return d.encryptor.DecryptIfEnabled(stored)
}
