// Package store persists observations in a relational table. MySQL is the
// default engine; PostgreSQL (pgx) and SQLite (modernc) share the same code
// path with driver-specific DSN and DDL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// Supported values of Options.Driver.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const savepoint = "sp_record"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Options describes how to reach the store.
type Options struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Database string // database name, or the file path for SQLite
	Table    string
	DSN      string // used verbatim when set

	// CreateTable creates the observation table when it does not exist.
	CreateTable bool
}

// Store is one connection session: at most one open transaction, closed once.
type Store struct {
	db     *sql.DB
	tx     *sql.Tx
	driver string
	table  string
	logger *slog.Logger

	existsSQL string
	insertSQL string

	closeOnce sync.Once
	closeErr  error
}

// Open connects to the store and verifies the connection with a ping.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if !identifierRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrStore, opts.Table)
	}

	driverName, dsn, err := DSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStore, opts.Driver, err)
	}
	if opts.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("connect", err)
	}

	s := &Store{
		db:     db,
		driver: opts.Driver,
		table:  opts.Table,
		logger: logger,
	}
	s.existsSQL = s.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE data = ?", s.table))
	s.insertSQL = s.rebind(fmt.Sprintf(
		"INSERT INTO %s (data, temperatura, precipitacao, umidade) VALUES (?, ?, ?, ?)", s.table))

	if opts.CreateTable {
		if err := s.EnsureTable(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("store connected", "driver", opts.Driver, "table", opts.Table)
	return s, nil
}

// DSN returns the database/sql driver name and data source name for opts.
func DSN(opts Options) (driverName, dsn string, err error) {
	switch opts.Driver {
	case DriverMySQL, "":
		if opts.DSN != "" {
			return "mysql", opts.DSN, nil
		}
		cfg := mysql.NewConfig()
		cfg.User = opts.User
		cfg.Passwd = opts.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(opts.Host, opts.Port)
		cfg.DBName = opts.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return "mysql", cfg.FormatDSN(), nil

	case DriverPostgres:
		if opts.DSN != "" {
			return "pgx", opts.DSN, nil
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(opts.User, opts.Password),
			Host:     net.JoinHostPort(opts.Host, opts.Port),
			Path:     "/" + opts.Database,
			RawQuery: "sslmode=disable&timezone=UTC",
		}
		return "pgx", u.String(), nil

	case DriverSQLite:
		if opts.DSN != "" {
			return "sqlite", opts.DSN, nil
		}
		if opts.Database == "" {
			return "", "", fmt.Errorf("%w: sqlite needs a database file path", ErrStore)
		}
		return "sqlite", opts.Database, nil

	default:
		return "", "", fmt.Errorf("%w: unsupported driver %q", ErrStore, opts.Driver)
	}
}

// EnsureTable creates the observation table if it is missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case DriverPostgres:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			data TIMESTAMP NOT NULL,
			temperatura DOUBLE PRECISION,
			precipitacao DOUBLE PRECISION,
			umidade DOUBLE PRECISION
		)`
	case DriverSQLite:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data DATETIME NOT NULL,
			temperatura REAL,
			precipitacao REAL,
			umidade REAL
		)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id INT AUTO_INCREMENT PRIMARY KEY,
			data DATETIME NOT NULL,
			temperatura DOUBLE,
			precipitacao DOUBLE,
			umidade DOUBLE
		)`
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ddl, s.table)); err != nil {
		return wrap("create table", err)
	}
	return nil
}

// Table returns the target table name.
func (s *Store) Table() string { return s.table }

// Begin opens the run transaction. Only one may be open at a time.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("%w: transaction already open", ErrStore)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}
	s.tx = tx
	return nil
}

// Exists reports whether a row with exactly this timestamp is already stored,
// as seen from the open transaction. A failed lookup leaves the transaction
// usable.
func (s *Store) Exists(ctx context.Context, ts time.Time) (bool, error) {
	if s.tx == nil {
		return false, errNoTx
	}
	var n int
	err := s.savepointed(ctx, "exists", func() error {
		return s.tx.QueryRowContext(ctx, s.existsSQL, s.timeArg(ts)).Scan(&n)
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Insert writes one observation. A failed row is rolled back alone and the
// transaction stays usable.
func (s *Store) Insert(ctx context.Context, obs domain.Observation) error {
	if s.tx == nil {
		return errNoTx
	}
	return s.savepointed(ctx, "insert", func() error {
		_, err := s.tx.ExecContext(ctx, s.insertSQL,
			s.timeArg(obs.Timestamp),
			nullable(obs.Temperature),
			nullable(obs.Precipitation),
			nullable(obs.Humidity),
		)
		return err
	})
}

// savepointed runs fn inside a savepoint. On failure the work of fn is
// rolled back, the savepoint is released and the error is wrapped as op.
// Postgres aborts the whole transaction on any failed statement unless it
// is undone this way.
func (s *Store) savepointed(ctx context.Context, op string, fn func() error) error {
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return wrap("savepoint", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return wrap(op, errors.Join(err, rbErr))
		}
		if _, relErr := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); relErr != nil {
			return wrap(op, errors.Join(err, relErr))
		}
		return wrap(op, err)
	}

	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return wrap("release savepoint", err)
	}
	return nil
}

// Commit commits the run transaction.
func (s *Store) Commit() error {
	if s.tx == nil {
		return errNoTx
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}

// Rollback discards the run transaction. It is a no-op when none is open.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return wrap("rollback", err)
	}
	return nil
}

// Close rolls back any open transaction and releases the connection. Only
// the first call has an effect; later calls return the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		rbErr := s.Rollback()
		s.closeErr = errors.Join(rbErr, s.db.Close())
		s.logger.Info("store connection closed")
	})
	return s.closeErr
}

// timeArg renders timestamps as text for SQLite, which has no native time type.
func (s *Store) timeArg(ts time.Time) any {
	ts = ts.UTC()
	if s.driver == DriverSQLite {
		return ts.Format(domain.TimestampLayout)
	}
	return ts
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
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

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
