package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Driver:      DriverSQLite,
		Database:    filepath.Join(t.TempDir(), "weather.db"),
		Table:       "dados_climaticos",
		CreateTable: true,
	}
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), sqliteOptions(t), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func observation(ts string, temp, precip, hum float64) domain.Observation {
	parsed, err := time.Parse(domain.TimestampLayout, ts)
	if err != nil {
		panic(err)
	}
	return domain.Observation{
		Timestamp:     parsed,
		Temperature:   domain.Float(temp),
		Precipitation: domain.Float(precip),
		Humidity:      domain.Float(hum),
	}
}

func TestInsertAndExists(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	obs := observation("2024-01-15 00:00:00", 27.0, 2.5, 78)

	require.NoError(t, s.Begin(ctx))
	found, err := s.Exists(ctx, obs.Timestamp)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Insert(ctx, obs))

	found, err = s.Exists(ctx, obs.Timestamp)
	require.NoError(t, err)
	assert.True(t, found, "insert is visible inside the same transaction")

	require.NoError(t, s.Commit())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExists_ExactTimestampMatch(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 27, 0, 70)))

	found, err := s.Exists(ctx, time.Date(2024, 1, 15, 0, 0, 1, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, s.Rollback())
}

func TestRollback_DiscardsInserts(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 27, 0, 70)))
	require.NoError(t, s.Rollback())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsert_FailedRowIsRolledBackAlone(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t)
	opts.CreateTable = false
	s, err := Open(ctx, opts, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.ExecContext(ctx, `CREATE TABLE dados_climaticos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data DATETIME NOT NULL,
		temperatura REAL,
		precipitacao REAL,
		umidade REAL CHECK (umidade <= 100)
	)`)
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 27, 0, 70)))

	err = s.Insert(ctx, observation("2024-01-16 00:00:00", 27, 0, 150))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.False(t, IsConnectionLost(err))

	require.NoError(t, s.Insert(ctx, observation("2024-01-17 00:00:00", 25, 1, 80)))
	require.NoError(t, s.Commit())

	var got []string
	require.NoError(t, s.Export(ctx, func(o domain.Observation) error {
		got = append(got, o.Key())
		return nil
	}))
	assert.Equal(t, []string{"2024-01-15 00:00:00", "2024-01-17 00:00:00"}, got)
}

func TestExists_FailedLookupKeepsTransactionUsable(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 27, 0, 70)))

	existsSQL := s.existsSQL
	s.existsSQL = "SELECT COUNT(*) FROM missing_table WHERE data = ?"
	_, err := s.Exists(ctx, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.False(t, IsConnectionLost(err))
	s.existsSQL = existsSQL

	_, err = s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint)
	require.Error(t, err, "no savepoint is left open after a failed lookup")

	found, err := s.Exists(ctx, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.Insert(ctx, observation("2024-01-17 00:00:00", 25, 1, 80)))
	require.NoError(t, s.Commit())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSavepointed_UndoesFailedWorkOnly(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 27, 0, 70)))

	errLookup := errors.New("lookup failed")
	err := s.savepointed(ctx, "exists", func() error {
		if _, err := s.tx.ExecContext(ctx, s.insertSQL, "2024-01-16 00:00:00", 1.0, 0.0, 50.0); err != nil {
			return err
		}
		return errLookup
	})
	require.ErrorIs(t, err, errLookup)
	assert.ErrorIs(t, err, ErrStore)

	require.NoError(t, s.Commit())

	var got []string
	require.NoError(t, s.Export(ctx, func(o domain.Observation) error {
		got = append(got, o.Key())
		return nil
	}))
	assert.Equal(t, []string{"2024-01-15 00:00:00"}, got)
}

func TestInsert_NullMeasurements(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	obs := domain.Observation{Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Humidity: domain.Float(80)}

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, obs))
	require.NoError(t, s.Commit())

	var got []domain.Observation
	require.NoError(t, s.Export(ctx, func(o domain.Observation) error {
		got = append(got, o)
		return nil
	}))
	require.Len(t, got, 1)
	assert.True(t, obs.Timestamp.Equal(got[0].Timestamp))
	assert.Nil(t, got[0].Temperature)
	assert.Nil(t, got[0].Precipitation)
	require.NotNil(t, got[0].Humidity)
	assert.InDelta(t, 80.0, *got[0].Humidity, 1e-9)
}

func TestOperationsNeedTransaction(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	_, err := s.Exists(ctx, time.Now())
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 1, 1, 1)), ErrStore)
	assert.ErrorIs(t, s.Commit(), ErrStore)
	assert.NoError(t, s.Rollback())

	require.NoError(t, s.Begin(ctx))
	assert.ErrorIs(t, s.Begin(ctx), ErrStore)
}

func TestClose_Once(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, sqliteOptions(t), discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 1, 1, 1)))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Count(ctx)
	require.Error(t, err, "connection is released after close")
}

func TestClose_RollsBackOpenTransaction(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t)

	s, err := Open(ctx, opts, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Insert(ctx, observation("2024-01-15 00:00:00", 1, 1, 1)))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, opts, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_InvalidTable(t *testing.T) {
	opts := sqliteOptions(t)
	opts.Table = "dados; DROP TABLE x"

	_, err := Open(context.Background(), opts, discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
}

func TestOpen_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Open(ctx, Options{
		Driver:   DriverMySQL,
		Host:     "127.0.0.1",
		Port:     fmt.Sprint(addr.Port),
		User:     "root",
		Password: "pw",
		Database: "dados_meteorologicos",
		Table:    "dados_climaticos",
	}, discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
}

func TestDSN(t *testing.T) {
	name, dsn, err := DSN(Options{Driver: DriverMySQL, Host: "db", Port: "3306", User: "root", Password: "pw", Database: "dados"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", name)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "dados", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, time.UTC, cfg.Loc)

	name, dsn, err = DSN(Options{Driver: DriverPostgres, Host: "pg", Port: "5432", User: "u", Password: "p@ss", Database: "dados"})
	require.NoError(t, err)
	assert.Equal(t, "pgx", name)
	assert.Contains(t, dsn, "postgres://u:p%40ss@pg:5432/dados")

	name, dsn, err = DSN(Options{Driver: DriverSQLite, Database: "w.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", name)
	assert.Equal(t, "w.db", dsn)

	_, dsn, err = DSN(Options{Driver: DriverMySQL, DSN: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", dsn)

	_, _, err = DSN(Options{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrStore)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2, $3)", pg.rebind("INSERT INTO t VALUES (?, ?, ?)"))

	my := &Store{driver: DriverMySQL}
	assert.Equal(t, "SELECT ? FROM t", my.rebind("SELECT ? FROM t"))
}

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"mysql invalid conn", mysql.ErrInvalidConn, true},
		{"mysql server gone", &mysql.MySQLError{Number: 1053}, true},
		{"mysql duplicate key", &mysql.MySQLError{Number: 1062}, false},
		{"postgres admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"postgres connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"postgres check violation", &pgconn.PgError{Code: "23514"}, false},
		{"net error", &net.OpError{Op: "read", Err: errors.New("reset")}, true},
		{"already classified", domain.ErrConnectionLost, true},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionLost(tt.err))
		})
	}
}

func TestWrap_TagsConnectionLoss(t *testing.T) {
	err := wrap("insert", driver.ErrBadConn)
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, domain.ErrConnectionLost)

	err = wrap("insert", errors.New("constraint"))
	assert.ErrorIs(t, err, ErrStore)
	assert.NotErrorIs(t, err, domain.ErrConnectionLost)
}

func TestTimestampScan(t *testing.T) {
	var ts timestamp
	require.NoError(t, ts.Scan("2024-01-15 00:00:00"))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), ts.Time)

	require.NoError(t, ts.Scan([]byte("2024-02-29T00:00:00Z")))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), ts.Time)

	require.Error(t, ts.Scan(42))
	require.Error(t, ts.Scan("yesterday"))
}
