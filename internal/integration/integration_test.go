//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

const (
	testDatabase = "dados_meteorologicos"
	testUser     = "ingest"
	testPassword = "ingest-secret"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-ingest"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// startMySQL runs a MySQL server and returns its host and mapped port.
func startMySQL(ctx context.Context, t *testing.T) (host, port string) {
	t.Helper()
	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase(testDatabase),
		tcmysql.WithUsername(testUser),
		tcmysql.WithPassword(testPassword),
	)
	require.NoError(t, err, "start mysql container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err = container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)
	return host, mapped.Port()
}
