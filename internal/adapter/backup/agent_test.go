package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 1, 15, 10, 30, 5, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDump writes an executable shell script standing in for the dump utility.
func fakeDump(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-dump")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

func newTestAgent(t *testing.T, command, password string, uploader Uploader) (*Agent, string) {
	t.Helper()
	dir := t.TempDir()
	return NewAgent(Options{
		Driver:   "mysql",
		Command:  command,
		Host:     "localhost",
		Port:     "3306",
		User:     "root",
		Password: password,
		Dir:      dir,
		Uploader: uploader,
	}, clockwork.NewFakeClockAt(fixedTime), discardLogger()), dir
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "backup_dados_meteorologicos_20240115_103005.sql", FileName("dados_meteorologicos", fixedTime))
}

func TestBackup_WritesDumpOutput(t *testing.T) {
	script := fakeDump(t, `echo "-- dump $*"; echo "pwd=$MYSQL_PWD"`)
	agent, dir := newTestAgent(t, script, "s3cret", nil)

	artifact, err := agent.Backup(context.Background(), "dados_meteorologicos")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "backup_dados_meteorologicos_20240115_103005.sql"), artifact.Path)
	assert.Equal(t, fixedTime, artifact.CreatedAt)
	assert.Empty(t, artifact.RemoteURI)

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), artifact.Size)
	assert.Contains(t, string(data), "-- dump -h localhost -P 3306 -u root dados_meteorologicos")
	assert.Contains(t, string(data), "pwd=s3cret")
	assert.NotContains(t, string(data), "-ps3cret", "credential never appears in the arguments")
}

func TestBackup_MissingCredential(t *testing.T) {
	script := fakeDump(t, `echo should-not-run`)
	agent, dir := newTestAgent(t, script, "", nil)

	_, err := agent.Backup(context.Background(), "dados_meteorologicos")
	assert.ErrorIs(t, err, ErrMissingCredential)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_FailureRemovesPartialFile(t *testing.T) {
	script := fakeDump(t, `echo "partial"; echo "Access denied" >&2; exit 2`)
	agent, dir := newTestAgent(t, script, "wrong", nil)

	_, err := agent.Backup(context.Background(), "dados_meteorologicos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_MissingCommand(t *testing.T) {
	agent, dir := newTestAgent(t, filepath.Join(t.TempDir(), "no-such-dump"), "pw", nil)

	_, err := agent.Backup(context.Background(), "dados_meteorologicos")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_WriteOnce(t *testing.T) {
	script := fakeDump(t, `echo dump`)
	agent, _ := newTestAgent(t, script, "pw", nil)

	first, err := agent.Backup(context.Background(), "dados_meteorologicos")
	require.NoError(t, err)

	_, err = agent.Backup(context.Background(), "dados_meteorologicos")
	require.Error(t, err, "same second, same name: never overwrite")

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "dump\n", string(data))
}

type stubUploader struct {
	uri  string
	err  error
	name string
}

func (s *stubUploader) Upload(_ context.Context, _, name string) (string, error) {
	s.name = name
	return s.uri, s.err
}

func TestBackup_Upload(t *testing.T) {
	script := fakeDump(t, `echo dump`)
	up := &stubUploader{uri: "s3://bucket/backups/x.sql"}
	agent, _ := newTestAgent(t, script, "pw", up)

	artifact, err := agent.Backup(context.Background(), "dados_meteorologicos")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/backups/x.sql", artifact.RemoteURI)
	assert.Equal(t, "backup_dados_meteorologicos_20240115_103005.sql", up.name)
}

func TestBackup_UploadFailureKeepsLocalArtifact(t *testing.T) {
	script := fakeDump(t, `echo dump`)
	agent, _ := newTestAgent(t, script, "pw", &stubUploader{err: errors.New("denied")})

	artifact, err := agent.Backup(context.Background(), "dados_meteorologicos")
	require.NoError(t, err)
	assert.Empty(t, artifact.RemoteURI)
	assert.FileExists(t, artifact.Path)
}

func TestBackup_SQLiteNeedsNoCredential(t *testing.T) {
	script := fakeDump(t, `echo "sqlite $*"`)
	dir := t.TempDir()
	agent := NewAgent(Options{Driver: "sqlite", Command: script, Dir: dir},
		clockwork.NewFakeClockAt(fixedTime), discardLogger())

	artifact, err := agent.Backup(context.Background(), "/var/lib/weather/dados.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup_dados_20240115_103005.sql"), artifact.Path)

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite /var/lib/weather/dados.db .dump\n", string(data))
}

func TestInvocation_Postgres(t *testing.T) {
	agent := NewAgent(Options{Driver: "postgres", Host: "pg", Port: "5432", User: "u", Password: "p"},
		clockwork.NewFakeClock(), discardLogger())

	args, env := agent.invocation("dados")
	assert.Equal(t, []string{"-h", "pg", "-p", "5432", "-U", "u", "dados"}, args)
	assert.Equal(t, []string{"PGPASSWORD=p"}, env)
	assert.Equal(t, "pg_dump", agent.opts.Command)
}
