// Package backup snapshots the target database with the engine's dump
// utility before a run writes to it.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// ErrMissingCredential is returned when the store credential is not configured.
var ErrMissingCredential = errors.New("backup credential not configured")

// FileTimeLayout is the timestamp part of backup file names.
const FileTimeLayout = "20060102_150405"

// Uploader copies a finished backup file offsite and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, path, name string) (string, error)
}

// Options configures the dump invocation.
type Options struct {
	Driver   string // mysql, postgres or sqlite
	Command  string // dump executable; defaults per driver
	Host     string
	Port     string
	User     string
	Password string
	Dir      string
	Uploader Uploader // optional
}

// Agent produces one write-once dump file per call.
type Agent struct {
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewAgent creates a backup agent. The clock stamps file names.
func NewAgent(opts Options, clock clockwork.Clock, logger *slog.Logger) *Agent {
	if opts.Driver == "" {
		opts.Driver = "mysql"
	}
	if opts.Command == "" {
		opts.Command = defaultCommand(opts.Driver)
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	return &Agent{opts: opts, clock: clock, logger: logger}
}

// FileName returns backup_<target>_<YYYYMMDD_HHMMSS>.sql.
func FileName(target string, t time.Time) string {
	return fmt.Sprintf("backup_%s_%s.sql", target, t.Format(FileTimeLayout))
}

// Backup dumps target into a new file. On any failure the partial file is
// removed and an error returned. An upload failure is logged and leaves the
// local artifact in place.
func (a *Agent) Backup(ctx context.Context, target string) (domain.BackupArtifact, error) {
	if a.opts.Driver != "sqlite" && a.opts.Password == "" {
		return domain.BackupArtifact{}, ErrMissingCredential
	}

	now := a.clock.Now()
	path := filepath.Join(a.opts.Dir, FileName(fileLabel(target), now))

	if err := os.MkdirAll(a.opts.Dir, 0o750); err != nil {
		return domain.BackupArtifact{}, fmt.Errorf("create backup dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return domain.BackupArtifact{}, fmt.Errorf("create backup file: %w", err)
	}

	size, err := a.dump(ctx, target, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close backup file: %w", closeErr)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.logger.Warn("remove partial backup", "path", path, "error", rmErr)
		}
		return domain.BackupArtifact{}, err
	}

	artifact := domain.BackupArtifact{Path: path, CreatedAt: now, Size: size}
	a.logger.Info("backup written", "path", path, "bytes", size)

	if a.opts.Uploader != nil {
		uri, err := a.opts.Uploader.Upload(ctx, path, filepath.Base(path))
		if err != nil {
			a.logger.Error("backup upload failed", "path", path, "error", err)
		} else {
			artifact.RemoteURI = uri
			a.logger.Info("backup uploaded", "uri", uri)
		}
	}

	return artifact, nil
}

func (a *Agent) dump(ctx context.Context, target string, f *os.File) (int64, error) {
	args, env := a.invocation(target)

	cmd := exec.CommandContext(ctx, a.opts.Command, args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stdout = f
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return 0, fmt.Errorf("%s %s: %w: %s", a.opts.Command, target, err, msg)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat backup file: %w", err)
	}
	return info.Size(), nil
}

// invocation builds the dump arguments and the child environment. The
// credential travels only in the environment.
func (a *Agent) invocation(target string) (args, env []string) {
	switch a.opts.Driver {
	case "postgres":
		args = []string{"-h", a.opts.Host, "-p", a.opts.Port, "-U", a.opts.User, target}
		env = []string{"PGPASSWORD=" + a.opts.Password}
	case "sqlite":
		args = []string{target, ".dump"}
	default:
		args = []string{"-h", a.opts.Host, "-P", a.opts.Port, "-u", a.opts.User, target}
		env = []string{"MYSQL_PWD=" + a.opts.Password}
	}
	return args, env
}

func defaultCommand(driver string) string {
	switch driver {
	case "postgres":
		return "pg_dump"
	case "sqlite":
		return "sqlite3"
	default:
		return "mysqldump"
	}
}

// fileLabel reduces a target to something safe inside a file name. SQLite
// targets are file paths.
func fileLabel(target string) string {
	base := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, base)
}
