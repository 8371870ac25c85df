// Package historical reads the bundled per-calendar-day statistics file.
package historical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// ErrMissingResult is returned when the file has no "result" array.
var ErrMissingResult = errors.New("historical file has no result")

// Source yields the records of one historical file, all assigned to Year.
type Source struct {
	path   string
	year   int
	logger *slog.Logger
}

// NewSource creates a source for the file at path.
func NewSource(path string, year int, logger *slog.Logger) *Source {
	return &Source{path: path, year: year, logger: logger}
}

// Name identifies the source in logs and reports.
func (s *Source) Name() string { return "historical" }

// Records reads and decodes the whole file. A missing or malformed file is an error.
func (s *Source) Records(ctx context.Context) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataset, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	records := make([]domain.RawRecord, 0, len(dataset.Result))
	for _, item := range dataset.Result {
		records = append(records, domain.HistoricalRecord(item, s.year))
	}

	s.logger.Info("historical file read", "path", s.path, "items", len(records), "year", s.year)
	return records, nil
}

// ReadFile decodes a historical dataset file.
func ReadFile(path string) (domain.HistoricalDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.HistoricalDataset{}, fmt.Errorf("read historical file: %w", err)
	}

	var payload struct {
		Result *[]domain.HistoricalItem `json:"result"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.HistoricalDataset{}, fmt.Errorf("decode historical file %s: %w", path, err)
	}
	if payload.Result == nil {
		return domain.HistoricalDataset{}, fmt.Errorf("%s: %w", path, ErrMissingResult)
	}

	return domain.HistoricalDataset{Result: *payload.Result}, nil
}
