// Package csvexport writes observations as data,temperatura,precipitacao,umidade
// CSV rows, the input format of the downstream training step.
package csvexport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

type row struct {
	Data         string   `csv:"data"`
	Temperatura  *float64 `csv:"temperatura"`
	Precipitacao *float64 `csv:"precipitacao"`
	Umidade      *float64 `csv:"umidade"`
}

// Writer encodes observations one at a time. The header is written once,
// even when no rows follow.
type Writer struct {
	csv    *csv.Writer
	enc    *csvutil.Encoder
	header bool
	rows   int
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	cw := csv.NewWriter(w)
	return &Writer{csv: cw, enc: csvutil.NewEncoder(cw)}
}

// Write encodes one observation.
func (w *Writer) Write(obs domain.Observation) error {
	if err := w.enc.Encode(row{
		Data:         obs.Key(),
		Temperatura:  obs.Temperature,
		Precipitacao: obs.Precipitation,
		Umidade:      obs.Humidity,
	}); err != nil {
		return fmt.Errorf("encode csv row %s: %w", obs.Key(), err)
	}
	w.header = true
	w.rows++
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int { return w.rows }

// Flush writes any buffered data, including the header of an empty export.
func (w *Writer) Flush() error {
	if !w.header {
		if err := w.enc.EncodeHeader(row{}); err != nil {
			return fmt.Errorf("encode csv header: %w", err)
		}
		w.header = true
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Read decodes an export back into observations.
func Read(r io.Reader) ([]domain.Observation, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var out []domain.Observation
	for {
		var rec row
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode csv row: %w", err)
		}
		ts, err := time.Parse(domain.TimestampLayout, rec.Data)
		if err != nil {
			return nil, fmt.Errorf("parse data %q: %w", rec.Data, err)
		}
		out = append(out, domain.Observation{
			Timestamp:     ts,
			Temperature:   rec.Temperatura,
			Precipitation: rec.Precipitacao,
			Humidity:      rec.Umidade,
		})
	}
	return out, nil
}
