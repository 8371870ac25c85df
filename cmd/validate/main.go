// Command validate dry-runs ingestion inputs without touching the store. It
// decodes a historical statistics file and/or a saved forecast response,
// normalizes and validates every record, and reports what a real run would
// reject or skip as duplicate. An exported CSV can be checked as well.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -historical dados_meteo.json -year 2024 \
//	  -forecast forecast_response.json \
//	  -csv dados_climaticos2.csv
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/couchcryptid/weather-ingest/internal/adapter/csvexport"
	"github.com/couchcryptid/weather-ingest/internal/adapter/historical"
	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	historicalPath string
	year           int
	forecastPath   string
	csvPath        string
}

func main() {
	var opts options
	flag.StringVar(&opts.historicalPath, "historical", "", "historical statistics JSON file")
	flag.IntVar(&opts.year, "year", 2024, "year assigned to historical records")
	flag.StringVar(&opts.forecastPath, "forecast", "", "saved forecast API response JSON file")
	flag.StringVar(&opts.csvPath, "csv", "", "exported CSV file to check")
	flag.Parse()

	if opts.historicalPath == "" && opts.forecastPath == "" && opts.csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(os.Stdout, opts))
}

func run(w io.Writer, opts options) int {
	fmt.Fprintln(w, "=== Weather Ingest Dry Run ===")

	var records []domain.RawRecord
	load := &phase{name: "Phase 1: Decode inputs"}

	if opts.historicalPath != "" {
		dataset, err := historical.ReadFile(opts.historicalPath)
		if err != nil {
			load.errorf("%v", err)
		}
		for _, item := range dataset.Result {
			records = append(records, domain.HistoricalRecord(item, opts.year))
		}
	}
	if opts.forecastPath != "" {
		resp, err := readForecast(opts.forecastPath)
		if err != nil {
			load.errorf("%v", err)
		}
		for _, item := range resp.List {
			records = append(records, domain.ForecastRecord(item))
		}
	}

	observations, normalize := normalizeAll(records)
	valid, validate := validateAll(observations)

	phases := []*phase{
		load,
		normalize,
		validate,
		checkDuplicates(valid),
	}
	if opts.csvPath != "" {
		phases = append(phases, checkExport(opts.csvPath))
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-36s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d raw, %d normalized, %d valid\n", len(records), len(observations), len(valid))

	for _, p := range phases {
		if p.passed() && len(p.notes) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
		for _, n := range p.notes {
			fmt.Fprintf(w, "  Note: %s\n", n)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func readForecast(path string) (domain.ForecastResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ForecastResponse{}, fmt.Errorf("read forecast file: %w", err)
	}
	var resp domain.ForecastResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.ForecastResponse{}, fmt.Errorf("decode forecast file %s: %w", path, err)
	}
	return resp, nil
}

func normalizeAll(records []domain.RawRecord) ([]domain.Observation, *phase) {
	p := &phase{name: "Phase 2: Normalization"}
	out := make([]domain.Observation, 0, len(records))
	for _, raw := range records {
		obs, err := domain.Normalize(raw)
		if err != nil {
			p.errorf("%s: %v", raw.Key(), err)
			continue
		}
		out = append(out, obs)
	}
	return out, p
}

func validateAll(observations []domain.Observation) ([]domain.Observation, *phase) {
	p := &phase{name: "Phase 3: Validation"}
	v := domain.NewValidator()
	out := make([]domain.Observation, 0, len(observations))
	for _, obs := range observations {
		if err := v.Validate(obs); err != nil {
			p.errorf("%s: %v", obs.Key(), err)
			continue
		}
		out = append(out, obs)
	}
	return out, p
}

// checkDuplicates reports timestamps that occur more than once. Only the
// first would be stored, so these are notes rather than failures.
func checkDuplicates(observations []domain.Observation) *phase {
	p := &phase{name: "Phase 4: Duplicate keys"}
	seen := make(map[string]int, len(observations))
	for _, obs := range observations {
		seen[obs.Key()]++
	}
	var keys []string
	for k, n := range seen {
		if n > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.notef("%s appears %d times; only the first is stored", k, seen[k])
	}
	return p
}

func checkExport(path string) *phase {
	p := &phase{name: "Phase 5: CSV export"}

	f, err := os.Open(path)
	if err != nil {
		p.errorf("open %s: %v", path, err)
		return p
	}
	defer f.Close()

	rows, err := csvexport.Read(f)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	v := domain.NewValidator()
	for i, obs := range rows {
		if err := v.Validate(obs); err != nil {
			p.errorf("row %d (%s): %v", i+1, obs.Key(), err)
		}
		if i > 0 && obs.Timestamp.Before(rows[i-1].Timestamp) {
			p.errorf("row %d (%s): out of order", i+1, obs.Key())
		}
	}
	p.notef("%d rows", len(rows))
	return p
}
