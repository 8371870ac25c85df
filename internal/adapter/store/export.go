package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// Export streams every stored observation, oldest first, to fn. It reads
// outside any run transaction. Iteration stops at the first error from fn.
func (s *Store) Export(ctx context.Context, fn func(domain.Observation) error) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT data, temperatura, precipitacao, umidade FROM %s ORDER BY data, id", s.table))
	if err != nil {
		return wrap("export", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			ts                     timestamp
			temp, precip, humidity sql.NullFloat64
		)
		if err := rows.Scan(&ts, &temp, &precip, &humidity); err != nil {
			return wrap("scan", err)
		}
		obs := domain.Observation{
			Timestamp:     ts.Time,
			Temperature:   floatPtr(temp),
			Precipitation: floatPtr(precip),
			Humidity:      floatPtr(humidity),
		}
		if err := fn(obs); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return wrap("export", err)
	}
	return nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return domain.Float(v.Float64)
}

// timestamp scans DATETIME columns whether the driver yields time.Time or text.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range []string{domain.TimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
