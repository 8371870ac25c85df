package domain

import (
	"errors"
	"fmt"
	"time"
)

// KelvinOffset converts Kelvin to Celsius: celsius = kelvin - KelvinOffset.
const KelvinOffset = 273.15

var (
	// ErrInvalidDate marks a historical month/day that is not a real date in the given year.
	ErrInvalidDate = errors.New("invalid calendar date")

	// ErrMissingTimestamp marks a forecast item without a "dt" field.
	ErrMissingTimestamp = errors.New("missing timestamp")

	// ErrMalformedRecord marks a RawRecord whose payload does not match its Kind.
	ErrMalformedRecord = errors.New("malformed raw record")
)

// Normalize converts a raw record of either source into an Observation.
func Normalize(raw RawRecord) (Observation, error) {
	switch raw.Kind {
	case SourceForecast:
		if raw.Forecast == nil {
			return Observation{}, fmt.Errorf("%w: forecast record without payload", ErrMalformedRecord)
		}
		return NormalizeForecast(*raw.Forecast)
	case SourceHistorical:
		if raw.Historical == nil {
			return Observation{}, fmt.Errorf("%w: historical record without payload", ErrMalformedRecord)
		}
		return NormalizeHistorical(*raw.Historical, raw.Year)
	default:
		return Observation{}, fmt.Errorf("%w: unknown kind %s", ErrMalformedRecord, raw.Kind)
	}
}

// NormalizeHistorical builds an Observation from a historical item. The date
// is checked first; an invalid date yields ErrInvalidDate and no Observation.
// Temperature is converted from Kelvin; precipitation and humidity are copied.
func NormalizeHistorical(item HistoricalItem, year int) (Observation, error) {
	if !ValidDate(year, item.Month, item.Day) {
		return Observation{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, item.Month, item.Day)
	}

	var celsius *float64
	if item.Temp.Mean != nil {
		celsius = Float(*item.Temp.Mean - KelvinOffset)
	}

	return Observation{
		Timestamp:     time.Date(year, time.Month(item.Month), item.Day, 0, 0, 0, 0, time.UTC),
		Temperature:   celsius,
		Precipitation: copyFloat(item.Precipitation.Mean),
		Humidity:      copyFloat(item.Humidity.Mean),
	}, nil
}

// NormalizeForecast builds an Observation from a forecast list item. The
// source already reports Celsius and percent; a missing 3-hour rain bucket
// means no rain.
func NormalizeForecast(item ForecastItem) (Observation, error) {
	if item.Dt == nil {
		return Observation{}, ErrMissingTimestamp
	}

	precipitation := Float(0)
	if item.Rain != nil && item.Rain.ThreeHour != nil {
		precipitation = copyFloat(item.Rain.ThreeHour)
	}

	return Observation{
		Timestamp:     time.Unix(*item.Dt, 0).UTC(),
		Temperature:   copyFloat(item.Main.Temp),
		Precipitation: precipitation,
		Humidity:      copyFloat(item.Main.Humidity),
	}, nil
}

// ValidDate reports whether year-month-day denotes a real calendar date.
// Out-of-range values are rejected rather than normalized the way time.Date would.
func ValidDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	return day <= daysIn(year, time.Month(month))
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// copyFloat detaches the result from the decoded input.
func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}
