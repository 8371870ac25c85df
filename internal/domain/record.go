package domain

import "fmt"

// SourceKind tags which raw format a RawRecord carries.
type SourceKind int

const (
	SourceForecast SourceKind = iota + 1
	SourceHistorical
)

func (k SourceKind) String() string {
	switch k {
	case SourceForecast:
		return "forecast"
	case SourceHistorical:
		return "historical"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ForecastResponse is the decoded body of the forecast endpoint.
type ForecastResponse struct {
	List []ForecastItem `json:"list"`
}

// ForecastItem is one 3-hour slot of the forecast "list".
type ForecastItem struct {
	Dt   *int64        `json:"dt"`
	Main ForecastMain  `json:"main"`
	Rain *ForecastRain `json:"rain,omitempty"`
}

type ForecastMain struct {
	Temp     *float64 `json:"temp"`
	Humidity *float64 `json:"humidity"`
}

type ForecastRain struct {
	ThreeHour *float64 `json:"3h"`
}

// HistoricalDataset is the bundled historical statistics file.
type HistoricalDataset struct {
	Result []HistoricalItem `json:"result"`
}

// HistoricalItem holds the per-calendar-day means of the historical file.
type HistoricalItem struct {
	Month         int      `json:"month"`
	Day           int      `json:"day"`
	Temp          MeanStat `json:"temp"`
	Precipitation MeanStat `json:"precipitation"`
	Humidity      MeanStat `json:"humidity"`
}

// MeanStat is a nested {"mean": x} statistic. Mean is nil when absent or null.
type MeanStat struct {
	Mean *float64 `json:"mean"`
}

// RawRecord is a tagged variant over the two source formats. Exactly one of
// Forecast or Historical is set, matching Kind.
type RawRecord struct {
	Kind       SourceKind
	Forecast   *ForecastItem
	Historical *HistoricalItem
	Year       int // historical only; the dataset has no year of its own
}

// ForecastRecord wraps a forecast list item.
func ForecastRecord(item ForecastItem) RawRecord {
	return RawRecord{Kind: SourceForecast, Forecast: &item}
}

// HistoricalRecord wraps a historical item together with the year it belongs to.
func HistoricalRecord(item HistoricalItem, year int) RawRecord {
	return RawRecord{Kind: SourceHistorical, Historical: &item, Year: year}
}

// Key identifies the record in log lines before it has a timestamp.
func (r RawRecord) Key() string {
	switch r.Kind {
	case SourceForecast:
		if r.Forecast == nil || r.Forecast.Dt == nil {
			return "dt=<missing>"
		}
		return fmt.Sprintf("dt=%d", *r.Forecast.Dt)
	case SourceHistorical:
		if r.Historical == nil {
			return "date=<missing>"
		}
		return fmt.Sprintf("%d-%d-%d", r.Year, r.Historical.Month, r.Historical.Day)
	default:
		return r.Kind.String()
	}
}
