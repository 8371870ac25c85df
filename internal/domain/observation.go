package domain

import (
	"fmt"
	"time"
)

// Observation is the canonical normalized weather record persisted by the pipeline.
type Observation struct {
	Timestamp     time.Time `json:"data"`
	Temperature   *float64  `json:"temperatura" validate:"required"`
	Precipitation *float64  `json:"precipitacao" validate:"required,gte=0"`
	Humidity      *float64  `json:"umidade" validate:"required"`
}

// TimestampLayout is the textual form of the dedup key used in logs and exports.
const TimestampLayout = "2006-01-02 15:04:05"

// Key returns the dedup key of the observation as text.
func (o Observation) Key() string {
	return o.Timestamp.Format(TimestampLayout)
}

// Text accessors for logging; absent values render as "null".

func (o Observation) TemperatureString() string   { return formatOptional(o.Temperature) }
func (o Observation) PrecipitationString() string { return formatOptional(o.Precipitation) }
func (o Observation) HumidityString() string      { return formatOptional(o.Humidity) }

func formatOptional(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *v)
}

// Float returns a pointer to v. Convenient for building observations in code.
func Float(v float64) *float64 {
	return &v
}

// BackupArtifact describes a database snapshot written before a run.
type BackupArtifact struct {
	Path      string
	CreatedAt time.Time
	Size      int64
	RemoteURI string // set when an offsite copy was uploaded
}
