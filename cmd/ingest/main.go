// Command ingest fetches the OpenWeather forecast for the configured location
// and stores new observations. It is meant to be run on a schedule.
package main

import (
	"os"

	"github.com/couchcryptid/weather-ingest/internal/app"
	"github.com/couchcryptid/weather-ingest/internal/config"
)

func main() {
	os.Exit(app.Main(config.VariantForecast))
}
