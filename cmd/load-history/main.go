// Command load-history loads the historical per-day statistics file into its
// own table, skipping days that are already stored.
package main

import (
	"os"

	"github.com/couchcryptid/weather-ingest/internal/app"
	"github.com/couchcryptid/weather-ingest/internal/config"
)

func main() {
	os.Exit(app.Main(config.VariantHistorical))
}
