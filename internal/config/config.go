package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Variant selects which ingestion pipeline the configuration is for.
type Variant string

const (
	VariantForecast   Variant = "forecast"
	VariantHistorical Variant = "historical"
)

// Store drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Config holds all run settings, populated from environment variables.
type Config struct {
	Variant Variant

	StoreDriver   string
	StoreHost     string
	StorePort     string
	StoreUser     string
	StorePassword string
	StoreDatabase string
	StoreTable    string
	StoreDSN      string // overrides the fields above when set

	StoreCreateTable bool

	// Forecast source.
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	Latitude           float64
	Longitude          float64

	// Historical source.
	HistoricalFile string
	HistoricalYear int

	ProbeURL     string
	ProbeTimeout time.Duration

	FetchTimeout        time.Duration
	FetchMaxAttempts    int
	FetchBackoffInitial time.Duration
	FetchBackoffMax     time.Duration

	BackupEnabled    bool
	BackupCommand    string
	BackupDir        string
	BackupS3Bucket   string
	BackupS3Prefix   string
	BackupS3Region   string
	BackupS3Endpoint string

	KafkaBrokers []string
	KafkaTopic   string

	PushgatewayURL string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Location is the content of the location file: the coordinates to forecast for.
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Load reads configuration for the given variant from environment variables,
// applying variant defaults where unset. A .env file in the working directory
// is loaded first when present; real environment variables win over it.
func Load(variant Variant) (*Config, error) {
	return load(variant, variant == VariantForecast)
}

// LoadStore is Load without resolving the forecast location, for tools that
// only read the store.
func LoadStore(variant Variant) (*Config, error) {
	return load(variant, false)
}

func load(variant Variant, withLocation bool) (*Config, error) {
	_ = godotenv.Load()

	defaults, ok := variantDefaults[variant]
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", variant)
	}

	probeTimeout, err := parseDuration("PROBE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	backoffInitial, err := parseDuration("FETCH_BACKOFF_INITIAL", "4s")
	if err != nil {
		return nil, err
	}
	backoffMax, err := parseDuration("FETCH_BACKOFF_MAX", "10s")
	if err != nil {
		return nil, err
	}
	maxAttempts, err := parsePositiveInt("FETCH_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	year, err := parsePositiveInt("HISTORICAL_YEAR", 2024)
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", DriverMySQL))

	cfg := &Config{
		Variant: variant,

		StoreDriver:   driver,
		StoreHost:     sharedcfg.EnvOrDefault("STORE_HOST", "localhost"),
		StorePort:     sharedcfg.EnvOrDefault("STORE_PORT", defaultPort(driver)),
		StoreUser:     sharedcfg.EnvOrDefault("STORE_USER", "root"),
		StorePassword: sharedcfg.EnvOrDefault("STORE_PASSWORD", os.Getenv("MYSQL_PASSWORD")),
		StoreDatabase: sharedcfg.EnvOrDefault("STORE_DATABASE", defaults.database),
		StoreTable:    sharedcfg.EnvOrDefault("STORE_TABLE", defaults.table),
		StoreDSN:      os.Getenv("STORE_DSN"),

		StoreCreateTable: sharedcfg.EnvOrDefault("STORE_CREATE_TABLE", "false") == "true",

		OpenWeatherAPIKey:  sharedcfg.EnvOrDefault("OPENWEATHER_API_KEY", os.Getenv("API_KEY")),
		OpenWeatherBaseURL: sharedcfg.EnvOrDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5/forecast"),

		HistoricalFile: sharedcfg.EnvOrDefault("HISTORICAL_FILE", "dados_meteo.json"),
		HistoricalYear: year,

		ProbeURL:     sharedcfg.EnvOrDefault("PROBE_URL", "https://www.google.com"),
		ProbeTimeout: probeTimeout,

		FetchTimeout:        fetchTimeout,
		FetchMaxAttempts:    maxAttempts,
		FetchBackoffInitial: backoffInitial,
		FetchBackoffMax:     backoffMax,

		BackupEnabled:    sharedcfg.EnvOrDefault("BACKUP_ENABLED", "true") == "true",
		BackupCommand:    sharedcfg.EnvOrDefault("BACKUP_COMMAND", defaultBackupCommand(driver)),
		BackupDir:        sharedcfg.EnvOrDefault("BACKUP_DIR", "."),
		BackupS3Bucket:   os.Getenv("BACKUP_S3_BUCKET"),
		BackupS3Prefix:   sharedcfg.EnvOrDefault("BACKUP_S3_PREFIX", "backups"),
		BackupS3Region:   sharedcfg.EnvOrDefault("BACKUP_S3_REGION", "us-east-1"),
		BackupS3Endpoint: os.Getenv("BACKUP_S3_ENDPOINT"),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "weather-observations"),

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),

		LogLevel:  sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		LogFile:   sharedcfg.EnvOrDefault("LOG_FILE", defaults.logFile),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if withLocation {
		if err := cfg.loadLocation(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadForecast loads the configuration of the forecast ingestion run.
func LoadForecast() (*Config, error) { return Load(VariantForecast) }

// LoadHistorical loads the configuration of the historical file loader.
func LoadHistorical() (*Config, error) { return Load(VariantHistorical) }

// StoreRequiresCredential reports whether the configured driver authenticates
// with a password. SQLite files have no credential.
func (c *Config) StoreRequiresCredential() bool {
	return c.StoreDriver != DriverSQLite
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want mysql, postgres or sqlite", c.StoreDriver)
	}
	if c.StoreRequiresCredential() && c.StorePassword == "" && c.StoreDSN == "" {
		return errors.New("STORE_PASSWORD (or MYSQL_PASSWORD) is required")
	}
	if !identifierRe.MatchString(c.StoreTable) {
		return fmt.Errorf("invalid STORE_TABLE %q: must be a plain identifier", c.StoreTable)
	}
	if c.StoreDatabase == "" {
		return errors.New("STORE_DATABASE is required")
	}
	if c.FetchBackoffMax < c.FetchBackoffInitial {
		return errors.New("FETCH_BACKOFF_MAX must not be smaller than FETCH_BACKOFF_INITIAL")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// loadLocation resolves the forecast coordinates from LATITUDE/LONGITUDE or,
// failing that, from the JSON location file.
func (c *Config) loadLocation() error {
	lat, lon := os.Getenv("LATITUDE"), os.Getenv("LONGITUDE")
	if lat != "" || lon != "" {
		var err error
		if c.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
			return fmt.Errorf("invalid LATITUDE: %w", err)
		}
		if c.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
			return fmt.Errorf("invalid LONGITUDE: %w", err)
		}
		return checkCoordinates(c.Latitude, c.Longitude)
	}

	path := sharedcfg.EnvOrDefault("LOCATION_FILE", "Local/.json")
	loc, err := ReadLocation(path)
	if err != nil {
		return fmt.Errorf("LOCATION_FILE: %w", err)
	}
	c.Latitude, c.Longitude = *loc.Latitude, *loc.Longitude
	return checkCoordinates(c.Latitude, c.Longitude)
}

// ReadLocation reads a {"latitude": .., "longitude": ..} file.
func ReadLocation(path string) (Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Location{}, fmt.Errorf("read location file: %w", err)
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, fmt.Errorf("decode location file %s: %w", path, err)
	}
	if loc.Latitude == nil || loc.Longitude == nil {
		return Location{}, fmt.Errorf("location file %s must contain latitude and longitude", path)
	}
	return loc, nil
}

func checkCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

type defaults struct {
	database string
	table    string
	logFile  string
}

var variantDefaults = map[Variant]defaults{
	VariantForecast: {
		database: "dados_meteorologicos",
		table:    "dados_climaticos",
		logFile:  "coleta_insercao.log",
	},
	VariantHistorical: {
		database: "dados_meteorologicos2",
		table:    "dados_climaticos2",
		logFile:  "coleta_insercao_historico.log",
	},
}

func defaultPort(driver string) string {
	if driver == DriverPostgres {
		return "5432"
	}
	return "3306"
}

func defaultBackupCommand(driver string) string {
	switch driver {
	case DriverPostgres:
		return "pg_dump"
	case DriverSQLite:
		return "sqlite3"
	default:
		return "mysqldump"
	}
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
