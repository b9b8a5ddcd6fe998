package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	State       StateConfig       `yaml:"state" mapstructure:"state"`
	Catalog     CatalogConfig     `yaml:"catalog" mapstructure:"catalog"`
	ObjectStore ObjectStoreConfig `yaml:"objectstore" mapstructure:"objectstore"`
	Adzuna      AdzunaConfig      `yaml:"adzuna" mapstructure:"adzuna"`
	Weather     WeatherConfig     `yaml:"weather" mapstructure:"weather"`
	Medallion   MedallionConfig   `yaml:"medallion" mapstructure:"medallion"`
	Schedule    ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPConfig configures the outbound request layer shared by every job.
type HTTPConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// StateConfig selects and locates the watermark store.
type StateConfig struct {
	// Driver is one of postgres, sqlite, redis, memory.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	RedisURL    string `yaml:"redis_url" mapstructure:"redis_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// CatalogConfig locates the Postgres catalog (postings index and run log).
// An empty DatabaseURL disables the catalog.
type CatalogConfig struct {
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	PostingTable string `yaml:"posting_table" mapstructure:"posting_table"`
}

// ObjectStoreConfig configures the S3-compatible object store.
type ObjectStoreConfig struct {
	// Driver is minio or memory.
	Driver        string `yaml:"driver" mapstructure:"driver"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	Region        string `yaml:"region" mapstructure:"region"`
	UseSSL        bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	WeatherBucket string `yaml:"weather_bucket" mapstructure:"weather_bucket"`
	RawBucket     string `yaml:"raw_bucket" mapstructure:"raw_bucket"`
}

// AdzunaConfig configures the incremental job-postings extractor.
type AdzunaConfig struct {
	AppID           string `yaml:"app_id" mapstructure:"app_id"`
	AppKey          string `yaml:"app_key" mapstructure:"app_key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	Country         string `yaml:"country" mapstructure:"country"`
	SearchPhrase    string `yaml:"search_phrase" mapstructure:"search_phrase"`
	OverlapHours    int    `yaml:"overlap_hours" mapstructure:"overlap_hours"`
	BatchSize       int    `yaml:"batch_size" mapstructure:"batch_size"`
	LookbackDays    int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	StateID         string `yaml:"state_id" mapstructure:"state_id"`
	ProcessedPrefix string `yaml:"processed_prefix" mapstructure:"processed_prefix"`
}

// WeatherConfig configures the Open-Meteo collectors.
type WeatherConfig struct {
	ForecastURL    string  `yaml:"forecast_url" mapstructure:"forecast_url"`
	ArchiveURL     string  `yaml:"archive_url" mapstructure:"archive_url"`
	LocationName   string  `yaml:"location_name" mapstructure:"location_name"`
	Latitude       float64 `yaml:"latitude" mapstructure:"latitude"`
	Longitude      float64 `yaml:"longitude" mapstructure:"longitude"`
	Timezone       string  `yaml:"timezone" mapstructure:"timezone"`
	YearsBack      int     `yaml:"years_back" mapstructure:"years_back"`
	MaxSkewMinutes int     `yaml:"max_skew_minutes" mapstructure:"max_skew_minutes"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// MedallionConfig configures the bronze/silver/gold movie pipeline.
type MedallionConfig struct {
	RawPrefix       string `yaml:"raw_prefix" mapstructure:"raw_prefix"`
	LakehousePrefix string `yaml:"lakehouse_prefix" mapstructure:"lakehouse_prefix"`
}

// ScheduleConfig holds cron specs for the long-running scheduler host.
// An empty spec disables that job.
type ScheduleConfig struct {
	Extract           string `yaml:"extract" mapstructure:"extract"`
	WeatherHourly     string `yaml:"weather_hourly" mapstructure:"weather_hourly"`
	WeatherHistorical string `yaml:"weather_historical" mapstructure:"weather_historical"`
	Medallion         string `yaml:"medallion" mapstructure:"medallion"`
	Port              int    `yaml:"port" mapstructure:"port"`
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	JobName        string `yaml:"job_name" mapstructure:"job_name"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env never overrides variables already set in the process.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LAKEJOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can fill them on Unmarshal.
	for _, key := range []string{
		"state.database_url", "state.redis_url", "catalog.database_url",
		"objectstore.access_key", "objectstore.secret_key",
		"objectstore.bucket", "objectstore.weather_bucket",
		"adzuna.app_id", "adzuna.app_key", "metrics.pushgateway_url",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.user_agent", "lakehouse-jobs/1.0")

	v.SetDefault("state.driver", "postgres")
	v.SetDefault("state.sqlite_path", "lakejobs-state.db")
	v.SetDefault("state.table", "lake.extraction_state")

	v.SetDefault("catalog.posting_table", "lake.postings")

	v.SetDefault("objectstore.driver", "minio")
	v.SetDefault("objectstore.endpoint", "localhost:9000")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.use_ssl", false)
	v.SetDefault("objectstore.raw_bucket", "oakvale-raw-data")

	v.SetDefault("adzuna.base_url", "https://api.adzuna.com/v1/api/jobs")
	v.SetDefault("adzuna.country", "ca")
	v.SetDefault("adzuna.search_phrase", "data engineer")
	v.SetDefault("adzuna.overlap_hours", 12)
	v.SetDefault("adzuna.batch_size", 1000)
	v.SetDefault("adzuna.lookback_days", 7)
	v.SetDefault("adzuna.state_id", "adzuna_pipeline_state")
	v.SetDefault("adzuna.processed_prefix", "processed-data/adzuna-jobs")

	v.SetDefault("weather.forecast_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.archive_url", "https://archive-api.open-meteo.com/v1/archive")
	v.SetDefault("weather.location_name", "Nelspruit, Mpumalanga, South Africa")
	v.SetDefault("weather.latitude", -25.4753)
	v.SetDefault("weather.longitude", 30.9698)
	v.SetDefault("weather.timezone", "Africa/Johannesburg")
	v.SetDefault("weather.years_back", 3)
	v.SetDefault("weather.max_skew_minutes", 90)
	v.SetDefault("weather.concurrency", 4)

	v.SetDefault("medallion.raw_prefix", "Movies/")
	v.SetDefault("medallion.lakehouse_prefix", "lakehouse")

	v.SetDefault("schedule.extract", "0 */6 * * *")
	v.SetDefault("schedule.weather_hourly", "5 * * * *")
	v.SetDefault("schedule.weather_historical", "")
	v.SetDefault("schedule.medallion", "30 2 * * *")
	v.SetDefault("schedule.port", 8080)

	v.SetDefault("metrics.job_name", "lakehouse_jobs")
}

// Validate checks that the settings required by the given mode are present.
// Every missing field is reported, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	switch mode {
	case "extract":
		if c.Adzuna.AppID == "" {
			add("adzuna.app_id is required")
		}
		if c.Adzuna.AppKey == "" {
			add("adzuna.app_key is required")
		}
		if c.Adzuna.StateID == "" {
			add("adzuna.state_id is required")
		}
		if c.Adzuna.BatchSize <= 0 {
			add("adzuna.batch_size must be > 0")
		}
		if c.Adzuna.OverlapHours < 0 {
			add("adzuna.overlap_hours must be >= 0")
		}
		errs = append(errs, c.validateState()...)
		errs = append(errs, c.validateObjectStore(c.ObjectStore.Bucket, "objectstore.bucket")...)
	case "weather":
		errs = append(errs, c.validateObjectStore(c.ObjectStore.WeatherBucket, "objectstore.weather_bucket")...)
		if c.Weather.Timezone == "" {
			add("weather.timezone is required")
		}
	case "medallion":
		errs = append(errs, c.validateObjectStore(c.ObjectStore.RawBucket, "objectstore.raw_bucket")...)
		errs = append(errs, c.validateObjectStore(c.ObjectStore.Bucket, "objectstore.bucket")...)
	case "status":
		// The catalog is optional; without it only the watermark is shown.
		errs = append(errs, c.validateState()...)
	case "migrate":
		if c.Catalog.DatabaseURL == "" && c.State.DatabaseURL == "" {
			add("catalog.database_url or state.database_url is required")
		}
	case "schedule":
		if c.Schedule.Port <= 0 {
			add("schedule.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateState() []string {
	switch c.State.Driver {
	case "postgres":
		if c.StateDatabaseURL() == "" {
			return []string{"state.database_url (or catalog.database_url) is required for the postgres state driver"}
		}
	case "sqlite":
		if c.State.SQLitePath == "" {
			return []string{"state.sqlite_path is required for the sqlite state driver"}
		}
	case "redis":
		if c.State.RedisURL == "" {
			return []string{"state.redis_url is required for the redis state driver"}
		}
	case "memory":
	default:
		return []string{"state.driver must be one of postgres, sqlite, redis, memory"}
	}
	return nil
}

func (c *Config) validateObjectStore(bucket, key string) []string {
	var errs []string
	if bucket == "" {
		errs = append(errs, key+" is required")
	}
	if c.ObjectStore.Driver == "minio" {
		if c.ObjectStore.Endpoint == "" {
			errs = append(errs, "objectstore.endpoint is required")
		}
		if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
			errs = append(errs, "objectstore.access_key and objectstore.secret_key are required")
		}
	}
	return errs
}

// StateDatabaseURL returns the Postgres DSN for the watermark store, falling
// back to the catalog database.
func (c *Config) StateDatabaseURL() string {
	if c.State.DatabaseURL != "" {
		return c.State.DatabaseURL
	}
	return c.Catalog.DatabaseURL
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
