package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Processor ProcessorConfig `yaml:"processor"`
	Reader    ReaderConfig    `yaml:"reader"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// CatalogConfig points at the YAML mapping catalog used by the memory store
// and by the seed command.
type CatalogConfig struct {
	SeedPath string `yaml:"seed_path"`
}

type StoreConfig struct {
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	SSLMode  string            `yaml:"ssl_mode"`
	Params   map[string]string `yaml:"params"`
	DSN      string            `yaml:"dsn"`
}

type EngineConfig struct {
	// ValidateOnStart loads every vendor's rule sets at startup so mapping
	// errors fail the process instead of the first request.
	ValidateOnStart bool `yaml:"validate_on_start"`
}

type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
	Buffer     int `yaml:"buffer"`
}

type ReaderConfig struct {
	Timeout     time.Duration   `yaml:"timeout"`
	UserAgent   string          `yaml:"user_agent"`
	MaxMessages int             `yaml:"max_messages"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	TargetsPath string          `yaml:"targets_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type WriterConfig struct {
	Parquet      ParquetConfig      `yaml:"parquet"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Redis        RedisConfig        `yaml:"redis"`
	ReportPath   string             `yaml:"report_path"`
}

type ParquetConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Compression  string `yaml:"compression"`
	Dir          string `yaml:"dir"`
	RowGroupSize int64  `yaml:"row_group_size"`
}

type PartitioningConfig struct {
	Prefix     string `yaml:"prefix"`
	TimeFormat string `yaml:"time_format"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Channel   string        `yaml:"channel"`
	TTL       time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Prometheus     bool             `yaml:"prometheus"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type APIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	LogHistory     int    `yaml:"log_history"`
	MetricsHistory int    `yaml:"metrics_history"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type ProfilingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		App:     AppConfig{Name: "exchangecatalog", Version: "dev"},
		Catalog: CatalogConfig{SeedPath: "config/mappings.yml"},
		Store:   StoreConfig{Driver: "memory"},
		Engine:  EngineConfig{ValidateOnStart: IsProductionLike(AppEnvironment())},
		Processor: ProcessorConfig{
			MaxWorkers: 4,
			Buffer:     256,
		},
		Reader: ReaderConfig{
			Timeout:     10 * time.Second,
			UserAgent:   "exchangecatalog/1.0",
			MaxMessages: 5,
			RateLimit:   RateLimitConfig{RequestsPerSecond: 5, BurstSize: 1},
		},
		Writer: WriterConfig{
			Parquet:      ParquetConfig{Compression: "snappy", Dir: "data", RowGroupSize: 8 * 1024 * 1024},
			Partitioning: PartitioningConfig{Prefix: "normalized", TimeFormat: "2006-01-02/15"},
			Redis:        RedisConfig{Addr: "localhost:6379", KeyPrefix: "catalog:latest", Channel: "catalog.normalized", TTL: time.Hour},
		},
		Metrics: MetricsConfig{
			Prometheus:     true,
			ReportInterval: time.Minute,
			CloudWatch:     CloudWatchConfig{Namespace: "ExchangeCatalog", Dashboard: "ExchangeCatalog"},
		},
		API: APIConfig{
			Enabled:        true,
			Address:        "0.0.0.0:8080",
			LogHistory:     200,
			MetricsHistory: 200,
			MaxBodyBytes:   4 << 20,
		},
		Profiling: ProfilingConfig{ApplicationName: "exchangecatalog"},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv overrides file values with deployment secrets and endpoints.
func applyEnv(config *Config) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		config.Store.DSN = v
		if config.Store.Driver == "" || config.Store.Driver == "memory" {
			config.Store.Driver = "postgres"
		}
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if config.Writer.Redis.Enabled {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			config.Writer.Redis.Addr = strings.TrimSpace(v)
		}
		if v := os.Getenv("REDIS_PASS"); v != "" {
			config.Writer.Redis.Password = v
		}
		if v := os.Getenv("REDIS_DB"); v != "" {
			if db, err := strconv.Atoi(v); err == nil {
				config.Writer.Redis.DB = db
			}
		}
	}

	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = os.Getenv("AWS_REGION")
	}

	if v := os.Getenv("PYROSCOPE_SERVER_ADDRESS"); v != "" {
		config.Profiling.ServerAddress = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		if cfg.Catalog.SeedPath == "" {
			return fmt.Errorf("catalog.seed_path is required for the memory store")
		}
	case "postgres", "postgresql":
		if cfg.Store.DSN == "" && cfg.Store.Database == "" {
			return fmt.Errorf("store.database or store.dsn is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("store.driver '%s' is not supported", cfg.Store.Driver)
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.Buffer <= 0 {
		return fmt.Errorf("processor.buffer must be greater than 0")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}

	switch strings.ToLower(cfg.Writer.Parquet.Compression) {
	case "", "snappy", "gzip", "zstd", "uncompressed", "none":
	default:
		return fmt.Errorf("writer.parquet.compression '%s' is not supported", cfg.Writer.Parquet.Compression)
	}

	if cfg.Writer.Redis.Enabled && cfg.Writer.Redis.Addr == "" {
		return fmt.Errorf("writer.redis.addr is required when redis is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Address) == "" {
		return fmt.Errorf("api.address is required when the api is enabled")
	}

	if cfg.Profiling.Enabled && cfg.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
