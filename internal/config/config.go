package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the namespace of every environment override (CCS_SERVER_PORT, ...).
const EnvPrefix = "CCS"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Artifacts ArtifactsConfig `yaml:"artifacts" envconfig:"ARTIFACTS"`
	Datastore DatastoreConfig `yaml:"datastore" envconfig:"DATASTORE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Ingest    IngestConfig    `yaml:"ingest" envconfig:"INGEST"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" validate:"gt=0"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir      string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	UploadDir    string `yaml:"upload_dir" envconfig:"UPLOAD_DIR" validate:"required"`
	ArchiveDir   string `yaml:"archive_dir" envconfig:"ARCHIVE_DIR" validate:"required"`
	ArtifactsDir string `yaml:"artifacts_dir" envconfig:"ARTIFACTS_DIR" validate:"required"`
	ResultsDir   string `yaml:"results_dir" envconfig:"RESULTS_DIR" validate:"required"`
	LogsDir      string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// PipelineConfig holds every tunable of the training and prediction topology.
type PipelineConfig struct {
	LabelColumn          string  `yaml:"label_column" envconfig:"LABEL_COLUMN" validate:"required"`
	IDColumn             string  `yaml:"id_column" envconfig:"ID_COLUMN" validate:"required"`
	ContinuousThreshold  int     `yaml:"continuous_threshold" envconfig:"CONTINUOUS_THRESHOLD" validate:"min=1"`
	NormalityAlpha       float64 `yaml:"normality_alpha" envconfig:"NORMALITY_ALPHA" validate:"gt=0,lt=1"`
	MissingDropRatio     float64 `yaml:"missing_drop_ratio" envconfig:"MISSING_DROP_RATIO" validate:"gt=0,lte=1"`
	ImputerNeighbors     int     `yaml:"imputer_neighbors" envconfig:"IMPUTER_NEIGHBORS" validate:"min=1"`
	MaxClusters          int     `yaml:"max_clusters" envconfig:"MAX_CLUSTERS" validate:"min=1"`
	Seed                 int64   `yaml:"seed" envconfig:"SEED"`
	TestRatio            float64 `yaml:"test_ratio" envconfig:"TEST_RATIO" validate:"gt=0,lt=1"`
	CorrelationThreshold float64 `yaml:"correlation_threshold" envconfig:"CORRELATION_THRESHOLD" validate:"gt=0,lte=1"`
	ImportanceThreshold  float64 `yaml:"importance_threshold" envconfig:"IMPORTANCE_THRESHOLD" validate:"gte=0,lt=1"`
	RidgeAlpha           float64 `yaml:"ridge_alpha" envconfig:"RIDGE_ALPHA" validate:"gte=0"`
	ForestTrees          int     `yaml:"forest_trees" envconfig:"FOREST_TREES" validate:"min=1"`
	ForestMaxDepth       int     `yaml:"forest_max_depth" envconfig:"FOREST_MAX_DEPTH" validate:"gte=0"`
	KNNNeighbors         int     `yaml:"knn_neighbors" envconfig:"KNN_NEIGHBORS" validate:"min=1"`
	KMeansRestarts       int     `yaml:"kmeans_restarts" envconfig:"KMEANS_RESTARTS" validate:"min=1"`
	KMeansMaxIter        int     `yaml:"kmeans_max_iter" envconfig:"KMEANS_MAX_ITER" validate:"min=1"`
}

// ArtifactsConfig controls the on-disk artifact store.
type ArtifactsConfig struct {
	Retain int  `yaml:"retain" envconfig:"RETAIN" validate:"min=2"`
	Watch  bool `yaml:"watch" envconfig:"WATCH"`
}

// DatastoreConfig configures the PostgreSQL datastore and its background writer.
type DatastoreConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"ENABLED"`
	URL             string `yaml:"url" envconfig:"URL" validate:"required_if=Enabled true"`
	MaxConns        int32  `yaml:"max_conns" envconfig:"MAX_CONNS" validate:"gte=0"`
	TrainingTable   string `yaml:"training_table" envconfig:"TRAINING_TABLE" validate:"required"`
	PredictionTable string `yaml:"prediction_table" envconfig:"PREDICTION_TABLE" validate:"required"`
	ResultsTable    string `yaml:"results_table" envconfig:"RESULTS_TABLE" validate:"required"`
	Workers         int    `yaml:"workers" envconfig:"WORKERS" validate:"min=1"`
	QueueSize       int    `yaml:"queue_size" envconfig:"QUEUE_SIZE" validate:"min=1"`
}

// TelemetryConfig selects tracing and metric exporters.
type TelemetryConfig struct {
	Tracing        bool    `yaml:"tracing" envconfig:"TRACING"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// IngestConfig describes what an acceptable raw upload looks like.
type IngestConfig struct {
	FilePattern     string   `yaml:"file_pattern" envconfig:"FILE_PATTERN" validate:"required"`
	ColumnCount     int      `yaml:"column_count" envconfig:"COLUMN_COUNT" validate:"gte=0"`
	RequiredColumns []string `yaml:"required_columns" envconfig:"REQUIRED_COLUMNS"`
}

// Load builds the configuration from defaults, then the YAML file at path (when it
// exists), then CCS_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file keep their
// current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate runs struct validation over the whole configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output is %q", c.Logging.Output)
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "both",
			FilePath: "logs/ccs.log",
		},
		Paths: PathsConfig{
			DataDir:      "data",
			UploadDir:    "data/uploads",
			ArchiveDir:   "data/archive",
			ArtifactsDir: "artifacts",
			ResultsDir:   "results",
			LogsDir:      "logs",
		},
		Pipeline: PipelineConfig{
			LabelColumn:          "Concrete compressive strength(MPa, megapascals)",
			IDColumn:             "id",
			ContinuousThreshold:  25,
			NormalityAlpha:       0.05,
			MissingDropRatio:     0.75,
			ImputerNeighbors:     3,
			MaxClusters:          10,
			Seed:                 42,
			TestRatio:            0.25,
			CorrelationThreshold: 0.9,
			ImportanceThreshold:  0.05,
			RidgeAlpha:           1.0,
			ForestTrees:          50,
			ForestMaxDepth:       0,
			KNNNeighbors:         5,
			KMeansRestarts:       10,
			KMeansMaxIter:        300,
		},
		Artifacts: ArtifactsConfig{
			Retain: 2,
			Watch:  true,
		},
		Datastore: DatastoreConfig{
			Enabled:         false,
			MaxConns:        4,
			TrainingTable:   "good_training_data",
			PredictionTable: "good_prediction_data",
			ResultsTable:    "prediction_results",
			Workers:         2,
			QueueSize:       16,
		},
		Telemetry: TelemetryConfig{
			Tracing:        false,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
			Environment:    "development",
		},
		Ingest: IngestConfig{
			FilePattern: `^cement_strength_\d{8}_\d{6}\.(xlsx|csv)$`,
		},
	}
}
