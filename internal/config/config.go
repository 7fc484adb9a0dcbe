// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ServiceConfig holds configuration for the switchbox service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	AllowedOrigins    []string      // CORS origins; empty allows any

	LogLevel string
	LogDir   string // Optional directory for the service's own log file
	Debug    bool
	Version  string // Reported by the healthz endpoint and as the ETL version
	APIMode  bool   // false: boot the compose deployment and exit; true: serve the API

	JobDir         string   // Root directory holding one subdirectory per job
	ProjectDir     string   // Compose project directory
	ProjectName    string   // Compose project name
	ComposeCommand []string // Compose executable and leading args (e.g. docker compose)
	ETLService     string   // Compose service launched for each job
	IndexerService string   // Compose service run after the ETL container exits
	VocabDir       string   // Vocabulary directory injected as VOCAB_DIR
	JobIDScheme    string   // "timestamp" or "uuid7"
	ParamsFile     string   // ETL parameter schema; empty uses the embedded default
	AfterRunnerBin string   // Binary used for the detached after-run process

	AfterRunWaitAttempts int           // Failed container waits tolerated by after-run; 0 means no limit
	AfterRunBackoffMax   time.Duration // Longest pause between failed waits
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8000"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		AllowedOrigins:    GetListEnv("CORS_ALLOWED_ORIGINS", nil),

		LogLevel: strings.ToUpper(GetEnv("LOG_LEVEL", "INFO")),
		LogDir:   GetEnv("SWITCHBOX_LOG_DIR", ""),
		Debug:    GetBoolEnv("DEBUG", false),
		Version:  GetEnv("VERSION", "1.0.0"),
		APIMode:  GetBoolEnv("APIMODE", false),

		JobDir:         GetEnv("JOB_DIR", "/data/jobs"),
		ProjectDir:     GetEnv("COMPOSE_PROJECT_DIR", defaultProjectDir()),
		ProjectName:    GetEnv("COMPOSE_PROJECT_NAME", "switchbox"),
		ComposeCommand: strings.Fields(GetEnv("COMPOSE_COMMAND", "docker compose")),
		ETLService:     GetEnv("ETL_SERVICE", "etl"),
		IndexerService: GetEnv("INDEXER_SERVICE", "aresindexer"),
		VocabDir:       GetEnv("VOCAB_DIR", "/vocab"),
		JobIDScheme:    GetEnv("JOB_ID_SCHEME", "timestamp"),
		ParamsFile:     GetEnv("ETL_PARAMS_FILE", ""),
		AfterRunnerBin: GetEnv("AFTER_RUNNER_BIN", ""),

		AfterRunWaitAttempts: GetIntEnv("AFTER_RUN_WAIT_ATTEMPTS", 20),
		AfterRunBackoffMax:   GetDurationEnv("AFTER_RUN_BACKOFF_MAX", 30*time.Second),
	}
}

// SlogLevel converts LogLevel to a slog level. WARNING is accepted as an alias of WARN.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultProjectDir is the subdeployment directory shipped next to the binary.
func defaultProjectDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "subdeployment"
	}
	return filepath.Join(filepath.Dir(exe), "subdeployment")
}
