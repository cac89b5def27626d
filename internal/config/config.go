// Package config loads the server configuration.
//
// Configuration is layered:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PYEXEC_CONFIG, ./config.yaml)
//  3. Environment variable overrides
//  4. File references (auth.jwt_secret_file)
//  5. Validation
package config

import (
	"log/slog"
	"time"
)

// Transports.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Executor backends.
const (
	BackendProcess = "process"
	BackendDocker  = "docker"
)

// Config holds all configuration for the server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Executor ExecutorConfig `yaml:"executor"`
	History  HistoryConfig  `yaml:"history"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds transport settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	Transport       string        `yaml:"transport"`        // "http" or "stdio"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// ExecutorConfig holds the execution pool and backend settings.
type ExecutorConfig struct {
	Backend          string       `yaml:"backend"`            // "process" or "docker"
	PoolSize         int          `yaml:"pool_size"`          // default: 2
	Warm             bool         `yaml:"warm"`               // pre-launch contexts at start-up
	DefaultTimeoutMS int          `yaml:"default_timeout_ms"` // default: 60000
	MaxTimeoutMS     int          `yaml:"max_timeout_ms"`     // default: 600000
	MaxCodeLength    int          `yaml:"max_code_length"`    // default: 100000
	Python           string       `yaml:"python"`             // process backend interpreter
	IndexURL         string       `yaml:"index_url"`          // package index override
	Wheelhouse       string       `yaml:"wheelhouse"`         // local wheel directory
	Docker           DockerConfig `yaml:"docker"`
}

// DockerConfig holds container settings for the docker backend.
type DockerConfig struct {
	Image       string  `yaml:"image"`
	MemoryMB    int64   `yaml:"memory_mb"`
	CPUs        float64 `yaml:"cpus"`
	NetworkMode string  `yaml:"network_mode"`
	TmpfsSize   string  `yaml:"tmpfs_size"`
	PullImage   bool    `yaml:"pull_image"`
}

// HistoryConfig controls the execution history store. An empty DBPath
// disables it.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// AuthConfig controls bearer-token authentication. An empty secret
// disables it.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	JWTSecretFile string `yaml:"jwt_secret_file"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			Transport:       TransportHTTP,
			ShutdownTimeout: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			Backend:          BackendProcess,
			PoolSize:         2,
			Warm:             true,
			DefaultTimeoutMS: 60000,
			MaxTimeoutMS:     600000,
			MaxCodeLength:    100000,
			Python:           "python3",
			Docker: DockerConfig{
				Image:       "python:3.12-slim",
				MemoryMB:    256,
				CPUs:        0.5,
				NetworkMode: "bridge",
				TmpfsSize:   "256m",
				PullImage:   true,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultTimeout returns executor.default_timeout_ms as a Duration.
func (c ExecutorConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

// MaxTimeout returns executor.max_timeout_ms as a Duration.
func (c ExecutorConfig) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMS) * time.Millisecond
}

// SlogLevel maps log.level to a slog.Level. Unknown values mean info;
// Validate rejects them first.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
