package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Server.Transport {
	case TransportHTTP, TransportStdio:
	default:
		errs = append(errs, fmt.Errorf("server.transport must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Server.Transport))
	}

	switch c.Executor.Backend {
	case BackendProcess, BackendDocker:
	default:
		errs = append(errs, fmt.Errorf("executor.backend must be %q or %q, got %q", BackendProcess, BackendDocker, c.Executor.Backend))
	}

	if c.Executor.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("executor.pool_size must be > 0, got %d", c.Executor.PoolSize))
	}
	if c.Executor.DefaultTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("executor.default_timeout_ms must be > 0, got %d", c.Executor.DefaultTimeoutMS))
	}
	if c.Executor.MaxTimeoutMS < c.Executor.DefaultTimeoutMS {
		errs = append(errs, fmt.Errorf("executor.max_timeout_ms (%d) must be >= executor.default_timeout_ms (%d)",
			c.Executor.MaxTimeoutMS, c.Executor.DefaultTimeoutMS))
	}
	if c.Executor.MaxCodeLength <= 0 {
		errs = append(errs, fmt.Errorf("executor.max_code_length must be > 0, got %d", c.Executor.MaxCodeLength))
	}

	if c.Executor.Backend == BackendProcess && c.Executor.Python == "" {
		errs = append(errs, errors.New("executor.python is required for the process backend"))
	}
	if c.Executor.Backend == BackendDocker {
		if c.Executor.Docker.Image == "" {
			errs = append(errs, errors.New("executor.docker.image is required for the docker backend"))
		}
		if c.Executor.Docker.MemoryMB <= 0 {
			errs = append(errs, fmt.Errorf("executor.docker.memory_mb must be > 0, got %d", c.Executor.Docker.MemoryMB))
		}
		if c.Executor.Docker.CPUs <= 0 {
			errs = append(errs, fmt.Errorf("executor.docker.cpus must be > 0, got %v", c.Executor.Docker.CPUs))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
