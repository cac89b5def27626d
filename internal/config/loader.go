package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the config file when -config is not given.
const EnvConfig = "PYEXEC_CONFIG"

// Load builds the configuration from defaults, the config file and the
// environment, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("config: resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the explicit path, then $PYEXEC_CONFIG, then
// ./config.yaml if it exists. "" means no file.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvConfig); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// loadYAMLFile parses path into cfg. Fields missing from the file keep
// their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// KnownFields turns a misspelled key into an error instead of a
	// silently ignored setting.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps environment variables onto cfg. A set variable
// that doesn't parse is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	strVars := map[string]*string{
		"PYEXEC_TRANSPORT":    &cfg.Server.Transport,
		"PYEXEC_BACKEND":      &cfg.Executor.Backend,
		"PYEXEC_PYTHON":       &cfg.Executor.Python,
		"PYEXEC_INDEX_URL":    &cfg.Executor.IndexURL,
		"PYEXEC_WHEELHOUSE":   &cfg.Executor.Wheelhouse,
		"PYEXEC_DOCKER_IMAGE": &cfg.Executor.Docker.Image,
		"DB_PATH":             &cfg.History.DBPath,
		"JWT_SECRET":          &cfg.Auth.JWTSecret,
		"LOG_LEVEL":           &cfg.Log.Level,
	}
	for name, field := range strVars {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*field = v
		}
	}

	intVars := map[string]*int{
		"PORT":                      &cfg.Server.Port,
		"PYEXEC_POOL_SIZE":          &cfg.Executor.PoolSize,
		"PYEXEC_DEFAULT_TIMEOUT_MS": &cfg.Executor.DefaultTimeoutMS,
		"PYEXEC_MAX_TIMEOUT_MS":     &cfg.Executor.MaxTimeoutMS,
	}
	for name, field := range intVars {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not an integer", name, v)
		}
		*field = n
	}

	if v := strings.TrimSpace(getenv("PYEXEC_WARM")); v != "" {
		warm, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PYEXEC_WARM=%q is not a boolean", v)
		}
		cfg.Executor.Warm = warm
	}

	return nil
}

// resolveFileReferences fills auth.jwt_secret from auth.jwt_secret_file
// when only the file is given (Docker/Kubernetes secrets).
func resolveFileReferences(cfg *Config) error {
	if cfg.Auth.JWTSecretFile != "" && cfg.Auth.JWTSecret == "" {
		data, err := os.ReadFile(cfg.Auth.JWTSecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt_secret_file: %w", err)
		}
		cfg.Auth.JWTSecret = strings.TrimSpace(string(data))
	}
	return nil
}
