// Package config provides file-based configuration for leann.
// Configuration is loaded with a layered precedence: defaults → .env →
// config file → env vars. Environment variables always win, so container
// deployments that only set env vars are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LEANN_CONFIG environment variable
//  3. ~/.leann/config.yaml
//  4. ./leann.yaml
//  5. ./leann.toml
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file structure.
// Field names mirror the env var naming (lowercase, underscored).
type Config struct {
	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant" toml:"qdrant"`

	// Store selects and tunes the vector store backend.
	Store StoreConfig `yaml:"store" toml:"store"`

	// Documents configures where documents are read from and state is kept.
	Documents DocumentsConfig `yaml:"documents" toml:"documents"`

	// Chunking configures text segmentation and upsert batching.
	Chunking ChunkingConfig `yaml:"chunking" toml:"chunking"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server" toml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging" toml:"logging"`

	// History configures index-run history persistence.
	History HistoryConfig `yaml:"history" toml:"history"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host" toml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port" toml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection" toml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls" toml:"tls"`
}

// StoreConfig holds vector store backend settings.
type StoreConfig struct {
	// Backend is "qdrant" or "memory".
	Backend string `yaml:"backend" toml:"backend"`
	// Timeout bounds each store call, as a Go duration string (e.g. "10s").
	Timeout string `yaml:"timeout" toml:"timeout"`
}

// DocumentsConfig holds filesystem locations.
type DocumentsConfig struct {
	// Dir is the documents directory that is indexed.
	Dir string `yaml:"dir" toml:"dir"`
	// DataDir holds service state such as the run history database.
	DataDir string `yaml:"data_dir" toml:"data_dir"`
}

// ChunkingConfig holds chunking and batching settings.
type ChunkingConfig struct {
	// Size is the number of words per chunk.
	Size int `yaml:"size" toml:"size"`
	// Overlap is the number of words shared by consecutive chunks.
	Overlap int `yaml:"overlap" toml:"overlap"`
	// BatchSize is the number of points per upsert (0 = one upsert per pass).
	BatchSize int `yaml:"batch_size" toml:"batch_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host" toml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port" toml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var LEANN_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format" toml:"format"`
}

// HistoryConfig holds index-run history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path" toml:"db_path"`
}

// envMapping maps config file fields to their corresponding env var names.
// Only non-empty file values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"STORE_BACKEND", func(c *Config) string { return c.Store.Backend }},
	{"STORE_TIMEOUT", func(c *Config) string { return c.Store.Timeout }},
	{"LEANN_DOCUMENTS_DIR", func(c *Config) string { return c.Documents.Dir }},
	{"LEANN_DATA_DIR", func(c *Config) string { return c.Documents.DataDir }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Chunking.Size) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Chunking.Overlap) }},
	{"INDEX_BATCH_SIZE", func(c *Config) string { return intStr(c.Chunking.BatchSize) }},
	{"LEANN_HOST", func(c *Config) string { return c.Server.Host }},
	{"LEANN_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"LEANN_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LEANN_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
}

// LoadDotEnv loads KEY=VALUE pairs from path (typically ".env") into the
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// Load reads a config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no config file found, using env vars only")
		return "", nil
	}

	cfg, err := parseFile(path)
	if err != nil {
		return "", err
	}

	applied := 0
	for _, m := range envMapping {
		fileVal := m.value(cfg)
		if fileVal == "" || fileVal == "0" || fileVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set; do not override
		}
		if err := os.Setenv(m.envKey, fileVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded config file",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// parseFile decodes path as TOML or YAML depending on its extension.
func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LEANN_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".leann", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	for _, p := range []string{"leann.yaml", "leann.toml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
