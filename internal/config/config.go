// Package config loads the JSONC configuration shared by the tablelock
// commands.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/jacentio/tablelock/backup"
	"github.com/jacentio/tablelock/sqlconn"
	"github.com/jacentio/tablelock/store"
)

// FileName is the config file looked up in the working directory.
const FileName = "tablelock.json"

// Environment variables overriding file settings.
const (
	EnvConfig = "TABLELOCK_CONFIG"
	EnvDSN    = "TABLELOCK_DSN"
)

var (
	errConfigRead    = errors.New("cannot read config file")
	errConfigInvalid = errors.New("invalid config")
)

// Config holds all configuration options.
type Config struct {
	Database  Database `json:"database"`
	Archive   Archive  `json:"archive"`
	BatchSize int      `json:"batch_size,omitempty"` //nolint:tagliatelle // snake_case for config file
	AuxPrefix string   `json:"aux_prefix,omitempty"` //nolint:tagliatelle // snake_case for config file
	LogLevel  string   `json:"log_level,omitempty"`  //nolint:tagliatelle // snake_case for config file
	Tables    []Table  `json:"tables"`
}

// Database selects the SQL backend.
type Database struct {
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
}

// Archive configures the DynamoDB snapshot archive.
type Archive struct {
	Table     string `json:"table,omitempty"`
	Region    string `json:"region,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// Table describes one managed table.
type Table struct {
	Name          string   `json:"name"`
	Key           string   `json:"key"`
	KeyType       string   `json:"key_type"`                  //nolint:tagliatelle // snake_case for config file
	AutoKey       bool     `json:"auto_key,omitempty"`        //nolint:tagliatelle // snake_case for config file
	AuxForeignKey bool     `json:"aux_foreign_key,omitempty"` //nolint:tagliatelle // snake_case for config file
	Columns       []Column `json:"columns"`
}

// Column describes one non-key column.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Database: Database{Dialect: "sqlite", DSN: "tablelock.db"},
		Archive:  Archive{Table: backup.DefaultArchiveConfig().Table},
		LogLevel: "info",
	}
}

// Path returns the config path to use when none is given explicitly.
func Path(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, EnvConfig+"="); ok && after != "" {
			return after
		}
	}
	return FileName
}

// Load reads the config file at path and applies environment overrides.
func Load(path string, env []string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigRead, path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, EnvDSN+"="); ok && after != "" {
			cfg.Database.DSN = after
		}
	}
	return cfg, nil
}

// Parse decodes JSONC data on top of the defaults and validates it.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if _, err := cfg.Registry(); err != nil {
		return Config{}, err
	}
	if _, err := sqlconn.DialectByName(cfg.Database.Dialect); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Open connects to the configured database. A sqlite DSN that is a plain
// file path gets the busy timeout pragmas of sqlconn.SQLiteDSN.
func (c Config) Open(ctx context.Context, logger *slog.Logger) (*sqlconn.Conn, error) {
	dialect, err := sqlconn.DialectByName(c.Database.Dialect)
	if err != nil {
		return nil, err
	}
	dsn := c.Database.DSN
	if dialect == sqlconn.SQLite && !strings.HasPrefix(dsn, "file:") {
		dsn = sqlconn.SQLiteDSN(dsn)
	}
	return sqlconn.Open(ctx, dialect, dsn, logger)
}

// Registry builds a schema registry from the configured tables.
func (c Config) Registry() (*store.Registry, error) {
	reg := store.NewRegistry()
	for _, t := range c.Tables {
		s, err := t.Schema()
		if err != nil {
			return nil, err
		}
		if _, dup := reg.Lookup(s.Table); dup {
			return nil, fmt.Errorf("table %s configured twice", s.Table)
		}
		reg.Register(s)
	}
	return reg, nil
}

// Schema converts the table description into a store schema.
func (t Table) Schema() (*store.Schema, error) {
	keyType, err := store.ParseColumnType(t.KeyType)
	if err != nil {
		return nil, fmt.Errorf("table %s: key: %w", t.Name, err)
	}
	s := &store.Schema{
		Table:         t.Name,
		Key:           store.Column{Name: t.Key, Type: keyType, NotNull: true},
		AutoKey:       t.AutoKey,
		AuxForeignKey: t.AuxForeignKey,
	}
	for _, c := range t.Columns {
		ct, err := store.ParseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
		}
		s.Columns = append(s.Columns, store.Column{Name: c.Name, Type: ct, NotNull: c.NotNull})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// StoreConfig returns the store configuration for tables.
func (c Config) StoreConfig(logger *slog.Logger) store.Config {
	cfg := store.DefaultConfig()
	if c.AuxPrefix != "" {
		cfg.AuxPrefix = c.AuxPrefix
	}
	if c.BatchSize != 0 {
		cfg.BatchSize = c.BatchSize
	}
	cfg.Logger = logger
	return cfg
}

// ArchiveConfig returns the snapshot archive configuration.
func (c Config) ArchiveConfig(logger *slog.Logger) backup.ArchiveConfig {
	cfg := backup.DefaultArchiveConfig()
	if c.Archive.Table != "" {
		cfg.Table = c.Archive.Table
	}
	if c.Archive.ChunkSize != 0 {
		cfg.ChunkSize = c.Archive.ChunkSize
	}
	cfg.Logger = logger
	return cfg
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
