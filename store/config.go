package store

import "log/slog"

// Config holds configuration for a Table.
type Config struct {
	// AuxPrefix is prepended to a table name to form its auxiliary table name.
	// Default: "AUX_"
	AuxPrefix string

	// BatchSize is the number of rows written per batch when repopulating
	// the auxiliary table.
	// Default: 500
	// Max: 10000
	BatchSize int

	// Logger receives lock transitions and schema changes.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AuxPrefix: "AUX_",
		BatchSize: 500,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.AuxPrefix == "" {
		c.AuxPrefix = "AUX_"
	}
	if c.BatchSize < 1 {
		c.BatchSize = 500
	}
	if c.BatchSize > 10000 {
		c.BatchSize = 10000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
