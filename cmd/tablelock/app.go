package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/tablelock/backup"
	"github.com/jacentio/tablelock/internal/config"
	"github.com/jacentio/tablelock/internal/dynrow"
	"github.com/jacentio/tablelock/sqlconn"
	"github.com/jacentio/tablelock/store"
)

// newDynamo creates the DynamoDB client for the snapshot archive. Tests
// replace it.
var newDynamo = func(ctx context.Context, cfg config.Archive) (backup.DynamoAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

// app is the state shared by all commands of one invocation.
type app struct {
	cfg     config.Config
	conn    *sqlconn.Conn
	schemas []*store.Schema
	archive *backup.Archive
	out     io.Writer
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, tables []string, needsArchive bool, out io.Writer, logger *slog.Logger) (*app, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	schemas := reg.All()
	if len(tables) > 0 {
		schemas = nil
		for _, name := range tables {
			s, ok := reg.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("table %q is not configured", name)
			}
			schemas = append(schemas, s)
		}
	}

	a := &app{cfg: cfg, schemas: schemas, out: out, logger: logger}
	if needsArchive {
		client, err := newDynamo(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		a.archive = backup.NewArchive(client, cfg.ArchiveConfig(logger))
	}
	a.conn, err = cfg.Open(ctx, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// table returns the lock manager for s.
func (a *app) table(s *store.Schema) (dynrow.Admin, error) {
	return dynrow.NewTable(a.conn, a.cfg.StoreConfig(a.logger), s)
}

// single returns the only selected schema.
func (a *app) single() (*store.Schema, error) {
	if len(a.schemas) != 1 {
		return nil, fmt.Errorf("select exactly one table with --table, %d selected", len(a.schemas))
	}
	return a.schemas[0], nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
