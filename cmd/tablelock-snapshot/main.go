// Command tablelock-snapshot is the AWS Lambda that archives table snapshots
// on a schedule. It reads the same config file as tablelock, located by
// TABLELOCK_CONFIG.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/tablelock/backup"
	"github.com/jacentio/tablelock/internal/config"
	"github.com/jacentio/tablelock/schedule"
)

func main() {
	if err := mainImpl(context.Background()); err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func mainImpl(ctx context.Context) error {
	cfg, err := config.Load(config.Path(os.Environ()), os.Environ())
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	// CloudWatch collects stdout; JSON keeps it queryable.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	conn, err := cfg.Open(ctx, logger)
	if err != nil {
		return err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Archive.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Archive.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}
	archive := backup.NewArchive(dynamodb.NewFromConfig(awsCfg), cfg.ArchiveConfig(logger))

	handler := schedule.NewHandler(conn, reg, archive, logger)
	lambda.Start(handler.HandleScheduledBackup)
	return nil
}
