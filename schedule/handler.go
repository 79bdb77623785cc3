// Package schedule provides a Lambda handler that archives table snapshots
// on a schedule.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/tablelock/backup"
	"github.com/jacentio/tablelock/store"
)

// DefaultConcurrency is the number of tables snapshotted at once.
const DefaultConcurrency = 4

// Detail is the optional payload of the scheduled event. An empty Tables
// list means every registered table.
type Detail struct {
	Tables []string `json:"tables"`
}

// Handler snapshots registered tables into an archive.
type Handler struct {
	conn        store.Connector
	registry    *store.Registry
	archive     *backup.Archive
	logger      *slog.Logger
	concurrency int
}

// NewHandler creates a new scheduled backup handler.
func NewHandler(conn store.Connector, registry *store.Registry, archive *backup.Archive, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		conn:        conn,
		registry:    registry,
		archive:     archive,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency changes how many tables are snapshotted at once.
func (h *Handler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	h.concurrency = n
}

// HandleScheduledBackup snapshots the tables named in the event detail, or
// all registered tables. One table failing does not stop the others; every
// failure is returned joined so the invocation is reported as failed.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleScheduledBackup(ctx context.Context, event events.CloudWatchEvent) error {
	schemas, err := h.selectTables(event.Detail)
	if err != nil {
		h.logger.Error("invalid scheduled event", "id", event.ID, "error", err)
		return err
	}

	h.logger.Info("scheduled backup started",
		"id", event.ID,
		"tables", len(schemas),
	)

	errs := make([]error, len(schemas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, s := range schemas {
		g.Go(func() error {
			snap, err := backup.Push(gctx, h.conn, s, h.archive)
			if err != nil {
				h.logger.Warn("failed to snapshot table",
					"table", s.Table,
					"error", err,
				)
				errs[i] = fmt.Errorf("%s: %w", s.Table, err)
				return nil // Continue with the other tables
			}
			h.logger.Debug("table snapshotted", "table", s.Table, "snapshot", snap.ID)
			return nil
		})
	}
	_ = g.Wait()

	err = errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	h.logger.Info("scheduled backup completed",
		"id", event.ID,
		"tables", len(schemas),
		"failed", failed,
	)
	return err
}

// selectTables resolves the event detail to registered schemas.
func (h *Handler) selectTables(raw json.RawMessage) ([]*store.Schema, error) {
	var d Detail
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode detail: %w", err)
		}
	}
	if len(d.Tables) == 0 {
		return h.registry.All(), nil
	}
	schemas := make([]*store.Schema, 0, len(d.Tables))
	for _, name := range d.Tables {
		s, ok := h.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("table %q is not registered", name)
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}
