package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/jacentio/tablelock/backup"
	"github.com/jacentio/tablelock/internal/dynrow"
	"github.com/jacentio/tablelock/store"
)

// BackupExt is the file extension of table backups.
const BackupExt = ".tlb"

func commands() []*Command {
	return []*Command{
		schemaCmd(),
		statusCmd(),
		lockAllCmd(),
		unlockAllCmd(),
		backupCmd(),
		restoreCmd(),
		pushCmd(),
		pullCmd(),
		snapshotsCmd(),
	}
}

func findCommand(name string) *Command {
	for _, c := range commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func schemaCmd() *Command {
	return &Command{
		Usage: "schema create|purge",
		Short: "Create or drop the selected tables and their lock tables",
		Long: `Create the main and auxiliary tables of every selected table when missing,
or drop both. An auxiliary table created next to an existing main table is
seeded with its keys.`,
		Exec: func(ctx context.Context, a *app, args []string) error {
			if len(args) != 1 {
				return errors.New("schema: expected create or purge")
			}
			for _, s := range a.schemas {
				tbl, err := a.table(s)
				if err != nil {
					return err
				}
				switch args[0] {
				case "create":
					err = tbl.AssureSchema(ctx)
				case "purge":
					err = tbl.PurgeSchema(ctx)
				default:
					return fmt.Errorf("schema: unknown action %q", args[0])
				}
				if err != nil {
					return err
				}
				a.printf("%s: %s\n", s.Table, args[0])
			}
			return nil
		},
	}
}

func statusCmd() *Command {
	return &Command{
		Usage: "status",
		Short: "Show row counts and locked rows per table",
		Exec: func(ctx context.Context, a *app, _ []string) error {
			for _, s := range a.schemas {
				ok, err := store.HasTable(ctx, a.conn, s.Table, false)
				if err != nil {
					return err
				}
				if !ok {
					a.printf("%-24s missing\n", s.Table)
					continue
				}
				tbl, err := a.table(s)
				if err != nil {
					return err
				}
				main, aux, err := tbl.Counts(ctx)
				if err != nil {
					return err
				}
				a.printf("%-24s rows=%d available=%d locked=%d\n", s.Table, main, aux, main-aux)
			}
			return nil
		},
	}
}

func lockAllCmd() *Command {
	return &Command{
		Usage: "lock-all",
		Short: "Take the table-wide lock on the selected tables",
		Long: `Take the table-wide lock on every selected table. The lock outlives this
process; release it with unlock-all. When one table cannot be locked, the
tables already locked by this invocation are released again.`,
		Exec: func(ctx context.Context, a *app, _ []string) error {
			var locked []dynrow.Admin
			for _, s := range a.schemas {
				tbl, err := a.table(s)
				if err != nil {
					return err
				}
				if err := tbl.LockAll(ctx); err != nil {
					for _, l := range locked {
						err = errors.Join(err, l.UnlockAll(ctx, false))
					}
					return err
				}
				locked = append(locked, tbl)
				a.printf("%s: locked\n", s.Table)
			}
			return nil
		},
	}
}

func unlockAllCmd() *Command {
	fs := flag.NewFlagSet("unlock-all", flag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Release even when only some rows are locked")
	return &Command{
		Flags: fs,
		Usage: "unlock-all [--force]",
		Short: "Release the table-wide lock on the selected tables",
		Long: `Return every key of the selected tables to their auxiliary tables.
Without --force a table is only released when all of its rows are locked,
as left by lock-all. --force also releases row locks held by other
processes, which repairs tables after a crash.`,
		Exec: func(ctx context.Context, a *app, _ []string) error {
			for _, s := range a.schemas {
				tbl, err := a.table(s)
				if err != nil {
					return err
				}
				if !*force {
					main, aux, err := tbl.Counts(ctx)
					if err != nil {
						return err
					}
					if aux != 0 {
						return fmt.Errorf("%s: %d of %d rows are not locked: %w", s.Table, aux, main, store.ErrLockNotHeld)
					}
				}
				// The table-wide flag lives in the process that called
				// lock-all, so release is always forced here.
				if err := tbl.UnlockAll(ctx, true); err != nil {
					return err
				}
				a.printf("%s: unlocked\n", s.Table)
			}
			return nil
		},
	}
}

func backupCmd() *Command {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	dir := fs.StringP("output", "o", ".", "Directory to write backups to")
	return &Command{
		Flags: fs,
		Usage: "backup [-o dir]",
		Short: "Write a backup file per selected table",
		Long:  "Write <dir>/<table>" + BackupExt + " for every selected table. Existing files are replaced atomically.",
		Exec: func(ctx context.Context, a *app, _ []string) error {
			for _, s := range a.schemas {
				path := filepath.Join(*dir, s.Table+BackupExt)
				n, err := backup.DumpFile(ctx, a.conn, s, path)
				if err != nil {
					return err
				}
				a.printf("%s: %d rows -> %s\n", s.Table, n, path)
			}
			return nil
		},
	}
}

func restoreCmd() *Command {
	return &Command{
		Usage: "restore <file>...",
		Short: "Replace table contents from backup files",
		Long: `Replace the contents of each backup's table. The table is locked with
lock-all semantics while it is rewritten, and its auxiliary table is rebuilt
afterwards.`,
		Exec: func(ctx context.Context, a *app, args []string) error {
			if len(args) == 0 {
				return errors.New("restore: no backup files given")
			}
			reg, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			for _, path := range args {
				h, err := backup.ReadFileHeader(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				s, ok := reg.Lookup(h.Table)
				if !ok {
					return fmt.Errorf("%s: table %q is not configured", path, h.Table)
				}
				var n int
				err = a.withTableLock(ctx, s, func() error {
					var err error
					n, err = backup.RestoreFile(ctx, a.conn, path, a.restoreOptions(s))
					return err
				})
				if err != nil {
					return err
				}
				a.printf("%s: %d rows <- %s\n", s.Table, n, path)
			}
			return nil
		},
	}
}

func pushCmd() *Command {
	return &Command{
		Usage:        "push",
		Short:        "Archive a snapshot of the selected tables in DynamoDB",
		NeedsArchive: true,
		Exec: func(ctx context.Context, a *app, _ []string) error {
			for _, s := range a.schemas {
				snap, err := backup.Push(ctx, a.conn, s, a.archive)
				if err != nil {
					return err
				}
				a.printf("%s\n", snap)
			}
			return nil
		},
	}
}

func pullCmd() *Command {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	id := fs.StringP("snapshot", "s", "", "Snapshot ID to restore (default latest; needs a single --table)")
	return &Command{
		Flags:        fs,
		Usage:        "pull [--snapshot id]",
		Short:        "Restore the selected tables from archived snapshots",
		NeedsArchive: true,
		Exec: func(ctx context.Context, a *app, _ []string) error {
			schemas := a.schemas
			if *id != "" {
				s, err := a.single()
				if err != nil {
					return err
				}
				schemas = []*store.Schema{s}
			}
			for _, s := range schemas {
				var snap backup.Snapshot
				var err error
				if *id != "" {
					snap, err = a.archive.Get(ctx, s.Table, *id)
				} else {
					snap, err = a.archive.Latest(ctx, s.Table)
				}
				if err != nil {
					return err
				}
				var n int
				err = a.withTableLock(ctx, s, func() error {
					var err error
					n, err = backup.Pull(ctx, a.conn, a.archive, snap, a.restoreOptions(s))
					return err
				})
				if err != nil {
					return err
				}
				a.printf("%s: %d rows <- %s\n", s.Table, n, snap.ID)
			}
			return nil
		},
	}
}

func snapshotsCmd() *Command {
	return &Command{
		Usage:        "snapshots",
		Short:        "List archived snapshots of the selected tables",
		NeedsArchive: true,
		Exec: func(ctx context.Context, a *app, _ []string) error {
			for _, s := range a.schemas {
				snaps, err := a.archive.List(ctx, s.Table)
				if err != nil {
					return err
				}
				for _, snap := range snaps {
					a.printf("%s %s %s\n", snap.CreatedAt, shortSum(snap.Checksum), snap)
				}
			}
			return nil
		},
	}
}

// shortSum abbreviates a hex checksum for listings.
func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// withTableLock runs fn while holding the table-wide lock of s, then rebuilds
// the auxiliary table from whatever rows fn left behind.
func (a *app) withTableLock(ctx context.Context, s *store.Schema, fn func() error) error {
	tbl, err := a.table(s)
	if err != nil {
		return err
	}
	if err := tbl.LockAll(ctx); err != nil {
		return err
	}
	err = fn()
	return errors.Join(err, tbl.UnlockAll(ctx, false))
}

func (a *app) restoreOptions(s *store.Schema) backup.RestoreOptions {
	return backup.RestoreOptions{
		Schema:    s,
		BatchSize: a.cfg.StoreConfig(a.logger).BatchSize,
		Logger:    a.logger,
	}
}
