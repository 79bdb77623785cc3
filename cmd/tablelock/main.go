// Command tablelock administers tables guarded by auxiliary lock tables:
// schema management, table-wide locks, file backups and DynamoDB snapshots.
//
// Usage:
//
//	tablelock [--config file] [--table name]... <command> [flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"

	"github.com/jacentio/tablelock/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Environ()))
}

// run is the testable entry point. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, env []string) int {
	global := flag.NewFlagSet("tablelock", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(&strings.Builder{})
	configPath := global.StringP("config", "c", config.Path(env), "Config file (JSONC)")
	tables := global.StringSliceP("table", "t", nil, "Table to operate on, repeatable (default all configured tables)")
	logLevel := global.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout, global)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		printUsage(stderr, global)
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stdout, global)
		return 0
	}

	cmd := findCommand(rest[0])
	if cmd == nil {
		fmt.Fprintln(stderr, "error: unknown command:", rest[0])
		printUsage(stderr, global)
		return 1
	}
	cmdArgs, err := cmd.parse(rest[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			cmd.PrintHelp(stdout)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintln(stderr)
		cmd.PrintHelp(stderr)
		return 1
	}

	cfg, err := config.Load(*configPath, env)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	logger := newLogger(stderr, level)

	a, err := newApp(ctx, cfg, *tables, cmd.NeedsArchive, stdout, logger)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer a.Close()

	if err := cmd.Exec(ctx, a, cmdArgs); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
	}))
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: tablelock [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintln(w, c.HelpLine())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	var buf strings.Builder
	global.SetOutput(&buf)
	global.PrintDefaults()
	fmt.Fprint(w, buf.String())
}
