package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"muepub/config"
	"muepub/state"
)

const (
	appName    = "muepub"
	appVersion = "0.3.0"
)

// initializeAppContext prepares application context before command execution
// but after the command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if env.Log, err = env.Cfg.Logging.Prepare(); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.Pretty = cmd.Bool("pretty")
	env.RedirectStdLog()

	env.Log.Debug("Program started", zap.Strings("args", os.Args),
		zap.String("ver", appVersion), zap.String("runtime", runtime.Version()))

	if len(configFile) == 0 {
		env.Log.Debug("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}
	env.RestoreStdLog()
	return nil
}

// Ignore urfave/cli default error handling - cli.Exit() is non-transparent,
// subcommands return regular errors instead.
var errWasHandled bool

func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := state.EnvFromContext(ctx)
	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return err
}

func main() {

	// allow graceful shutdown on interrupt
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            appName,
		Usage:           "EPUB inspection tool for the muepub reader core",
		Version:         appVersion + " (" + runtime.Version() + ")",
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "pretty", Usage: "indent JSON output"},
		},
		Commands: []*cli.Command{
			{
				Name:         "metadata",
				Usage:        "Prints package metadata as JSON",
				OnUsageError: usageErrorHandler,
				Action:       runMetadata,
				ArgsUsage:    "EPUB",
			},
			{
				Name:         "chapters",
				Usage:        "Lists spine entries",
				OnUsageError: usageErrorHandler,
				Action:       runChapters,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ndjson", Usage: "one JSON object per line"},
				},
				ArgsUsage: "EPUB",
			},
			{
				Name:         "chapter-text",
				Usage:        "Extracts readable text from one chapter",
				OnUsageError: usageErrorHandler,
				Action:       runChapterText,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "index", Value: -1, Usage: "chapter `INDEX` in spine order"},
					&cli.StringFlag{Name: "id", Usage: "chapter `IDREF` from the spine"},
					&cli.BoolFlag{Name: "raw", Usage: "print plain text instead of JSON"},
				},
				ArgsUsage: "EPUB",
			},
			{
				Name:         "toc",
				Usage:        "Prints the table of contents",
				OnUsageError: usageErrorHandler,
				Action:       runTOC,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "flat", Usage: "flatten the tree into (depth, label) entries"},
				},
				ArgsUsage: "EPUB",
			},
			{
				Name:         "validate",
				Usage:        "Validates EPUB structure and reports diagnostics",
				OnUsageError: usageErrorHandler,
				Action:       runValidate,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "strict", Usage: "treat warnings as errors"},
				},
				ArgsUsage: "EPUB",
			},
			{
				Name:         "paginate",
				Usage:        "Runs the layout pipeline over one chapter and prints page metrics",
				OnUsageError: usageErrorHandler,
				Action:       runPaginate,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "index", Value: -1, Usage: "chapter `INDEX` in spine order"},
					&cli.StringFlag{Name: "id", Usage: "chapter `IDREF` from the spine"},
				},
				ArgsUsage: "EPUB",
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
			},
		},
	}

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deferred functions after that
	defer func() {
		stop()
		if err != nil {
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err  error
		data []byte
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()
	}

	if cmd.Bool("default") {
		data, err = config.Prepare()
	} else {
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
