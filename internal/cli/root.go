// Package cli implements the cobra-based CLI commands for stagehand.
//
// Each subcommand (run, lint, graph, history, cache, env, clean) is
// defined in its own file within this package. This file defines the
// root command that serves as the parent for all subcommands, the
// global flags, and the error-to-exit-code translation.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/config"
	"github.com/mmr-tortoise/stagehand/internal/ctxlog"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// Global flag variables shared across all subcommands. They are bound
// to cobra persistent flags on the root command, which makes them
// available to every subcommand automatically.
var (
	// workdir is the directory stagehand operates in: where the
	// configuration is looked up, where jobs run, where the journal
	// and run artifacts live. Defaults to the current directory.
	workdir string

	// configPath points at an explicit configuration file. Empty means
	// the conventional names are probed in workdir.
	configPath string

	// jsonOutput switches command output to structured JSON for
	// machine consumption. The default is human-readable text.
	jsonOutput bool

	// logLevel and logFormat configure the slog logger every command
	// finds in its context.
	logLevel  string
	logFormat string

	// quiet silences everything below warnings, including the echoed
	// job output of the run command.
	quiet bool
)

// version, commit, and date are set at build time via ldflags. They are
// injected from the main package to display version information.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates and configures the root cobra command. This is
// the entry point for the entire CLI application.
//
// The root command itself does not perform any action — it only
// provides help text and global flags. Actual functionality lives in
// the subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Travis-style build runner for your working copy",
		Long: `stagehand reads a .stagehand.yml (or .travis.yml) configuration and runs
its lifecycle phases — cache restore, before_install, install, script,
cache save — locally or in containers, one shell session per job.

Runs are journaled, cached directories persist across runs, and every
job's result is available as JSON, a DOT graph, and plain logs.`,

		// The CLI formats errors itself (text or JSON based on --json),
		// so cobra's automatic printing is switched off.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		// Every subcommand gets a context-scoped logger derived from
		// the global flags. --quiet wins over --log-level.
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := logLevel
			if quiet {
				level = "error"
			}
			logger := ctxlog.New(level, logFormat, cmd.ErrOrStderr())
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&workdir, "workdir", "C", ".", "Directory to operate in")
	flags.StringVarP(&configPath, "config", "c", "", "Configuration file (default: probe "+config.FileNames[0]+", …)")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text, json")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only print warnings, errors and results")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewLintCommand())
	rootCmd.AddCommand(NewGraphCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewCacheCommand())
	rootCmd.AddCommand(NewEnvCommand())
	rootCmd.AddCommand(NewCleanCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes. This is the
// main entry point called from main.go.
//
// It inspects errors returned by cobra commands and translates them
// into OS exit codes. CLIError values carry their own exit codes; other
// errors default to the general failure code.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(err.Error(), nil)
		os.Exit(int(model.ExitUsageError))
	}
}

// printError outputs an error message in the appropriate format (JSON
// or text) based on the --json global flag. Errors go to stderr either
// way; stdout is reserved for successful command output.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// IsJSONOutput returns whether the --json flag is set. Subcommands use
// this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig resolves and parses the configuration the command should
// act on: the explicit --config path when given, otherwise the first
// recognized file name found in the workdir.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		found, err := config.Find(workdir)
		if err != nil {
			return nil, err
		}
		path = found
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(workdir, path)
	}
	return config.Load(path)
}

// resolveWorkdir returns the absolute workdir, which doubles as the
// repository root for cache keys and container mounts.
func resolveWorkdir() (string, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return "", model.WrapCLIError(model.ExitUsageError, fmt.Sprintf("invalid workdir %q", workdir), err)
	}
	return abs, nil
}
