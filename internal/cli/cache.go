// Package cli — cache.go implements the "stagehand cache" command.
//
// The cache command manages the per-user archive store the run command
// restores from and saves to: list shows what is cached for whom,
// prune drops archives that have not been used recently, and clear
// empties the store.
package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/cache"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// NewCacheCommand creates the "cache" cobra command and its
// subcommands.
func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached directories",
		Long: `Manage the archive store used by the cache phases.

Examples:
  stagehand cache list
  stagehand cache prune --max-age 336h
  stagehand cache clear`,
	}

	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCachePruneCommand())
	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

// openCache opens the per-user cache store. Shared with the run
// command.
func openCache() (*cache.Manager, error) {
	dir, err := cache.DefaultDir()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitCacheError, "could not locate cache directory", err)
	}
	mgr, err := cache.Open(dir)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitCacheError, "could not open cache", err)
	}
	return mgr, nil
}

func newCacheListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached directory archives",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openCache()
			if err != nil {
				return err
			}
			defer mgr.Close()

			entries, err := mgr.List()
			if err != nil {
				return model.WrapCLIError(model.ExitCacheError, "could not read cache index", err)
			}

			printCacheList(cmd, entries)
			return nil
		},
	}
}

func newCachePruneCommand() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop archives not used within --max-age",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openCache()
			if err != nil {
				return err
			}
			defer mgr.Close()

			removed, err := mgr.Prune(maxAge, time.Now())
			if err != nil {
				return model.WrapCLIError(model.ExitCacheError, "could not prune cache", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d archive(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 14*24*time.Hour, "Drop archives unused for this long")

	return cmd
}

func newCacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached archive",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openCache()
			if err != nil {
				return err
			}
			defer mgr.Close()

			removed, err := mgr.Clear()
			if err != nil {
				return model.WrapCLIError(model.ExitCacheError, "could not clear cache", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d archive(s)\n", removed)
			return nil
		},
	}
}

// printCacheList outputs the cache entries in text or JSON format,
// depending on the global --json flag.
func printCacheList(cmd *cobra.Command, entries []cache.Entry) {
	out := cmd.OutOrStdout()

	if IsJSONOutput() {
		result := struct {
			Entries []cache.Entry `json:"entries"`
		}{Entries: entries}
		if result.Entries == nil {
			result.Entries = make([]cache.Entry, 0)
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "Cache is empty.")
		return
	}

	fmt.Fprintf(out, "%-18s %-20s %-28s %-9s %-5s %s\n",
		"KEY", "JOB", "DIR", "SIZE", "HITS", "LAST USED")
	for _, e := range entries {
		fmt.Fprintf(out, "%-18s %-20s %-28s %-9s %-5d %s\n",
			e.Key,
			e.Job,
			e.Dir,
			formatSize(e.Size),
			e.Hits,
			e.LastUsedAt.Format("2006-01-02 15:04"),
		)
	}
}

// formatSize renders byte counts the way `docker images` does: two
// significant decimals and a binary unit.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}
