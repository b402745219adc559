// Package cli — clean.go implements the "stagehand clean" command.
//
// Containers started by the docker executor remove themselves when
// their session exits, but an interrupted run or a crashed daemon can
// leave them behind. The clean command finds everything carrying the
// stagehand labels and force-removes what is older than the cutoff.
package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/docker"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// olderThan only removes containers created at least this long
	// ago. Zero removes every managed container.
	olderThan time.Duration

	// list shows what would be removed without touching anything.
	list bool
}

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover job containers",
		Long: `Remove containers left behind by interrupted docker-executor runs.

Only containers carrying the stagehand labels are touched.

Examples:
  stagehand clean
  stagehand clean --older-than 1h
  stagehand clean --list`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, flags)
		},
	}

	cmd.Flags().DurationVar(&flags.olderThan, "older-than", 0, "Only remove containers at least this old")
	cmd.Flags().BoolVar(&flags.list, "list", false, "List managed containers without removing them")

	return cmd
}

// runClean is the main logic function for the clean command.
func runClean(cmd *cobra.Command, flags *cleanFlags) error {
	ctx := cmd.Context()

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	if flags.list {
		containers, err := docker.ListManaged(ctx, cli)
		if err != nil {
			return err
		}
		printContainers(cmd, containers, "No leftover containers.")
		return nil
	}

	removed, err := docker.Clean(ctx, cli, flags.olderThan, time.Now())
	if err != nil {
		return err
	}
	printContainers(cmd, removed, "Nothing to remove.")
	return nil
}

// printContainers outputs container info in text or JSON format,
// depending on the global --json flag.
func printContainers(cmd *cobra.Command, containers []docker.ContainerInfo, emptyMsg string) {
	out := cmd.OutOrStdout()

	if IsJSONOutput() {
		result := struct {
			Containers []docker.ContainerInfo `json:"containers"`
		}{Containers: containers}
		if result.Containers == nil {
			result.Containers = make([]docker.ContainerInfo, 0)
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(containers) == 0 {
		fmt.Fprintln(out, emptyMsg)
		return
	}

	fmt.Fprintf(out, "%-14s %-28s %-10s %-25s %s\n", "ID", "NAME", "STATE", "RUN", "JOB")
	for _, c := range containers {
		id := c.ID
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Fprintf(out, "%-14s %-28s %-10s %-25s %s\n", id, c.Name, c.State, dash(c.Run), dash(c.Job))
	}
}
