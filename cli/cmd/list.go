package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/quarrio/quarry/cli/reader"
	"github.com/quarrio/quarry/cli/render"
)

// listWarningThreshold is the result count above which list runs
// suggests --limit.
const listWarningThreshold = 100

func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command tree. List rows are thin
// slices; inspect carries the detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (runs, jobs, pools, executors)",
		Subcommands: []*cli.Command{
			listRunsCommand(),
			{
				Name:   "jobs",
				Usage:  "List jobs",
				Flags:  ReadOnlyFlags(),
				Action: listAction(func() any { return reader.ListJobs() }),
			},
			{
				Name:   "pools",
				Usage:  "List proxy pools",
				Flags:  ReadOnlyFlags(),
				Action: listAction(func() any { return reader.ListPools() }),
			},
			{
				Name:   "executors",
				Usage:  "List executors",
				Flags:  ReadOnlyFlags(),
				Action: listAction(func() any { return reader.ListExecutors() }),
			},
		},
	}
}

// listAction wraps the common render-and-reject-tui boilerplate
// around a fetch function.
func listAction(fetch func() any) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for list commands", 1)
		}
		return r.Render(fetch())
	}
}

func listRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List runs",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: running, failed, succeeded",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to return (0 = no limit)",
			},
		),
		Action: listRunsAction,
	}
}

func listRunsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	opts := reader.ListRunsOptions{
		State: c.String("state"),
		Limit: c.Int("limit"),
	}
	results := reader.ListRuns(opts)

	// Nudge toward --limit on large interactive output; stay quiet in
	// pipelines.
	if len(results) > listWarningThreshold && opts.Limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
	}

	return r.Render(results)
}
