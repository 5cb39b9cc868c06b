// The quarry CLI entrypoint. Every command except `run` is read-only.
//
// Usage:
//
//	quarry <command> [subcommand] [options]
//
// Exit codes for `run`:
//   - 0: success (run_complete)
//   - 1: script error (run_error)
//   - 2: executor crash
//   - 3: policy failure
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/quarrio/quarry/cli/cmd"
	"github.com/quarrio/quarry/types"
)

// commit is stamped via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "quarry",
		Usage:          "Quarry extraction runtime CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.InspectCommand(),
			cmd.StatsCommand(),
			cmd.ListCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand("", commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// exitErrHandler already exited for cli.ExitCoder errors;
		// anything reaching here was never wrapped.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit so the run
// command's 0/1/2/3 contract survives to the shell.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		// cli.Exit("", N).Error() stringifies to "exit status N";
		// don't echo that noise.
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
