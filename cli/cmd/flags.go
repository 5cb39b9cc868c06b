// Package cmd provides the CLI commands for the quarry binary.
package cmd

import "github.com/urfave/cli/v2"

// Flags shared by every read-only command.
var (
	// FormatFlag selects json, table, or yaml output.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag is accepted by every read-only command; rendered
	// output carries no color codes with or without it.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag opts into the interactive Bubble Tea views.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ReadOnlyFlags returns the shared flag set for read-only commands.
// --tui is included even on commands that reject it, so the rejection
// is a clear message instead of a generic "flag not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag, TUIFlag}
}

// TUIReadOnlyFlags names the flag set for commands that actually
// honor --tui; it is the same set, kept for call-site clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}
