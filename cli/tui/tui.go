package tui

import (
	"fmt"
	"strings"
)

// Run launches the TUI for a view type, routing inspect_* and stats_*
// views to their respective programs.
func Run(viewType string, data any) error {
	switch {
	case strings.HasPrefix(viewType, "inspect_"):
		return RunInspectTUI(viewType, data)
	case strings.HasPrefix(viewType, "stats_"):
		return RunStatsTUI(viewType, data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// IsTUISupported reports whether a view type has a TUI. Only the
// read-only inspect and stats views do.
func IsTUISupported(viewType string) bool {
	return strings.HasPrefix(viewType, "inspect_") || strings.HasPrefix(viewType, "stats_")
}

// SupportedTUIViews enumerates the view types with a TUI.
func SupportedTUIViews() []string {
	return []string{
		"inspect_run",
		"inspect_job",
		"inspect_task",
		"inspect_proxy",
		"inspect_executor",
		"stats_runs",
		"stats_jobs",
		"stats_tasks",
		"stats_proxies",
		"stats_executors",
	}
}
