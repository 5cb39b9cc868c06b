package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/quarrio/quarry/metrics"
	"github.com/quarrio/quarry/types"
)

// RunReport is the structured JSON report written by --report. The
// json tags are the documented report contract.
type RunReport struct {
	RunID      string              `json:"run_id"`
	JobID      string              `json:"job_id,omitempty"`
	Attempt    int                 `json:"attempt"`
	Outcome    types.OutcomeStatus `json:"outcome"`
	Message    string              `json:"message"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`
	EventCount int64               `json:"event_count"`

	Policy    *ReportPolicy     `json:"policy"`
	Artifacts *ReportArtifacts  `json:"artifacts"`
	Metrics   *metrics.Snapshot `json:"metrics"`

	// TerminalSummary is a pointer so an empty summary still renders
	// as {} while a missing terminal omits the key entirely.
	TerminalSummary *map[string]any              `json:"terminal_summary,omitempty"`
	ProxyUsed       *types.ProxyEndpointRedacted `json:"proxy_used,omitempty"`
	Stderr          string                       `json:"stderr,omitempty"`
}

// ReportPolicy is the policy section of the report.
type ReportPolicy struct {
	Name            string           `json:"name"`
	EventsReceived  int64            `json:"events_received"`
	EventsPersisted int64            `json:"events_persisted"`
	EventsDropped   int64            `json:"events_dropped"`
	FlushTriggers   map[string]int64 `json:"flush_triggers,omitempty"`
}

// ReportArtifacts is the artifact section of the report.
type ReportArtifacts struct {
	Total     int64 `json:"total"`
	Committed int64 `json:"committed"`
	Orphaned  int64 `json:"orphaned"`
	Chunks    int64 `json:"chunks"`
	Bytes     int64 `json:"bytes"`
}

// BuildRunReport assembles the report from a finished run's result,
// its metrics snapshot, the policy name, and the process exit code
// about to be returned.
func BuildRunReport(result *RunResult, snap metrics.Snapshot, policyName string, exitCode int) *RunReport {
	report := &RunReport{
		RunID:      result.RunMeta.RunID,
		Attempt:    result.RunMeta.Attempt,
		Outcome:    result.Outcome.Status,
		Message:    result.Outcome.Message,
		ExitCode:   exitCode,
		DurationMs: result.Duration.Milliseconds(),
		EventCount: result.EventCount,
		Policy: &ReportPolicy{
			Name:            policyName,
			EventsReceived:  result.PolicyStats.TotalEvents,
			EventsPersisted: result.PolicyStats.EventsPersisted,
			EventsDropped:   result.PolicyStats.EventsDropped,
			FlushTriggers:   result.PolicyStats.FlushTriggers,
		},
		Artifacts: &ReportArtifacts{
			Total:     result.ArtifactStats.TotalArtifacts,
			Committed: result.ArtifactStats.CommittedArtifacts,
			Orphaned:  result.ArtifactStats.OrphanedArtifacts,
			Chunks:    result.ArtifactStats.TotalChunks,
			Bytes:     result.ArtifactStats.TotalBytes,
		},
		Metrics:   &snap,
		ProxyUsed: result.ProxyUsed,
		Stderr:    result.StderrOutput,
	}
	if result.TerminalSummary != nil {
		report.TerminalSummary = &result.TerminalSummary
	}
	if result.RunMeta.JobID != nil {
		report.JobID = *result.RunMeta.JobID
	}
	return report
}

// WriteRunReport writes the report as JSON to path; "-" targets
// stderr so the report never corrupts a stdout pipeline.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := writeRunReportTo(report, f); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo renders the report to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
