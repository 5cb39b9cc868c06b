package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

// The parity artifact (docs/CLI_PARITY.json) is the documented flag
// surface; these tests keep the binary and the document from
// drifting apart in either direction.

type parityArtifact struct {
	Version     string                   `json:"version"`
	Description string                   `json:"description"`
	Commands    map[string]parityCommand `json:"commands"`
}

type parityCommand struct {
	Description string                      `json:"description"`
	Flags       map[string]parityFlag       `json:"flags,omitempty"`
	Subcommands map[string]paritySubcommand `json:"subcommands,omitempty"`
}

type paritySubcommand struct {
	Flags map[string]parityFlag `json:"flags"`
}

type parityFlag struct {
	Type          string   `json:"type"`
	Aliases       []string `json:"aliases,omitempty"`
	Required      bool     `json:"required"`
	Default       any      `json:"default,omitempty"`
	Description   string   `json:"description"`
	Validation    string   `json:"validation,omitempty"`
	ExclusiveWith []string `json:"exclusiveWith,omitempty"`
	DependsOn     []string `json:"dependsOn,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

func loadParityArtifact(t *testing.T) *parityArtifact {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("could not determine test file location")
	}

	// Walk up from cli/cmd until docs/CLI_PARITY.json appears.
	dir := filepath.Dir(filename)
	for range 5 {
		candidate := filepath.Join(dir, "docs", "CLI_PARITY.json")
		if _, err := os.Stat(candidate); err == nil {
			data, err := os.ReadFile(candidate)
			if err != nil {
				t.Fatalf("read parity artifact: %v", err)
			}
			var artifact parityArtifact
			if err := json.Unmarshal(data, &artifact); err != nil {
				t.Fatalf("parse parity artifact: %v", err)
			}
			return &artifact
		}
		dir = filepath.Dir(dir)
	}

	t.Fatal("docs/CLI_PARITY.json not found above cli/cmd")
	return nil
}

func flagsByName(cmd *cli.Command) map[string]cli.Flag {
	flags := make(map[string]cli.Flag)
	for _, f := range cmd.Flags {
		if names := f.Names(); len(names) > 0 {
			flags[names[0]] = f
		}
	}
	return flags
}

// diffFlagSets reports flags present on one side but not the other.
func diffFlagSets(t *testing.T, label string, actual map[string]cli.Flag, documented map[string]parityFlag) {
	t.Helper()
	for name := range documented {
		if _, exists := actual[name]; !exists {
			t.Errorf("%s: artifact declares --%s but the CLI does not define it", label, name)
		}
	}
	for name := range actual {
		if _, exists := documented[name]; !exists {
			t.Errorf("%s: CLI defines --%s but the artifact does not document it", label, name)
		}
	}
}

func TestParityRunCommand(t *testing.T) {
	artifact := loadParityArtifact(t)
	documented, ok := artifact.Commands["run"]
	if !ok {
		t.Fatal("artifact missing the run command")
	}

	actual := flagsByName(RunCommand())
	diffFlagSets(t, "run", actual, documented.Flags)

	for name, doc := range documented.Flags {
		flag, exists := actual[name]
		if !exists {
			continue
		}
		if got := flagTypeName(flag); got != doc.Type {
			t.Errorf("--%s: artifact type %q, actual %q", name, doc.Type, got)
		}
		if got := flagIsRequired(flag); got != doc.Required {
			t.Errorf("--%s: artifact required=%v, actual %v", name, doc.Required, got)
		}
	}
}

func TestParityListCommand(t *testing.T) {
	artifact := loadParityArtifact(t)
	documented, ok := artifact.Commands["list"]
	if !ok {
		t.Fatal("artifact missing the list command")
	}

	for _, sub := range ListCommand().Subcommands {
		docSub, ok := documented.Subcommands[sub.Name]
		if !ok {
			t.Errorf("CLI defines 'list %s' but the artifact does not", sub.Name)
			continue
		}
		diffFlagSets(t, "list "+sub.Name, flagsByName(sub), docSub.Flags)
	}
}

func TestParityDebugCommand(t *testing.T) {
	artifact := loadParityArtifact(t)
	documented, ok := artifact.Commands["debug"]
	if !ok {
		t.Fatal("artifact missing the debug command")
	}

	// Flatten one level of nesting into "resolve proxy"-style paths.
	var walk func(prefix string, cmds []*cli.Command)
	walk = func(prefix string, cmds []*cli.Command) {
		for _, sub := range cmds {
			path := sub.Name
			if prefix != "" {
				path = prefix + " " + sub.Name
			}
			if len(sub.Subcommands) > 0 {
				walk(path, sub.Subcommands)
				continue
			}
			docSub, ok := documented.Subcommands[path]
			if !ok {
				t.Errorf("CLI defines 'debug %s' but the artifact does not", path)
				continue
			}
			diffFlagSets(t, "debug "+path, flagsByName(sub), docSub.Flags)
		}
	}
	walk("", DebugCommand().Subcommands)
}

// The job payload contract: --job and --job-json both demand a JSON
// object and exclude each other.
func TestParityJobPayloadContract(t *testing.T) {
	artifact := loadParityArtifact(t)
	documented, ok := artifact.Commands["run"]
	if !ok {
		t.Fatal("artifact missing the run command")
	}

	job, ok := documented.Flags["job"]
	if !ok {
		t.Fatal("artifact missing the job flag")
	}
	if !strings.Contains(strings.ToLower(job.Validation), "object") {
		t.Error("--job validation does not mention the object requirement")
	}
	if len(job.ExclusiveWith) == 0 || job.ExclusiveWith[0] != "job-json" {
		t.Error("--job is not documented as exclusive with --job-json")
	}

	jobJSON, ok := documented.Flags["job-json"]
	if !ok {
		t.Fatal("artifact missing the job-json flag")
	}
	if !strings.Contains(strings.ToLower(jobJSON.Validation), "object") {
		t.Error("--job-json validation does not mention the object requirement")
	}
	if len(jobJSON.ExclusiveWith) == 0 || jobJSON.ExclusiveWith[0] != "job" {
		t.Error("--job-json is not documented as exclusive with --job")
	}
}

func flagTypeName(f cli.Flag) string {
	switch f.(type) {
	case *cli.StringFlag:
		return "string"
	case *cli.StringSliceFlag:
		return "stringSlice"
	case *cli.IntFlag:
		return "int"
	case *cli.Int64Flag:
		return "int64"
	case *cli.BoolFlag:
		return "bool"
	case *cli.Float64Flag:
		return "float64"
	case *cli.DurationFlag:
		return "duration"
	default:
		return "unknown"
	}
}

func flagIsRequired(f cli.Flag) bool {
	switch tf := f.(type) {
	case *cli.StringFlag:
		return tf.Required
	case *cli.StringSliceFlag:
		return tf.Required
	case *cli.IntFlag:
		return tf.Required
	case *cli.Int64Flag:
		return tf.Required
	case *cli.BoolFlag:
		return tf.Required
	default:
		return false
	}
}
