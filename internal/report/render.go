package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/adrg/xdg"
	"github.com/specialistvlad/stagegrid/internal/job"
)

// WriteText renders an aligned, human readable summary.
func (r *RunReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\tref %s\t%s\t%s\n", r.RunID, r.Ref, strings.ToUpper(r.Status.String()), r.Duration().Round(time.Millisecond))
	fmt.Fprintln(tw, "STAGE\tINSTANCE\tSTATUS\tDETAIL")
	for _, s := range r.Stages {
		for _, i := range s.Instances {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, i.ID, i.Status, i.detail(s))
		}
	}
	return tw.Flush()
}

func (i InstanceReport) detail(s StageReport) string {
	switch {
	case i.FailedStep != nil:
		d := fmt.Sprintf("step %d (%s)", *i.FailedStep+1, i.FailedStepName)
		if i.ExitCode != nil && *i.ExitCode >= 0 {
			d += fmt.Sprintf(" exited %d", *i.ExitCode)
		}
		if i.Error != "" {
			d += ": " + i.Error
		}
		return d
	case i.Reason != "":
		return i.Reason
	case i.Status == job.Skipped && s.Condition != "":
		return "condition not met: " + s.Condition
	}
	return ""
}

// WriteJSON writes the report as indented JSON.
func (r *RunReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Save writes the JSON report to path, creating parent directories.
func (r *RunReport) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	if err := r.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a JSON report written by Save.
func Load(path string) (*RunReport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r RunReport
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}

// DefaultPath returns the report location for runID under the XDG state
// directory, e.g. ~/.local/state/stagegrid/runs/<id>.json.
func DefaultPath(runID string) (string, error) {
	p, err := xdg.StateFile(filepath.Join("stagegrid", "runs", runID+".json"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve report path: %w", err)
	}
	return p, nil
}
