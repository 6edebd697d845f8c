package classifier

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// Report is the machine-readable record of a run.
type Report struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Elapsed  string    `json:"elapsed"`
	DataDir  string    `json:"data_dir"`
	ModelDir string    `json:"model_dir,omitempty"`

	Iterations int `json:"iterations"`
	Inferences int `json:"inferences"`
	Correct    int `json:"correct"`
	Failed     int `json:"failed"`
	// Accuracy is null when no inference was counted.
	Accuracy *float64 `json:"accuracy"`
	Aborted  bool     `json:"aborted"`
	Success  bool     `json:"success"`

	Cases []Outcome `json:"cases"`
}

// NewReport builds a Report from a finished sweep.
func (p *Provider) NewReport(s Summary) Report {
	r := Report{
		RunID:      s.RunID.String(),
		Started:    s.Started,
		Elapsed:    s.Elapsed.String(),
		DataDir:    p.cfg.DataDir,
		ModelDir:   p.cfg.ModelDir,
		Iterations: p.cfg.Iterations,
		Inferences: s.Tally.Inferences,
		Correct:    s.Tally.Correct,
		Failed:     s.Tally.Failed,
		Aborted:    s.Aborted,
		Success:    s.Success(),
		Cases:      s.Outcomes,
	}
	if r.Cases == nil {
		r.Cases = []Outcome{}
	}
	if acc, err := s.Tally.Accuracy(); err == nil {
		r.Accuracy = &acc
	}
	return r
}

// WriteFile writes the report as indented JSON.
func (r Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
