// Package classifier evaluates an image classifier over a test-case database:
// it ranks each output vector, checks the top-1 prediction against the label
// and an optional validation file, and reports running accuracy.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/qref/internal/logger"
)

// DefaultTopK is how many ranked predictions are logged per test case.
const DefaultTopK = 5

var (
	ErrTestCaseNotFound = errors.New("classifier: test case not found")
	ErrInvalidConfig    = errors.New("classifier: invalid config")
)

// TestCase is one labelled input.
type TestCase struct {
	ID    int
	Label int
	Input []float32
}

// Model produces one confidence per class for an input image.
type Model interface {
	Infer(ctx context.Context, input []float32) ([]float32, error)
}

// Database serves labelled test cases. TestCase returns an error wrapping
// ErrTestCaseNotFound for unknown ids.
type Database interface {
	TestCase(id int) (*TestCase, error)
	DefaultIDs() []int
}

// Config drives a run. It carries no behaviour; New turns it into a Provider.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	ModelDir string `yaml:"model_dir"`

	// ValidationFileIn, when set, holds reference predictions every test case
	// must reproduce.
	ValidationFileIn string `yaml:"validation_file_in"`
	// ValidationFileOut, when set, receives the predictions of this run.
	ValidationFileOut string `yaml:"validation_file_out"`

	// Iterations selects test cases 0..Iterations-1. Zero runs the database's
	// default ids and requires every prediction to match its label.
	Iterations int `yaml:"iterations"`

	// TopK is how many ranked predictions to log; zero means DefaultTopK.
	TopK int `yaml:"top_k"`
}

// Validate checks the config against the filesystem.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrInvalidConfig)
	}
	if err := validateDirectory(c.DataDir); err != nil {
		return err
	}
	if c.Iterations < 0 {
		return fmt.Errorf("%w: iterations must be >= 0, got %d", ErrInvalidConfig, c.Iterations)
	}
	if c.TopK < 0 {
		return fmt.Errorf("%w: top-k must be >= 0, got %d", ErrInvalidConfig, c.TopK)
	}
	return nil
}

func validateDirectory(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidConfig, dir)
	}
	return nil
}

// Provider runs test cases from a Database through a Model.
type Provider struct {
	cfg      Config
	model    Model
	db       Database
	expected []int
}

// New validates cfg and loads the input validation file, if any.
func New(cfg Config, model Model, db Database) (*Provider, error) {
	if model == nil || db == nil {
		return nil, fmt.Errorf("%w: model and database are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	p := &Provider{cfg: cfg, model: model, db: db}
	if cfg.ValidationFileIn != "" {
		preds, err := ReadPredictions(cfg.ValidationFileIn)
		if err != nil {
			return nil, err
		}
		p.expected = preds
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Provider) Config() Config { return p.cfg }

// Rules returns the checks applied to each prediction.
func (p *Provider) Rules() Rules {
	return Rules{
		RequireLabel: p.cfg.Iterations == 0,
		Expected:     p.expected,
		TopK:         p.cfg.TopK,
	}
}

// TestCaseIDs returns the ids a run visits, in order.
func (p *Provider) TestCaseIDs() []int {
	if p.cfg.Iterations == 0 {
		return p.db.DefaultIDs()
	}
	ids := make([]int, p.cfg.Iterations)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// Process runs a single test case and logs its ranked predictions.
func (p *Provider) Process(ctx context.Context, tc *TestCase) Outcome {
	log := logger.FromContext(ctx)

	output, err := p.model.Infer(ctx, tc.Input)
	if err != nil {
		log.Error("inference failed", "test_case", tc.ID, "error", err)
		return Outcome{ID: tc.ID, Label: tc.Label, Prediction: -1, Result: Abort, Reason: err.Error()}
	}

	o := Evaluate(tc.ID, tc.Label, output, p.Rules())
	log.Info(fmt.Sprintf("= Prediction values for test #%d", tc.ID))
	for i, pr := range o.Top {
		log.Info(fmt.Sprintf("Top(%d) prediction is %d with confidence: %g%%", i+1, pr.Class, 100*float64(pr.Confidence)))
	}
	if o.Result != Ok {
		log.Error("test case "+o.Result.String(), "test_case", tc.ID, "reason", o.Reason)
	}
	return o
}

// Summary is the state of a finished sweep.
type Summary struct {
	RunID    uuid.UUID
	Started  time.Time
	Elapsed  time.Duration
	Tally    Tally
	Outcomes []Outcome
	Aborted  bool
}

// Success reports whether every visited test case passed.
func (s Summary) Success() bool {
	return !s.Aborted && s.Tally.Failed == 0
}

// Run visits every selected test case in order. A missing test case or a
// cancelled context ends the sweep with an error; an Abort outcome ends it
// with Summary.Aborted set. Failed outcomes do not stop the sweep.
func (p *Provider) Run(ctx context.Context) (Summary, error) {
	log := logger.FromContext(ctx)
	s := Summary{
		RunID:   uuid.New(),
		Started: time.Now(),
		Tally:   NewTally(p.cfg.ValidationFileOut != ""),
	}

	ids := p.TestCaseIDs()
	log.Info("running test cases", "run_id", s.RunID, "count", len(ids))

	var inferTime time.Duration
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.Elapsed = time.Since(s.Started)
			return s, err
		}
		tc, err := p.db.TestCase(id)
		if err != nil {
			log.Error("failed to load test case", "test_case", id, "error", err)
			s.Elapsed = time.Since(s.Started)
			return s, fmt.Errorf("test case %d: %w", id, err)
		}

		start := time.Now()
		o := p.Process(ctx, tc)
		inferTime += time.Since(start)

		s.Tally.Fold(o)
		s.Outcomes = append(s.Outcomes, o)
		if o.Result == Abort {
			s.Aborted = true
			break
		}
	}
	s.Elapsed = time.Since(s.Started)

	if n := len(s.Outcomes); n > 0 && inferTime > 0 {
		log.Info("inference timing",
			"total", inferTime,
			"per_inference", inferTime/time.Duration(n),
			"inferences_per_sec", float64(n)/inferTime.Seconds())
	}
	return s, nil
}

// Finish logs the overall accuracy and writes the output validation file. It
// returns ErrNoInferences when nothing was counted, after still writing the
// (empty) validation file.
func (p *Provider) Finish(ctx context.Context, s Summary) error {
	log := logger.FromContext(ctx)

	acc, accErr := s.Tally.Accuracy()
	if accErr != nil {
		log.Error("overall accuracy is undefined", "error", accErr)
	} else {
		log.Info(fmt.Sprintf("Overall accuracy: %.3f", acc))
	}

	if p.cfg.ValidationFileOut != "" {
		if err := WritePredictions(p.cfg.ValidationFileOut, s.Tally.Predictions); err != nil {
			log.Error("failed to write output validation file", "path", p.cfg.ValidationFileOut, "error", err)
			return err
		}
	}
	return accErr
}
