package classifier

import (
	"errors"
	"fmt"
)

// Result is the verdict on a single test case.
type Result int

const (
	// Ok means the prediction passed every configured check and was counted.
	Ok Result = iota
	// Failed means the prediction was wrong in a way the run treats as an
	// error. The sweep continues.
	Failed
	// Abort means no usable output was produced. The sweep stops.
	Abort
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

func (r Result) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Result) UnmarshalText(text []byte) error {
	for _, v := range []Result{Ok, Failed, Abort} {
		if string(text) == v.String() {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("classifier: unknown result %q", text)
}

// ErrNoInferences is returned by Tally.Accuracy when nothing was counted.
var ErrNoInferences = errors.New("classifier: no inferences were counted")

// Rules are the checks applied to every prediction of a run.
type Rules struct {
	// RequireLabel fails any prediction that differs from the label. Set when
	// the run uses the dataset's default test cases.
	RequireLabel bool
	// Expected holds reference predictions indexed by test case id. Only a nil
	// slice disables the check. An empty slice, as read from a configured but
	// empty validation file, keeps it active, so every case fails: a
	// truncated reference file must not pass silently. An id past the end
	// fails the case.
	Expected []int
	// TopK is how many ranked predictions to keep on the outcome.
	TopK int
}

// Outcome is everything one test case contributes to a run.
type Outcome struct {
	ID         int          `json:"id"`
	Label      int          `json:"label"`
	Prediction int          `json:"prediction"`
	Top        []Prediction `json:"top,omitempty"`
	Result     Result       `json:"result"`
	Reason     string       `json:"reason,omitempty"`
}

// Evaluate turns one output vector into an Outcome. It is pure; the caller
// folds the result into a Tally.
func Evaluate(id, label int, output []float32, rules Rules) Outcome {
	o := Outcome{
		ID:         id,
		Label:      label,
		Prediction: Argmax(output),
		Top:        TopK(output, rules.TopK),
	}
	switch {
	case o.Prediction < 0:
		o.Result = Abort
		o.Reason = "model produced an empty output"
	case rules.RequireLabel && o.Prediction != label:
		o.Result = Failed
		o.Reason = fmt.Sprintf("prediction %d is incorrect (should be %d)", o.Prediction, label)
	case rules.Expected != nil && id >= len(rules.Expected):
		o.Result = Failed
		o.Reason = fmt.Sprintf("validation file has no entry for test case %d (%d entries)", id, len(rules.Expected))
	case rules.Expected != nil && o.Prediction != rules.Expected[id]:
		o.Result = Failed
		o.Reason = fmt.Sprintf("prediction %d doesn't match the validation file (%d)", o.Prediction, rules.Expected[id])
	default:
		o.Result = Ok
	}
	return o
}

// Tally accumulates outcomes. Only Ok outcomes are counted towards accuracy
// and recorded as predictions.
type Tally struct {
	Inferences int
	Correct    int
	Failed     int

	// Predictions holds the recorded predictions in processing order when
	// recording is enabled.
	Predictions []int
	record      bool
}

// NewTally returns an empty tally; record enables prediction recording.
func NewTally(record bool) Tally {
	t := Tally{record: record}
	if record {
		t.Predictions = []int{}
	}
	return t
}

// Fold adds one outcome.
func (t *Tally) Fold(o Outcome) {
	switch o.Result {
	case Ok:
		if t.record {
			t.Predictions = append(t.Predictions, o.Prediction)
		}
		t.Inferences++
		if o.Prediction == o.Label {
			t.Correct++
		}
	case Failed:
		t.Failed++
	}
}

// Accuracy returns Correct/Inferences.
func (t Tally) Accuracy() (float64, error) {
	if t.Inferences == 0 {
		return 0, ErrNoInferences
	}
	return float64(t.Correct) / float64(t.Inferences), nil
}
