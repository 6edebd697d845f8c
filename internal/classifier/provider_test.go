package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/qref/internal/logger"
)

const numClasses = 4

// echoModel predicts the class stored in input[0].
type echoModel struct {
	failOn int
}

func (m echoModel) Infer(_ context.Context, input []float32) ([]float32, error) {
	class := int(input[0])
	if class == m.failOn {
		return nil, errors.New("device lost")
	}
	return oneHot(numClasses, class), nil
}

type memDB struct {
	cases    map[int]*TestCase
	defaults []int
}

func (d memDB) TestCase(id int) (*TestCase, error) {
	tc, ok := d.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTestCaseNotFound, id)
	}
	return tc, nil
}

func (d memDB) DefaultIDs() []int { return d.defaults }

// newDB builds n cases labelled 0; the first `correct` predict 0, the rest 1.
func newDB(n, correct int, defaults ...int) memDB {
	db := memDB{cases: make(map[int]*TestCase, n), defaults: defaults}
	for i := range n {
		pred := float32(1)
		if i < correct {
			pred = 0
		}
		db.cases[i] = &TestCase{ID: i, Label: 0, Input: []float32{pred}}
	}
	return db
}

func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := logger.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger.WithContext(context.Background(), log), &buf
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no data dir", Config{}},
		{"missing data dir", Config{DataDir: filepath.Join(dir, "nope")}},
		{"data dir is a file", Config{DataDir: file}},
		{"negative iterations", Config{DataDir: dir, Iterations: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg, echoModel{failOn: -1}, newDB(1, 1))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(Config{DataDir: dir}, nil, newDB(1, 1))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{DataDir: dir, ValidationFileIn: filepath.Join(dir, "missing.txt")}, echoModel{failOn: -1}, newDB(1, 1))
	var fe *FileError
	require.ErrorAs(t, err, &fe)
}

func TestRunIterationsAccuracy(t *testing.T) {
	t.Parallel()
	ctx, logs := testContext(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "predictions.txt")

	p, err := New(Config{DataDir: dir, Iterations: 10, ValidationFileOut: out}, echoModel{failOn: -1}, newDB(10, 7))
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, p.Config().TopK)

	s, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, s.Success())
	assert.Len(t, s.Outcomes, 10)

	acc, err := s.Tally.Accuracy()
	require.NoError(t, err)
	assert.Equal(t, 0.7, acc)

	require.NoError(t, p.Finish(ctx, s))
	assert.Contains(t, logs.String(), "Overall accuracy: 0.700")
	assert.Contains(t, logs.String(), "Top(1) prediction is 0 with confidence: 100%")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "0\n0\n0\n0\n0\n0\n0\n1\n1\n1\n", string(data))
}

func TestRunDefaultIDsRequireLabels(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	dir := t.TempDir()

	// Cases 0-2 are correct, 8 is wrong.
	p, err := New(Config{DataDir: dir}, echoModel{failOn: -1}, newDB(10, 3, 8, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{8, 0, 2}, p.TestCaseIDs())

	s, err := p.Run(ctx)
	require.NoError(t, err)
	assert.False(t, s.Success())
	assert.Equal(t, 1, s.Tally.Failed)
	assert.Equal(t, 2, s.Tally.Inferences, "failures do not stop the sweep and are not counted")
	assert.Equal(t, Failed, s.Outcomes[0].Result)
}

func TestValidationFileRoundTripThroughRuns(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.txt")
	db := newDB(6, 4)

	first, err := New(Config{DataDir: dir, Iterations: 6, ValidationFileOut: ref}, echoModel{failOn: -1}, db)
	require.NoError(t, err)
	s, err := first.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Finish(ctx, s))

	second, err := New(Config{DataDir: dir, Iterations: 6, ValidationFileIn: ref}, echoModel{failOn: -1}, db)
	require.NoError(t, err)
	s, err = second.Run(ctx)
	require.NoError(t, err)
	assert.True(t, s.Success())

	// Flip one case: the reference no longer agrees.
	db.cases[5].Input = []float32{3}
	s, err = second.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Tally.Failed)
	assert.Equal(t, Failed, s.Outcomes[5].Result)
}

func TestEmptyValidationFileFailsEveryCase(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	dir := t.TempDir()
	ref := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(ref, nil, 0o644))

	p, err := New(Config{DataDir: dir, Iterations: 3, ValidationFileIn: ref}, echoModel{failOn: -1}, newDB(3, 3))
	require.NoError(t, err)
	require.NotNil(t, p.Rules().Expected)

	s, err := p.Run(ctx)
	require.NoError(t, err)
	assert.False(t, s.Success())
	assert.Equal(t, 3, s.Tally.Failed)
	assert.Zero(t, s.Tally.Inferences)
	require.ErrorIs(t, p.Finish(ctx, s), ErrNoInferences)
}

func TestRunAbortStopsSweep(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	db := newDB(5, 5)
	db.cases[2].Input = []float32{3}

	p, err := New(Config{DataDir: t.TempDir(), Iterations: 5}, echoModel{failOn: 3}, db)
	require.NoError(t, err)
	s, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, s.Aborted)
	assert.False(t, s.Success())
	assert.Len(t, s.Outcomes, 3)
	assert.Equal(t, Abort, s.Outcomes[2].Result)
	assert.Equal(t, 2, s.Tally.Inferences)
}

func TestRunMissingTestCase(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	p, err := New(Config{DataDir: t.TempDir(), Iterations: 4}, echoModel{failOn: -1}, newDB(2, 2))
	require.NoError(t, err)
	s, err := p.Run(ctx)
	require.ErrorIs(t, err, ErrTestCaseNotFound)
	assert.Len(t, s.Outcomes, 2)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	p, err := New(Config{DataDir: t.TempDir(), Iterations: 2}, echoModel{failOn: -1}, newDB(2, 2))
	require.NoError(t, err)
	_, err = p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFinishWithoutInferences(t *testing.T) {
	t.Parallel()
	ctx, logs := testContext(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	p, err := New(Config{DataDir: dir, ValidationFileOut: out}, echoModel{failOn: -1}, newDB(0, 0))
	require.NoError(t, err)
	s, err := p.Run(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, p.Finish(ctx, s), ErrNoInferences)
	assert.Contains(t, logs.String(), "overall accuracy is undefined")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFinishUnwritableOutput(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	dir := t.TempDir()

	p, err := New(Config{DataDir: dir, Iterations: 1, ValidationFileOut: filepath.Join(dir, "no", "such", "dir.txt")}, echoModel{failOn: -1}, newDB(1, 1))
	require.NoError(t, err)
	s, err := p.Run(ctx)
	require.NoError(t, err)

	var fe *FileError
	require.ErrorAs(t, p.Finish(ctx, s), &fe)
}

func TestReportJSON(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	dir := t.TempDir()

	p, err := New(Config{DataDir: dir, Iterations: 4, TopK: 2}, echoModel{failOn: -1}, newDB(4, 3))
	require.NoError(t, err)
	s, err := p.Run(ctx)
	require.NoError(t, err)

	path := filepath.Join(dir, "report.json")
	require.NoError(t, p.NewReport(s).WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got struct {
		RunID      string   `json:"run_id"`
		Inferences int      `json:"inferences"`
		Accuracy   *float64 `json:"accuracy"`
		Success    bool     `json:"success"`
		Cases      []struct {
			ID     int    `json:"id"`
			Result string `json:"result"`
			Top    []struct {
				Class int `json:"class"`
			} `json:"top"`
		} `json:"cases"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, s.RunID.String(), got.RunID)
	assert.Equal(t, 4, got.Inferences)
	require.NotNil(t, got.Accuracy)
	assert.InDelta(t, 0.75, *got.Accuracy, 1e-12)
	assert.True(t, got.Success)
	require.Len(t, got.Cases, 4)
	assert.Equal(t, "ok", got.Cases[3].Result)
	assert.Len(t, got.Cases[3].Top, 2)

	empty := p.NewReport(Summary{})
	assert.Nil(t, empty.Accuracy)
	assert.NotNil(t, empty.Cases)
}
