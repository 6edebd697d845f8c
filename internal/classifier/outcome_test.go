package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneHot(n, class int) []float32 {
	out := make([]float32, n)
	out[class] = 1
	return out
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		id     int
		label  int
		output []float32
		rules  Rules
		want   Result
	}{
		{"correct default case", 0, 2, oneHot(4, 2), Rules{RequireLabel: true}, Ok},
		{"wrong default case", 0, 1, oneHot(4, 2), Rules{RequireLabel: true}, Failed},
		{"wrong without label rule", 0, 1, oneHot(4, 2), Rules{}, Ok},
		{"matches validation", 1, 0, oneHot(4, 3), Rules{Expected: []int{0, 3}}, Ok},
		{"contradicts validation", 1, 3, oneHot(4, 3), Rules{Expected: []int{0, 2}}, Failed},
		{"past end of validation", 2, 3, oneHot(4, 3), Rules{Expected: []int{0, 3}}, Failed},
		{"empty validation is active", 0, 3, oneHot(4, 3), Rules{Expected: []int{}}, Failed},
		{"empty output", 0, 0, nil, Rules{}, Abort},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := Evaluate(tc.id, tc.label, tc.output, tc.rules)
			assert.Equal(t, tc.want, o.Result)
			if tc.want != Ok {
				assert.NotEmpty(t, o.Reason)
			}
		})
	}
}

func TestEvaluateKeepsTopK(t *testing.T) {
	t.Parallel()
	o := Evaluate(7, 1, []float32{0.1, 0.6, 0.3}, Rules{TopK: 2})
	assert.Equal(t, 1, o.Prediction)
	assert.Equal(t, []Prediction{{1, 0.6}, {2, 0.3}}, o.Top)
}

func TestAccuracySevenOfTen(t *testing.T) {
	t.Parallel()

	tally := NewTally(false)
	for i := range 10 {
		pred := 1
		if i < 7 {
			pred = 0
		}
		tally.Fold(Outcome{ID: i, Label: 0, Prediction: pred, Result: Ok})
	}
	acc, err := tally.Accuracy()
	require.NoError(t, err)
	assert.Equal(t, 0.7, acc)
	assert.Equal(t, 10, tally.Inferences)
	assert.Equal(t, 7, tally.Correct)
	assert.Nil(t, tally.Predictions)
}

func TestTallyCountsOnlyOk(t *testing.T) {
	t.Parallel()

	tally := NewTally(true)
	tally.Fold(Outcome{ID: 0, Label: 2, Prediction: 2, Result: Ok})
	tally.Fold(Outcome{ID: 1, Label: 2, Prediction: 1, Result: Failed})
	tally.Fold(Outcome{ID: 2, Label: 0, Prediction: -1, Result: Abort})
	tally.Fold(Outcome{ID: 3, Label: 2, Prediction: 0, Result: Ok})

	assert.Equal(t, 2, tally.Inferences)
	assert.Equal(t, 1, tally.Correct)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, []int{2, 0}, tally.Predictions)
}

func TestAccuracyWithoutInferences(t *testing.T) {
	t.Parallel()
	_, err := NewTally(false).Accuracy()
	require.ErrorIs(t, err, ErrNoInferences)
}

func TestResultString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "Result(9)", Result(9).String())
}

func TestResultText(t *testing.T) {
	t.Parallel()
	for _, want := range []Result{Ok, Failed, Abort} {
		text, err := want.MarshalText()
		require.NoError(t, err)
		var got Result
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, want, got)
	}
	var r Result
	require.Error(t, r.UnmarshalText([]byte("maybe")))
}
