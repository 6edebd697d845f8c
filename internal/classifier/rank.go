package classifier

import "math"

// Prediction is one ranked class with its confidence.
type Prediction struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
}

// better reports whether a outranks b. NaN never outranks anything and every
// number outranks NaN, so NaN confidences sink to the bottom.
func better(a, b float32) bool {
	if isNaN(a) {
		return false
	}
	return isNaN(b) || a > b
}

func isNaN(v float32) bool { return math.IsNaN(float64(v)) }

// Argmax returns the index of the largest confidence. The lowest index wins
// on exact ties. It returns -1 for an empty vector.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	bestI := 0
	for i := 1; i < len(x); i++ {
		if better(x[i], x[bestI]) {
			bestI = i
		}
	}
	return bestI
}

// TopK returns the k highest-confidence classes, best first. Ties keep class
// order, so TopK(x, 1)[0].Class == Argmax(x) for non-empty x.
//
// Insertion into a k-sized window: O(len(x)*k), fine for the small k the
// harness logs.
func TopK(x []float32, k int) []Prediction {
	if k <= 0 || len(x) == 0 {
		return nil
	}
	k = min(k, len(x))
	top := make([]Prediction, 0, k+1)
	for i, v := range x {
		pos := len(top)
		for pos > 0 && better(v, top[pos-1].Confidence) {
			pos--
		}
		if pos >= k {
			continue
		}
		top = append(top, Prediction{})
		copy(top[pos+1:], top[pos:])
		top[pos] = Prediction{Class: i, Confidence: v}
		if len(top) > k {
			top = top[:k]
		}
	}
	return top
}
