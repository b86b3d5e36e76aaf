package classifier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbabilities_PassthroughWhenNormalized(t *testing.T) {
	out := []float32{0.91, 0.06, 0.03}
	probs := probabilities(out)
	require.Equal(t, out, probs)
}

func TestProbabilities_SoftmaxOnLogits(t *testing.T) {
	logits := []float32{2.0, 1.0, -3.0}
	probs := probabilities(logits)

	var sum float64
	for _, p := range probs {
		require.GreaterOrEqual(t, p, float32(0))
		require.LessOrEqual(t, p, float32(1))
		sum += float64(p)
	}
	require.InDelta(t, 1.0, sum, 1e-5)

	// Argmax must be preserved.
	maxIdx := 0
	for i, p := range probs {
		if p > probs[maxIdx] {
			maxIdx = i
		}
	}
	require.Equal(t, 0, maxIdx)
}

func TestProbabilities_LargeLogitsStable(t *testing.T) {
	probs := probabilities([]float32{1000, 999, 998})
	for _, p := range probs {
		require.False(t, math.IsNaN(float64(p)))
		require.False(t, math.IsInf(float64(p), 0))
	}
}
