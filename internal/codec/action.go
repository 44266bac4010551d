package codec

import "math"

// allocationFloor keeps log-weights finite for zero allocations
const allocationFloor = 1e-12

// DecodeAction turns a policy action into an allocation over n assets.
// Only the first n components are read; the rest are never weights.
// The result is always a simplex of length n: NaN components get no weight,
// +Inf components share the whole allocation, and an action with no finite
// maximum falls back to uniform weights.
func DecodeAction(action []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}

	vals := make([]float64, n)
	posInf := 0
	for i := range vals {
		if i < len(action) {
			vals[i] = action[i]
		}
		switch {
		case math.IsNaN(vals[i]):
			vals[i] = math.Inf(-1)
		case math.IsInf(vals[i], 1):
			posInf++
		}
	}

	alloc := make([]float64, n)
	if posInf > 0 {
		for i, v := range vals {
			if math.IsInf(v, 1) {
				alloc[i] = 1 / float64(posInf)
			}
		}
		return alloc
	}

	maxVal := math.Inf(-1)
	for _, v := range vals {
		maxVal = math.Max(maxVal, v)
	}
	if math.IsInf(maxVal, -1) {
		return Uniform(n)
	}

	// 안정적 softmax: 최댓값을 빼서 overflow 방지, 합은 항상 >= 1
	sum := 0.0
	for i, v := range vals {
		alloc[i] = math.Exp(v - maxVal)
		sum += alloc[i]
	}
	for i := range alloc {
		alloc[i] /= sum
	}

	return alloc
}

// EncodeAllocation is the inverse of DecodeAction up to an additive constant:
// it emits log-weights in the first len(alloc) slots of a width-long action.
func EncodeAllocation(alloc []float64, width int) []float64 {
	action := make([]float64, width)
	for i := 0; i < len(alloc) && i < width; i++ {
		action[i] = math.Log(math.Max(alloc[i], allocationFloor))
	}
	return action
}

// Uniform returns the 1/n allocation
func Uniform(n int) []float64 {
	alloc := make([]float64, n)
	for i := range alloc {
		alloc[i] = 1 / float64(n)
	}
	return alloc
}

// Normalize rescales non-negative weights to sum to 1; a non-positive total
// (or any invalid weight) yields uniform weights. Weights are scaled by their
// maximum first so totals near MaxFloat64 do not overflow.
func Normalize(weights []float64) []float64 {
	maxW := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return Uniform(len(weights))
		}
		maxW = math.Max(maxW, w)
	}
	if maxW <= 0 {
		return Uniform(len(weights))
	}

	out := make([]float64, len(weights))
	sum := 0.0
	for i, w := range weights {
		out[i] = w / maxW
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
