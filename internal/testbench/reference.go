// Package testbench drives fold engines with synthetic data and checks their
// output bit-exactly against a floating point reference model.
package testbench

import (
	"math/rand/v2"

	"github.com/samcharles93/vvau/internal/numeric"
)

// RandomVector returns n integers drawn uniformly from [lo, hi].
func RandomVector(rng *rand.Rand, n, lo, hi int) []int {
	out := make([]int, n)
	span := hi - lo + 1
	for i := range out {
		out[i] = lo + rng.IntN(span)
	}
	return out
}

// RefSoftmax is the float32 reference: subtract the max, exponentiate, divide
// by the sum, then quantise each probability to int8.
func RefSoftmax(in []float32) []int8 {
	if len(in) == 0 {
		return nil
	}
	m := in[0]
	for _, v := range in[1:] {
		if v > m {
			m = v
		}
	}

	buf := make([]float32, len(in))
	var sum float32
	for i, v := range in {
		buf[i] = numeric.Expf(v - m)
		sum += buf[i]
	}

	out := make([]int8, len(in))
	for i := range buf {
		out[i] = numeric.QuantizeProb(buf[i] / sum)
	}
	return out
}

func toFloat32(v []int) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
