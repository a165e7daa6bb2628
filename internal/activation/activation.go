// Package activation provides the accumulator initialisation and output
// quantisation policies that plug into a fold.Engine.
package activation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/samcharles93/vvau/internal/numeric"
)

var ErrInvalidPolicy = errors.New("activation: invalid policy")

// Identity starts every sweep at zero and passes the accumulator through.
type Identity[T numeric.Number] struct{}

func (Identity[T]) Init(int, int) T { return 0 }

func (Identity[T]) Activate(_, _ int, acc T) T { return acc }

// Bias adds a per-channel bias at the start of each sweep and requantises the
// result to int8 as saturate(round((acc*Scale) >> Shift)).
type Bias[Acc numeric.Signed] struct {
	pe    int
	bias  []Acc
	scale int64
	shift uint
}

// NewBias validates that bias has one entry per channel. A nil bias means zero.
func NewBias[Acc numeric.Signed](channels, pe int, bias []Acc, scale int64, shift uint) (*Bias[Acc], error) {
	if channels <= 0 || pe <= 0 || channels%pe != 0 {
		return nil, fmt.Errorf("%w: %d channels over %d lanes", ErrInvalidPolicy, channels, pe)
	}
	if bias == nil {
		bias = make([]Acc, channels)
	}
	if len(bias) != channels {
		return nil, fmt.Errorf("%w: %d bias values for %d channels", ErrInvalidPolicy, len(bias), channels)
	}
	if shift > 62 {
		return nil, fmt.Errorf("%w: shift %d out of range", ErrInvalidPolicy, shift)
	}
	if scale == 0 {
		scale = 1
	}
	return &Bias[Acc]{pe: pe, bias: slices.Clone(bias), scale: scale, shift: shift}, nil
}

func (b *Bias[Acc]) Init(group, pe int) Acc { return b.bias[group*b.pe+pe] }

func (b *Bias[Acc]) Activate(_, _ int, acc Acc) int8 {
	return numeric.SaturateInt8(numeric.RoundShift(int64(acc)*b.scale, b.shift))
}

// Thresholds is a multi-threshold activation: the output of a channel is the
// number of its thresholds that the accumulator reaches. Rows must be sorted
// ascending and all have the same length.
type Thresholds[Acc numeric.Number] struct {
	pe   int
	rows [][]Acc
}

// NewThresholds validates one ascending row per channel, at most 255 steps.
func NewThresholds[Acc numeric.Number](channels, pe int, rows [][]Acc) (*Thresholds[Acc], error) {
	if channels <= 0 || pe <= 0 || channels%pe != 0 {
		return nil, fmt.Errorf("%w: %d channels over %d lanes", ErrInvalidPolicy, channels, pe)
	}
	if len(rows) != channels {
		return nil, fmt.Errorf("%w: %d threshold rows for %d channels", ErrInvalidPolicy, len(rows), channels)
	}
	steps := len(rows[0])
	if steps > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d thresholds exceed 8-bit output", ErrInvalidPolicy, steps)
	}
	out := make([][]Acc, len(rows))
	for c, row := range rows {
		if len(row) != steps {
			return nil, fmt.Errorf("%w: channel %d has %d thresholds, want %d", ErrInvalidPolicy, c, len(row), steps)
		}
		if !slices.IsSorted(row) {
			return nil, fmt.Errorf("%w: channel %d thresholds not ascending", ErrInvalidPolicy, c)
		}
		out[c] = slices.Clone(row)
	}
	return &Thresholds[Acc]{pe: pe, rows: out}, nil
}

func (t *Thresholds[Acc]) Init(int, int) Acc { return 0 }

func (t *Thresholds[Acc]) Activate(group, pe int, acc Acc) uint8 {
	row := t.rows[group*t.pe+pe]
	return uint8(sort.Search(len(row), func(i int) bool { return row[i] > acc }))
}

// Steps is the number of thresholds per channel.
func (t *Thresholds[Acc]) Steps() int { return len(t.rows[0]) }

// SoftmaxQuant maps an accumulator to an int8 softmax probability using the
// max and exponent sum of a calibration vector:
// p = exp(acc-max)/sum, output 127 if p >= 1 else int8(128*p).
type SoftmaxQuant struct {
	max float32
	sum float32
}

// CalibrateSoftmax scans ref once for its maximum and once, in order, for the
// float32 exponent sum.
func CalibrateSoftmax(ref []float32) (*SoftmaxQuant, error) {
	if len(ref) == 0 {
		return nil, fmt.Errorf("%w: empty calibration vector", ErrInvalidPolicy)
	}
	m := ref[0]
	for _, v := range ref[1:] {
		if v > m {
			m = v
		}
	}
	var sum float32
	for _, v := range ref {
		sum += numeric.Expf(v - m)
	}
	return &SoftmaxQuant{max: m, sum: sum}, nil
}

func (s *SoftmaxQuant) Init(int, int) float32 { return 0 }

func (s *SoftmaxQuant) Activate(_, _ int, acc float32) int8 {
	return numeric.QuantizeProb(numeric.Expf(acc-s.max) / s.sum)
}

// Max is the calibrated maximum.
func (s *SoftmaxQuant) Max() float32 { return s.max }

// Sum is the calibrated exponent sum.
func (s *SoftmaxQuant) Sum() float32 { return s.sum }
