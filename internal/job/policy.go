package job

import (
	"fmt"

	"github.com/samcharles93/vvau/internal/activation"
	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/numeric"
)

// widen reports any integer policy output as int64 so every job has the same
// result shape.
type widen[O numeric.Integer] struct {
	p fold.Policy[int64, O]
}

func (w widen[O]) Init(group, pe int) int64 { return w.p.Init(group, pe) }

func (w widen[O]) Activate(group, pe int, acc int64) int64 {
	return int64(w.p.Activate(group, pe, acc))
}

func (j *Job) policy() (fold.Policy[int64, int64], error) {
	ps := j.Policy
	cfg := j.Config
	switch ps.Kind {
	case "identity":
		return activation.Identity[int64]{}, nil
	case "bias":
		b, err := activation.NewBias(cfg.Channels, cfg.PE, ps.Bias, ps.Scale, ps.Shift)
		if err != nil {
			return nil, err
		}
		return widen[int8]{p: b}, nil
	case "thresholds":
		t, err := activation.NewThresholds(cfg.Channels, cfg.PE, ps.Thresholds)
		if err != nil {
			return nil, err
		}
		return widen[uint8]{p: t}, nil
	case "softmax":
		s, err := activation.CalibrateSoftmax(ps.Reference)
		if err != nil {
			return nil, err
		}
		return fold.PolicyFuncs[int64, int64]{
			InitFunc: func(int, int) int64 { return 0 },
			ActivateFunc: func(group, pe int, acc int64) int64 {
				return int64(s.Activate(group, pe, float32(acc)))
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidJob, ps.Kind)
	}
}
