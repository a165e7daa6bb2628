package job

import (
	"context"
	"fmt"

	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/numeric"
	"github.com/samcharles93/vvau/pkg/wstream"
)

// Codec is the signed field codec for the job's weight width.
func (j *Job) Codec() fold.Codec[int64] { return fold.SignedCodec[int64](j.WeightBits) }

// Layout is the packed word layout for the job's weights.
func (j *Job) Layout() fold.Layout { return fold.LayoutFor(j.Config, j.WeightBits) }

// Table builds the weight table from the inline kernels or by unpacking the
// weights file.
func (j *Job) Table() (*fold.Table[int64], error) {
	if j.WeightsFile != "" {
		words, err := j.fileWords()
		if err != nil {
			return nil, err
		}
		table := fold.NewTable[int64](len(words), j.Config.PE, j.Config.SIMD)
		layout, codec := j.Layout(), j.Codec()
		for i, w := range words {
			if err := fold.Unpack(layout, codec, w, table.Tile(i)); err != nil {
				return nil, fmt.Errorf("word %d: %w", i, err)
			}
		}
		return table, nil
	}

	for c, k := range j.Weights {
		for i, v := range k {
			if !numeric.FitsSigned(v, j.WeightBits) {
				return nil, fmt.Errorf("%w: weight [%d][%d] = %d does not fit %d bits", ErrInvalidJob, c, i, v, j.WeightBits)
			}
		}
	}
	return fold.TableFromKernels(j.Config, j.Weights)
}

// Words returns one repetition of packed weight words in stream order.
func (j *Job) Words() ([]fold.PackedWord, error) {
	if j.WeightsFile != "" {
		return j.fileWords()
	}
	table, err := j.Table()
	if err != nil {
		return nil, err
	}
	return fold.PackTable(j.Layout(), j.Codec(), table, j.Geometry().TotalFold), nil
}

func (j *Job) fileWords() ([]fold.PackedWord, error) {
	f, err := j.openWeights()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return f.Words(), nil
}

// openWeights opens the weights file and checks it against the job.
func (j *Job) openWeights() (*wstream.File, error) {
	f, err := wstream.Open(j.weightsPath())
	if err != nil {
		return nil, err
	}
	if f.Header.Flags&wstream.FlagSigned == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s does not hold signed weights", ErrInvalidJob, j.WeightsFile)
	}
	if err := f.Check(j.Config, j.WeightBits, j.Geometry().TotalFold); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// wordFeeder replays one repetition of packed words onto a weight channel.
type wordFeeder interface {
	Feed(ctx context.Context, ch chan<- fold.PackedWord, reps int) error
}

type inlineWords []fold.PackedWord

func (w inlineWords) Feed(ctx context.Context, ch chan<- fold.PackedWord, reps int) error {
	return fold.Feed(ctx, ch, w, reps)
}

// weightStream returns the stream-mode weight source and a func that releases
// it once the run is over.
func (j *Job) weightStream() (wordFeeder, func(), error) {
	if j.WeightsFile != "" {
		f, err := j.openWeights()
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
	words, err := j.Words()
	if err != nil {
		return nil, nil, err
	}
	return inlineWords(words), func() {}, nil
}

// WriteWeights packs the inline weights into a weight-stream file at path.
func (j *Job) WriteWeights(path string) error {
	if j.Weights == nil {
		return fmt.Errorf("%w: no inline weights to pack", ErrInvalidJob)
	}
	words, err := j.Words()
	if err != nil {
		return err
	}
	return wstream.Create(path, j.Layout(), wstream.FlagSigned, words)
}
