// Package job describes a single engine run as a YAML or JSON document and
// executes it.
package job

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/vvau/internal/fold"
)

var ErrInvalidJob = errors.New("job: invalid job")

const DefaultWeightBits = 8

// Limits on the work a single job may request. Inputs are streamed one
// repetition at a time but every output value is kept in the Result.
const (
	MaxRepetitions = 1 << 20
	// MaxInputValues bounds the input values of one repetition,
	// Channels*KernelArea*MMV*SIMD.
	MaxInputValues = 1 << 24
	// MaxOutputValues bounds Repetitions*Channels*MMV.
	MaxOutputValues = 1 << 20
)

// Format is the encoding of a job document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension. Anything that is
// not .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Job is one engine run.
type Job struct {
	Name        string      `yaml:"name" json:"name"`
	Config      fold.Config `yaml:"config" json:"config"`
	Mode        fold.Mode   `yaml:"mode" json:"mode"`
	Repetitions int         `yaml:"repetitions" json:"repetitions"`
	WeightBits  int         `yaml:"weight_bits" json:"weight_bits"`
	Resource    string      `yaml:"resource" json:"resource"`
	Policy      PolicySpec  `yaml:"policy" json:"policy"`

	// Weights holds one kernel per channel, KernelArea*SIMD values each.
	// WeightsFile names a packed weight-stream file instead.
	Weights     [][]int64 `yaml:"weights" json:"weights"`
	WeightsFile string    `yaml:"weights_file" json:"weights_file"`

	Inputs InputSpec `yaml:"inputs" json:"inputs"`

	// BaseDir resolves a relative WeightsFile. Load sets it to the job's directory.
	BaseDir string `yaml:"-" json:"-"`
}

// PolicySpec selects the activation policy and carries its parameters.
type PolicySpec struct {
	Kind       string    `yaml:"kind" json:"kind"`
	Bias       []int64   `yaml:"bias" json:"bias"`
	Scale      int64     `yaml:"scale" json:"scale"`
	Shift      uint      `yaml:"shift" json:"shift"`
	Thresholds [][]int64 `yaml:"thresholds" json:"thresholds"`
	Reference  []float32 `yaml:"reference" json:"reference"`
}

// InputSpec is either explicit data or a seeded random fill.
//
// Data is flat, element after element, each element InputLanes values in
// mmv-major order. It holds either one repetition, which is replayed, or
// every repetition.
type InputSpec struct {
	Data []int64 `yaml:"data" json:"data"`
	Seed uint64  `yaml:"seed" json:"seed"`
	Min  int64   `yaml:"min" json:"min"`
	Max  int64   `yaml:"max" json:"max"`
}

// Load reads and decodes a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	j, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	j.BaseDir = filepath.Dir(path)
	return j, nil
}

// Decode parses a job document and applies defaults.
func Decode(data []byte, format Format) (*Job, error) {
	var j Job
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &j)
	case FormatJSON:
		err = json.Unmarshal(data, &j)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidJob, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	j.applyDefaults()
	return &j, nil
}

func (j *Job) applyDefaults() {
	if j.Config.MMV == 0 {
		j.Config.MMV = 1
	}
	if j.Config.SIMD == 0 {
		j.Config.SIMD = 1
	}
	if j.Repetitions == 0 {
		j.Repetitions = 1
	}
	if j.WeightBits == 0 {
		j.WeightBits = DefaultWeightBits
	}
	if j.Policy.Kind == "" {
		j.Policy.Kind = "identity"
	}
}

// Geometry is the fold of the job's configuration in its mode.
func (j *Job) Geometry() fold.Geometry { return j.Config.Geometry(j.Mode) }

// Validate checks everything that can be checked without touching the
// weights file.
func (j *Job) Validate() error {
	if err := j.Config.ValidateFor(j.Mode); err != nil {
		return err
	}
	if j.Repetitions <= 0 {
		return fmt.Errorf("%w: repetitions must be positive, got %d", ErrInvalidJob, j.Repetitions)
	}
	if j.Repetitions > MaxRepetitions {
		return fmt.Errorf("%w: repetitions %d exceed %d", ErrInvalidJob, j.Repetitions, MaxRepetitions)
	}
	c := j.Config
	if !withinLimit(MaxInputValues, c.Channels, c.KernelArea, c.MMV, c.SIMD) {
		return fmt.Errorf("%w: geometry needs more than %d input values per repetition", ErrInvalidJob, MaxInputValues)
	}
	if !withinLimit(MaxOutputValues, j.Repetitions, c.Channels, c.MMV) {
		return fmt.Errorf("%w: job would produce more than %d output values", ErrInvalidJob, MaxOutputValues)
	}
	if j.WeightBits < 1 || j.WeightBits > 64 {
		return fmt.Errorf("%w: weight_bits must be in [1, 64], got %d", ErrInvalidJob, j.WeightBits)
	}
	if _, err := fold.ParseResource(j.Resource); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	switch {
	case j.Weights == nil && j.WeightsFile == "":
		return fmt.Errorf("%w: one of weights or weights_file is required", ErrInvalidJob)
	case j.Weights != nil && j.WeightsFile != "":
		return fmt.Errorf("%w: weights and weights_file are mutually exclusive", ErrInvalidJob)
	}
	switch j.Policy.Kind {
	case "identity", "bias", "thresholds", "softmax":
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidJob, j.Policy.Kind)
	}

	per := j.Geometry().TotalFold * j.Config.InputLanes()
	in := j.Inputs
	switch {
	case in.Data != nil:
		if n := len(in.Data); n != per && n != per*j.Repetitions {
			return fmt.Errorf("%w: %d input values, want %d or %d", ErrInvalidJob, n, per, per*j.Repetitions)
		}
	case in.Min > in.Max:
		return fmt.Errorf("%w: input min %d > max %d", ErrInvalidJob, in.Min, in.Max)
	case uint64(in.Max)-uint64(in.Min) >= math.MaxInt64:
		return fmt.Errorf("%w: input range [%d, %d] is too wide", ErrInvalidJob, in.Min, in.Max)
	}
	return nil
}

// withinLimit reports whether the product of factors is positive and at most
// limit, without overflowing.
func withinLimit(limit int, factors ...int) bool {
	p := 1
	for _, f := range factors {
		if f <= 0 || p > limit/f {
			return false
		}
		p *= f
	}
	return true
}

func (j *Job) weightsPath() string {
	if j.WeightsFile == "" || filepath.IsAbs(j.WeightsFile) || j.BaseDir == "" {
		return j.WeightsFile
	}
	return filepath.Join(j.BaseDir, j.WeightsFile)
}
