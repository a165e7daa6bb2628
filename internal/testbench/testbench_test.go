package testbench

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/logger"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return logger.WithContext(ctx, logger.Nop())
}

func TestRandomVectorRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	v := RandomVector(rng, 1000, 1, 5)
	seen := map[int]bool{}
	for _, x := range v {
		if x < 1 || x > 5 {
			t.Fatalf("value %d outside [1,5]", x)
		}
		seen[x] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected all of 1..5 in 1000 draws, saw %v", seen)
	}
}

func TestRefSoftmax(t *testing.T) {
	t.Parallel()

	got := RefSoftmax([]float32{2, 2})
	if got[0] != 64 || got[1] != 64 {
		t.Fatalf("two equal inputs: got %v want [64 64]", got)
	}
	if got := RefSoftmax([]float32{7}); got[0] != 127 {
		t.Fatalf("single input must saturate: got %v", got)
	}
	if RefSoftmax(nil) != nil {
		t.Fatal("empty input should give nil")
	}
}

func TestDefaultScenarioPasses(t *testing.T) {
	t.Parallel()

	for _, mode := range []fold.Mode{fold.ModeTable, fold.ModeStream} {
		sc := DefaultScenario()
		sc.Mode = mode
		report, err := RunSoftmax(testContext(t), sc)
		if err != nil {
			t.Fatalf("%v: RunSoftmax: %v", mode, err)
		}
		if !report.OK() {
			t.Fatalf("%v: report not ok: examined=%d expected=%d mismatches=%v",
				mode, report.Examined, report.Expected, report.Mismatches)
		}
		if report.Examined != 640 {
			t.Fatalf("%v: examined %d outputs want 640", mode, report.Examined)
		}
		if report.Stats.Outputs != 5*32 || report.Stats.InputReads != 5*32 {
			t.Fatalf("%v: stats %+v", mode, report.Stats)
		}
	}
}

func TestSingleGroupScenario(t *testing.T) {
	t.Parallel()

	sc := Scenario{Channels: 16, PE: 16, Rounds: 3, Min: -3, Max: 9, Seed: 77}
	report, err := RunSoftmax(testContext(t), sc)
	if err != nil {
		t.Fatalf("RunSoftmax: %v", err)
	}
	if !report.OK() || report.Stats.Outputs != 3 {
		t.Fatalf("report: ok=%v outputs=%d", report.OK(), report.Stats.Outputs)
	}
}

func TestScenarioValidation(t *testing.T) {
	t.Parallel()

	tests := []Scenario{
		{Channels: 10, PE: 4, Rounds: 1, Min: 1, Max: 5},
		{Channels: 8, PE: 4, Rounds: 0, Min: 1, Max: 5},
		{Channels: 8, PE: 4, Rounds: 1, Min: 5, Max: 1},
		{Channels: 8, PE: 4, Rounds: 1, Min: math.MinInt, Max: math.MaxInt},
		{Channels: 8, PE: 4, Rounds: 1, Min: math.MinInt, Max: -1},
		{Channels: 8, PE: 4, Rounds: MaxRounds + 1, Min: 1, Max: 5},
		{Channels: MaxChannels + 4, PE: 4, Rounds: 1, Min: 1, Max: 5},
	}
	for _, sc := range tests {
		if _, err := RunSoftmax(testContext(t), sc); !errors.Is(err, ErrInvalidScenario) && !errors.Is(err, fold.ErrInvalidConfig) {
			t.Errorf("%+v: expected a validation error, got %v", sc, err)
		}
	}
	_, err := RunSoftmax(testContext(t), Scenario{Channels: 8, PE: 4, Rounds: 0, Min: 1, Max: 5})
	if !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("expected ErrInvalidScenario, got %v", err)
	}
}

func TestRunBatch(t *testing.T) {
	t.Parallel()

	var scenarios []Scenario
	for i := range 6 {
		sc := DefaultScenario()
		sc.Seed = uint64(i + 1)
		if i%2 == 1 {
			sc.Mode = fold.ModeStream
		}
		scenarios = append(scenarios, sc)
	}
	reports, err := RunBatch(testContext(t), scenarios, 3)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(reports) != len(scenarios) {
		t.Fatalf("reports: got %d want %d", len(reports), len(scenarios))
	}
	for i, r := range reports {
		if !r.OK() {
			t.Fatalf("scenario %d failed: %+v", i, r.Mismatches)
		}
		if r.Scenario.Seed != uint64(i+1) {
			t.Fatalf("report %d out of order: seed %d", i, r.Scenario.Seed)
		}
	}
}
