package api

import (
	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/testbench"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

// Run is a stored job result.
type Run struct {
	ID        string     `json:"id"`
	Object    string     `json:"object"`
	CreatedAt int64      `json:"created_at"`
	Name      string     `json:"name,omitempty"`
	Outputs   [][]int64  `json:"outputs"`
	Stats     fold.Stats `json:"stats"`
}

type RunSummary struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Name      string `json:"name,omitempty"`
	Outputs   int    `json:"outputs"`
}

type RunList struct {
	Object string       `json:"object"`
	Data   []RunSummary `json:"data"`
}

type DeletedRun struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// VerifyRequest overrides fields of the default testbench scenario. Absent
// fields keep their defaults.
type VerifyRequest struct {
	Channels *int    `json:"channels,omitempty"`
	PE       *int    `json:"pe,omitempty"`
	Rounds   *int    `json:"rounds,omitempty"`
	Min      *int    `json:"min,omitempty"`
	Max      *int    `json:"max,omitempty"`
	Seed     *uint64 `json:"seed,omitempty"`
	Mode     string  `json:"mode,omitempty"`
}

type VerifyResponse struct {
	Object string           `json:"object"`
	OK     bool             `json:"ok"`
	Report testbench.Report `json:"report"`
}

func (r VerifyRequest) scenario() (testbench.Scenario, error) {
	sc := testbench.DefaultScenario()
	if r.Channels != nil {
		sc.Channels = *r.Channels
	}
	if r.PE != nil {
		sc.PE = *r.PE
	}
	if r.Rounds != nil {
		sc.Rounds = *r.Rounds
	}
	if r.Min != nil {
		sc.Min = *r.Min
	}
	if r.Max != nil {
		sc.Max = *r.Max
	}
	if r.Seed != nil {
		sc.Seed = *r.Seed
	}
	if r.Mode != "" {
		mode, err := fold.ParseMode(r.Mode)
		if err != nil {
			return sc, newInvalidRequest(err.Error())
		}
		sc.Mode = mode
	}
	return sc, nil
}
