package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/vvau/internal/job"
)

// DefaultRunLimit is the number of runs a store keeps when no limit is given.
const DefaultRunLimit = 256

// RunStore keeps the most recent finished runs in memory, in creation order.
// Saving past the limit evicts the oldest run.
type RunStore struct {
	mu    sync.Mutex
	limit int
	runs  map[string]*Run
	order []string
}

func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	return &RunStore{
		limit: limit,
		runs:  make(map[string]*Run),
	}
}

func (s *RunStore) Save(res *job.Result, now time.Time) Run {
	run := Run{
		ID:        newRunID(),
		Object:    "run",
		CreatedAt: now.Unix(),
		Name:      res.Name,
		Outputs:   res.Outputs,
		Stats:     res.Stats,
	}

	s.mu.Lock()
	s.runs[run.ID] = &run
	s.order = append(s.order, run.ID)
	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	return run
}

func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *RunStore) List() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunSummary, 0, len(s.order))
	for _, id := range s.order {
		run := s.runs[id]
		out = append(out, RunSummary{
			ID:        run.ID,
			Object:    "run",
			CreatedAt: run.CreatedAt,
			Name:      run.Name,
			Outputs:   len(run.Outputs),
		})
	}
	return out
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
