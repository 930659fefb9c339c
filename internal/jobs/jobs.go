// Package jobs is the dump-job control plane behind cmd/esriserver: a registry of
// long-running dump operations, each identified by a UUID, that a caller can start, poll,
// and cancel. A background goroutine per job updates a tracked status struct under a mutex.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilvedi/esrigeo/internal/dumper"
	"github.com/nikhilvedi/esrigeo/internal/state"
	"github.com/nikhilvedi/esrigeo/internal/utils"
)

// Status tracks one dump job's progress.
type Status struct {
	JobID      string     `json:"job_id"`
	LayerURL   string     `json:"layer_url"`
	Status     string     `json:"status"` // "running", "completed", "error", "cancelled"
	Yielded    int64      `json:"yielded"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Message    string     `json:"message,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
}

// job pairs a job's polled Status with the cancel func for its background context.
type job struct {
	status *Status
	cancel context.CancelFunc
}

// Store is an optional checkpoint backend; *state.Store satisfies it.
type Store interface {
	Save(jobID, layerURL string, st state.State, yielded int64, status string, loadErr error) error
}

// Service owns the in-memory job registry and (optionally) persists periodic checkpoints to
// Store. Service never reads checkpoints back; it does not resume interrupted jobs.
type Service struct {
	store  Store
	logger *utils.Logger

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewService builds a Service. store may be nil, in which case jobs are tracked in memory
// only and no checkpoints are written. Either way the registry is empty after a restart.
func NewService(store Store) *Service {
	return &Service{store: store, jobs: make(map[string]*job), logger: utils.NewLogger("jobs")}
}

// Start launches a dump in a background goroutine, bound to a cancellable context, and
// returns its job ID immediately. The job's output file is written to
// outputDir/<job_id>.jsonl.
func (s *Service) Start(cfg dumper.Config, outputDir string) (string, error) {
	jobID := uuid.NewString()
	outputPath := filepath.Join(outputDir, jobID+".jsonl")
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.jobs[jobID] = &job{
		status: &Status{
			JobID:      jobID,
			LayerURL:   cfg.LayerURL,
			Status:     "running",
			StartedAt:  time.Now(),
			OutputPath: outputPath,
		},
		cancel: cancel,
	}
	s.mu.Unlock()

	go s.run(ctx, jobID, cfg, outputPath)

	return jobID, nil
}

// Get returns a job's current status.
func (s *Service) Get(jobID string) (*Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.status, true
}

// List returns every tracked job, most recently started first.
func (s *Service) List() []*Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return out
}

// Cancel requests that a running job stop. It cancels the job's context, which aborts any
// in-flight request and ends its ForEach loop at the next page fetch (features already
// fetched for the current page are still written), and marks the job "cancelled" so run's
// own error handling doesn't overwrite it with "error". Returns false if jobID is unknown or
// the job has already finished.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.status.Status != "running" {
		return false
	}

	now := time.Now()
	j.status.Status = "cancelled"
	j.status.FinishedAt = &now
	j.cancel()
	return true
}

func (s *Service) run(ctx context.Context, jobID string, cfg dumper.Config, outputPath string) {
	d, err := dumper.New(ctx, cfg)
	if err != nil {
		s.finish(jobID, "error", fmt.Sprintf("failed to start: %v", err))
		return
	}

	out, err := os.Create(outputPath)
	if err != nil {
		s.finish(jobID, "error", fmt.Sprintf("failed to open output file: %v", err))
		return
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	var yielded int64

	err = d.ForEach(ctx, func(item dumper.Item) error {
		var encErr error
		if item.GeoJSON != nil {
			encErr = enc.Encode(item.GeoJSON)
		} else {
			encErr = enc.Encode(item.Raw)
		}
		if encErr != nil {
			return encErr
		}

		yielded++
		s.mu.Lock()
		s.jobs[jobID].status.Yielded = yielded
		s.mu.Unlock()

		if s.store != nil && yielded%100 == 0 {
			if saveErr := s.store.Save(jobID, cfg.LayerURL, d.State(), yielded, "running", nil); saveErr != nil {
				s.logger.Error("failed to checkpoint job %s: %v", jobID, saveErr)
			}
		}
		return nil
	})

	if s.wasCancelled(jobID) {
		if s.store != nil {
			if saveErr := s.store.Save(jobID, cfg.LayerURL, d.State(), yielded, "cancelled", nil); saveErr != nil {
				s.logger.Error("failed to checkpoint cancelled job %s: %v", jobID, saveErr)
			}
		}
		return
	}

	if err != nil {
		s.finish(jobID, "error", err.Error())
		if s.store != nil {
			if saveErr := s.store.Save(jobID, cfg.LayerURL, d.State(), yielded, "error", err); saveErr != nil {
				s.logger.Error("failed to checkpoint failed job %s: %v", jobID, saveErr)
			}
		}
		return
	}

	s.finish(jobID, "completed", "")
	if s.store != nil {
		if saveErr := s.store.Save(jobID, cfg.LayerURL, d.State(), yielded, "completed", nil); saveErr != nil {
			s.logger.Error("failed to checkpoint completed job %s: %v", jobID, saveErr)
		}
	}
}

func (s *Service) wasCancelled(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j := s.jobs[jobID]
	return j != nil && j.status.Status == "cancelled"
}

func (s *Service) finish(jobID, status, message string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j == nil {
		return
	}
	j.status.Status = status
	j.status.Message = message
	j.status.FinishedAt = &now
}
