// Package sweep reconciles time-driven state: transitions that become legal
// by the calendar advancing rather than by anyone acting.
package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"scopeline/internal/engine"
	"scopeline/internal/workflow"
)

// Actor is the principal recorded for sweeper-made transitions.
const Actor = "system"

// ErrAlreadyRunning is returned when a sweep is requested while a previous
// run is still in flight.
var ErrAlreadyRunning = errors.New("sweep already running")

// Stats counts what one run did, per pass.
type Stats struct {
	PreChecks  int    `json:"pre_checks"`
	Begun      int    `json:"begun"`
	Completed  int    `json:"completed"`
	Examined   int    `json:"examined"`
	Errors     int    `json:"errors"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// Sweeper runs the reconciliation passes. Runs never overlap; a run is a
// no-op ErrAlreadyRunning when one is in flight.
type Sweeper struct {
	Engine *engine.Engine
	Log    *zap.Logger

	mu sync.Mutex
}

func New(e *engine.Engine, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{Engine: e, Log: log}
}

// Run executes the three passes once. Each pass tolerates per-entity
// failures, and one pass failing outright never prevents the others.
func (s *Sweeper) Run(ctx context.Context) (Stats, error) {
	if !s.mu.TryLock() {
		return Stats{}, ErrAlreadyRunning
	}
	defer s.mu.Unlock()

	var st Stats
	st.StartedAt = time.Now().UTC().Format(time.RFC3339)
	s.passPhases(ctx, &st, workflow.PhaseSchedConfirmed, workflow.PhasePreChecks, &st.PreChecks)
	s.passPhases(ctx, &st, workflow.PhaseReadyToBegin, workflow.PhaseInProgress, &st.Begun)
	s.passJobs(ctx, &st)
	st.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	s.Log.Info("sweep finished",
		zap.Int("examined", st.Examined),
		zap.Int("pre_checks", st.PreChecks),
		zap.Int("begun", st.Begun),
		zap.Int("completed", st.Completed),
		zap.Int("errors", st.Errors))
	return st, nil
}

// passPhases offers every phase sitting in from a move to target. The
// transition guard holds the actual date rule; a refusal just means the
// phase is not due yet.
func (s *Sweeper) passPhases(ctx context.Context, st *Stats, from, target workflow.PhaseStatus, advanced *int) {
	phases, err := s.Engine.Repo.ListPhasesByStatus(ctx, string(from))
	if err != nil {
		st.Errors++
		s.Log.Error("sweep list phases failed", zap.String("status", string(from)), zap.Error(err))
		return
	}
	for _, p := range phases {
		st.Examined++
		_, res, err := s.Engine.TransitionPhase(ctx, p.ID, target, Actor)
		if err != nil {
			st.Errors++
			s.Log.Error("sweep phase transition failed",
				zap.String("phase_id", p.ID), zap.String("target", string(target)), zap.Error(err))
			continue
		}
		if !res.Allowed {
			s.Log.Debug("sweep phase not due",
				zap.String("phase_id", p.ID), zap.String("target", string(target)))
			continue
		}
		*advanced++
		s.Log.Info("sweep advanced phase",
			zap.String("phase_id", p.ID), zap.String("target", string(target)))
	}
}

// passJobs completes in-progress jobs whose phases are all delivered. The
// completion guard also rejects jobs with a postponed phase.
func (s *Sweeper) passJobs(ctx context.Context, st *Stats) {
	jobs, err := s.Engine.Repo.ListJobs(ctx, []string{string(workflow.JobInProgress)})
	if err != nil {
		st.Errors++
		s.Log.Error("sweep list jobs failed", zap.Error(err))
		return
	}
	for _, j := range jobs {
		st.Examined++
		_, res, err := s.Engine.TransitionJob(ctx, j.ID, workflow.JobCompleted, Actor)
		if err != nil {
			st.Errors++
			s.Log.Error("sweep job completion failed", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		if !res.Allowed {
			s.Log.Debug("sweep job not complete", zap.String("job_id", j.ID))
			continue
		}
		st.Completed++
		s.Log.Info("sweep completed job", zap.String("job_id", j.ID))
	}
}

// Loop runs sweeps on a ticker until the context ends. An in-flight overlap
// is skipped quietly.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				s.Log.Error("sweep run failed", zap.Error(err))
			}
		}
	}
}
