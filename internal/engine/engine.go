package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scopeline/internal/auth"
	"scopeline/internal/config"
	"scopeline/internal/domain"
	"scopeline/internal/events"
	"scopeline/internal/ledger"
	"scopeline/internal/notify"
	"scopeline/internal/repo"
	"scopeline/internal/workflow"
)

// Engine owns the engagement workflow: guarded transitions, the job/phase
// cascade, and the bookkeeping around them. All transition entry points
// serialize per job.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier notify.Notifier
	Auth     auth.Service
	Config   *config.Config
	Log      *zap.Logger
	Now      func() time.Time

	locks *jobLocks
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Notifier: notify.Outbox{DB: db},
		Auth:     auth.New(cfg),
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
		locks:    newJobLocks(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// today is the sweep/guard reference date, truncated to midnight UTC.
func (e *Engine) today() time.Time {
	n := e.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func (e *Engine) offsets() ledger.Offsets {
	if e.Config == nil {
		return ledger.DefaultOffsets
	}
	return e.Config.Offsets()
}

// --- context loading ---

func (e *Engine) phaseContext(ctx context.Context, tx *sql.Tx, p domain.Phase, j domain.Job, siblings []domain.Phase, actor string) (workflow.PhaseContext, error) {
	n, err := e.Repo.CountSlotsByPhaseTx(ctx, tx, p.ID)
	if err != nil {
		return workflow.PhaseContext{}, err
	}
	counts, err := e.Repo.CountFeedbackByKindTx(ctx, tx, p.ID)
	if err != nil {
		return workflow.PhaseContext{}, err
	}
	slots, err := e.Repo.ListSlotsByPhaseTx(ctx, tx, p.ID)
	if err != nil {
		return workflow.PhaseContext{}, err
	}
	dates := ledger.PhaseDates(p, slots, e.offsets())
	var others []domain.Phase
	for _, s := range siblings {
		if s.ID != p.ID {
			others = append(others, s)
		}
	}
	return workflow.PhaseContext{
		Phase:          p,
		Job:            j,
		Siblings:       others,
		SlotCount:      n,
		FeedbackCounts: counts,
		EffectiveStart: dates.Start,
		Today:          e.today(),
		Actor:          actor,
		Can:            e.Auth.CheckerFor(actor),
	}, nil
}

func (e *Engine) loadJobContext(ctx context.Context, tx *sql.Tx, jobID, actor string) (*workflow.JobContext, error) {
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	phases, err := e.Repo.ListPhasesByJobTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	jc := &workflow.JobContext{
		Job:   j,
		Actor: actor,
		Can:   e.Auth.CheckerFor(actor),
	}
	for _, p := range phases {
		pc, err := e.phaseContext(ctx, tx, p, j, phases, actor)
		if err != nil {
			return nil, err
		}
		jc.Phases = append(jc.Phases, pc)
	}
	return jc, nil
}

func (e *Engine) loadPhaseContext(ctx context.Context, tx *sql.Tx, phaseID, actor string) (*workflow.PhaseContext, error) {
	p, err := e.Repo.GetPhaseTx(ctx, tx, phaseID)
	if err != nil {
		return nil, err
	}
	j, err := e.Repo.GetJobTx(ctx, tx, p.JobID)
	if err != nil {
		return nil, err
	}
	siblings, err := e.Repo.ListPhasesByJobTx(ctx, tx, p.JobID)
	if err != nil {
		return nil, err
	}
	pc, err := e.phaseContext(ctx, tx, p, j, siblings, actor)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// --- transitions ---

// CanTransitionJob is the pure precondition check; it never mutates state.
func (e *Engine) CanTransitionJob(ctx context.Context, jobID string, target workflow.JobStatus, actor string) (workflow.Result, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return workflow.Result{}, err
	}
	defer tx.Rollback()
	jc, err := e.loadJobContext(ctx, tx, jobID, actor)
	if err != nil {
		return workflow.Result{}, err
	}
	return workflow.JobCan(jc, target), nil
}

// CanTransitionPhase is the pure precondition check for a phase.
func (e *Engine) CanTransitionPhase(ctx context.Context, phaseID string, target workflow.PhaseStatus, actor string) (workflow.Result, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return workflow.Result{}, err
	}
	defer tx.Rollback()
	pc, err := e.loadPhaseContext(ctx, tx, phaseID, actor)
	if err != nil {
		return workflow.Result{}, err
	}
	return workflow.PhaseCan(pc, target), nil
}

// TransitionJob attempts a job transition. A guard failure is reported in
// the Result, not as an error; errors are integrity or storage failures and
// leave no partial mutation.
func (e *Engine) TransitionJob(ctx context.Context, jobID string, target workflow.JobStatus, actor string) (domain.Job, workflow.Result, error) {
	if !target.Valid() {
		return domain.Job{}, workflow.Result{}, fmt.Errorf("unknown job status %q", target)
	}
	unlock := e.locks.lock(jobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, workflow.Result{}, err
	}
	defer tx.Rollback()

	jc, err := e.loadJobContext(ctx, tx, jobID, actor)
	if err != nil {
		return domain.Job{}, workflow.Result{}, err
	}
	res := workflow.JobCan(jc, target)
	if !res.Allowed {
		return jc.Job, res, nil
	}
	j := jc.Job
	if err := e.applyJob(ctx, tx, jc, &j, target, actor, map[string]bool{}); err != nil {
		return domain.Job{}, res, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, res, err
	}
	return j, res, nil
}

// TransitionPhase attempts a phase transition, serialized on the owning job.
func (e *Engine) TransitionPhase(ctx context.Context, phaseID string, target workflow.PhaseStatus, actor string) (domain.Phase, workflow.Result, error) {
	if !target.Valid() {
		return domain.Phase{}, workflow.Result{}, fmt.Errorf("unknown phase status %q", target)
	}
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, workflow.Result{}, err
	}
	unlock := e.locks.lock(p.JobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Phase{}, workflow.Result{}, err
	}
	defer tx.Rollback()

	pc, err := e.loadPhaseContext(ctx, tx, phaseID, actor)
	if err != nil {
		return domain.Phase{}, workflow.Result{}, err
	}
	res := workflow.PhaseCan(pc, target)
	if !res.Allowed {
		return pc.Phase, res, nil
	}
	p = pc.Phase
	if err := e.applyPhase(ctx, tx, pc, &p, target, actor, map[string]bool{}); err != nil {
		return domain.Phase{}, res, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Phase{}, res, err
	}
	return p, res, nil
}

// applyJob mutates and persists a job transition plus its cascades, all in
// the caller's transaction.
func (e *Engine) applyJob(ctx context.Context, tx *sql.Tx, jc *workflow.JobContext, j *domain.Job, target workflow.JobStatus, actor string, seen map[string]bool) error {
	effects, err := workflow.JobApply(jc, j, target, e.nowStr())
	if err != nil {
		return err
	}
	if err := e.Repo.UpdateJobTx(ctx, tx, *j); err != nil {
		return err
	}
	seen["job:"+j.ID+":"+string(target)] = true
	e.recordTransition(ctx, tx, j.ID, "job", j.ID, actor, string(target), effects.Notice)
	return e.applyCascades(ctx, tx, effects.Cascades, actor, seen)
}

func (e *Engine) applyPhase(ctx context.Context, tx *sql.Tx, pc *workflow.PhaseContext, p *domain.Phase, target workflow.PhaseStatus, actor string, seen map[string]bool) error {
	effects, err := workflow.PhaseApply(pc, p, target, e.nowStr())
	if err != nil {
		return err
	}
	if err := e.Repo.UpdatePhaseTx(ctx, tx, *p); err != nil {
		return err
	}
	seen["phase:"+p.ID+":"+string(target)] = true
	e.recordTransition(ctx, tx, p.JobID, "phase", p.ID, actor, string(target), effects.Notice)
	return e.applyCascades(ctx, tx, effects.Cascades, actor, seen)
}

// applyCascades attempts each cascade request within the same transaction.
// A cascade whose guard fails is skipped silently, logged for visibility;
// any other failure aborts the whole transaction.
func (e *Engine) applyCascades(ctx context.Context, tx *sql.Tx, reqs []workflow.CascadeRequest, actor string, seen map[string]bool) error {
	for _, req := range reqs {
		key := req.EntityKind + ":" + req.EntityID + ":" + req.Target
		if seen[key] {
			continue
		}
		seen[key] = true
		switch req.EntityKind {
		case "phase":
			pc, err := e.loadPhaseContext(ctx, tx, req.EntityID, actor)
			if err != nil {
				return fmt.Errorf("cascade load phase %s: %w", req.EntityID, err)
			}
			target := workflow.PhaseStatus(req.Target)
			if res := workflow.PhaseCan(pc, target); !res.Allowed {
				e.logSkippedCascade(req, res)
				continue
			}
			p := pc.Phase
			if err := e.applyPhase(ctx, tx, pc, &p, target, actor, seen); err != nil {
				return err
			}
		case "job":
			jc, err := e.loadJobContext(ctx, tx, req.EntityID, actor)
			if err != nil {
				return fmt.Errorf("cascade load job %s: %w", req.EntityID, err)
			}
			target := workflow.JobStatus(req.Target)
			if res := workflow.JobCan(jc, target); !res.Allowed {
				e.logSkippedCascade(req, res)
				continue
			}
			j := jc.Job
			if err := e.applyJob(ctx, tx, jc, &j, target, actor, seen); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cascade: unknown entity kind %q", req.EntityKind)
		}
	}
	return nil
}

func (e *Engine) logSkippedCascade(req workflow.CascadeRequest, res workflow.Result) {
	fields := []zap.Field{
		zap.String("entity_kind", req.EntityKind),
		zap.String("entity_id", req.EntityID),
		zap.String("target", req.Target),
	}
	for _, m := range res.Messages {
		if m.Severity == workflow.SeverityError {
			fields = append(fields, zap.String("reason", m.Text))
			break
		}
	}
	e.Log.Info("cascade skipped", fields...)
}

// recordTransition writes the audit line and enqueues the notification.
// Collaborator failures are logged and swallowed; the transition has
// already been applied and must not be reverted.
func (e *Engine) recordTransition(ctx context.Context, tx *sql.Tx, jobID, entityKind, entityID, actor, stateName string, notice *workflow.Notice) {
	if err := e.Events.MovedTo(ctx, tx, jobID, entityKind, entityID, actor, stateName); err != nil {
		e.Log.Warn("audit append failed", zap.String("entity_id", entityID), zap.Error(err))
	}
	if notice == nil {
		return
	}
	err := e.Notifier.Enqueue(ctx, tx, notify.Request{
		Kind:       notice.Kind,
		Title:      notice.Title,
		BodyRef:    notice.BodyRef,
		EntityKind: entityKind,
		EntityID:   entityID,
		Audience:   notice.Audience,
	})
	if err != nil {
		e.Log.Warn("notification enqueue failed", zap.String("entity_id", entityID), zap.Error(err))
	}
}

// PhaseDates resolves a phase's effective dates and lateness flags.
func (e *Engine) PhaseDates(ctx context.Context, phaseID string) (ledger.Dates, map[string]bool, error) {
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return ledger.Dates{}, nil, err
	}
	slots, err := e.Repo.ListSlotsByPhase(ctx, phaseID)
	if err != nil {
		return ledger.Dates{}, nil, err
	}
	d := ledger.PhaseDates(p, slots, e.offsets())
	today := e.today()
	flags := map[string]bool{
		"tqa_late":      ledger.TQALate(p, d, today),
		"pqa_late":      ledger.PQALate(p, d, today),
		"delivery_late": ledger.DeliveryLate(p, d, today),
	}
	return d, flags, nil
}

// JobDates aggregates effective dates across a job's phases.
func (e *Engine) JobDates(ctx context.Context, jobID string) (ledger.Dates, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return ledger.Dates{}, err
	}
	phases, err := e.Repo.ListPhasesByJob(ctx, jobID)
	if err != nil {
		return ledger.Dates{}, err
	}
	var all []ledger.Dates
	for _, p := range phases {
		slots, err := e.Repo.ListSlotsByPhase(ctx, p.ID)
		if err != nil {
			return ledger.Dates{}, err
		}
		all = append(all, ledger.PhaseDates(p, slots, e.offsets()))
	}
	return ledger.JobDates(j, all), nil
}

// SlotCost prices a slot against the person's cost records.
func (e *Engine) SlotCost(ctx context.Context, slotID string) (ledger.Cost, error) {
	s, err := e.Repo.GetSlot(ctx, slotID)
	if err != nil {
		return ledger.Cost{}, err
	}
	records, err := e.Repo.ListCostRecords(ctx, s.PersonID)
	if err != nil {
		return ledger.Cost{}, err
	}
	w, err := e.window()
	if err != nil {
		return ledger.Cost{}, err
	}
	return ledger.SlotCost(s, records, w)
}

func (e *Engine) window() (ledger.Window, error) {
	if e.Config == nil {
		return ledger.ParseWindow("09:00", "17:30")
	}
	return e.Config.Window()
}

// SlotConfirmed derives a slot's confirmed flag from its owning phase.
func (e *Engine) SlotConfirmed(ctx context.Context, slotID string) (bool, error) {
	s, err := e.Repo.GetSlot(ctx, slotID)
	if err != nil {
		return false, err
	}
	if s.PhaseID == nil {
		return true, nil
	}
	p, err := e.Repo.GetPhase(ctx, *s.PhaseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return ledger.SlotConfirmed(s, workflow.PhaseStatus(p.Status)), nil
}
