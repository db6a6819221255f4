package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scopeline/internal/domain"
	"scopeline/internal/events"
	"scopeline/internal/workflow"
)

// CreateJobParams carries the fields a caller may set at creation time.
// New jobs always start in draft.
type CreateJobParams struct {
	ClientName     string
	Title          string
	Overview       string
	HighRisk       bool
	TechComplex    bool
	HighRiskReason string
	PrimaryContact string
	AccountManager *string
	ScoperIDs      []string
}

func (e *Engine) CreateJob(ctx context.Context, params CreateJobParams, actor string) (domain.Job, error) {
	if params.ClientName == "" {
		return domain.Job{}, fmt.Errorf("client_name is required")
	}
	if params.Title == "" {
		return domain.Job{}, fmt.Errorf("title is required")
	}
	now := e.nowStr()
	j := domain.Job{
		ID:              uuid.NewString(),
		ClientName:      params.ClientName,
		Title:           params.Title,
		Overview:        params.Overview,
		Status:          string(workflow.JobDraft),
		StatusChangedAt: now,
		HighRisk:        params.HighRisk,
		TechComplex:     params.TechComplex,
		HighRiskReason:  params.HighRiskReason,
		PrimaryContact:  params.PrimaryContact,
		AccountManager:  params.AccountManager,
		ScoperIDs:       params.ScoperIDs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertJob(ctx, j); err != nil {
		return domain.Job{}, err
	}
	e.audit(ctx, "job.created", j.ID, "job", j.ID, actor, events.EventPayload{"title": j.Title})
	return j, nil
}

// UpdateJobParams are the mutable non-status fields. A nil pointer leaves
// the field untouched; status moves only through TransitionJob.
type UpdateJobParams struct {
	ClientName      *string
	Title           *string
	Overview        *string
	HighRisk        *bool
	TechComplex     *bool
	HighRiskReason  *string
	PrimaryContact  *string
	AccountManager  *string
	SignoffApprover *string
	StartOverride   *string
	DeliverOverride *string
	ScoperIDs       []string
}

func (e *Engine) UpdateJob(ctx context.Context, jobID string, params UpdateJobParams, actor string) (domain.Job, error) {
	unlock := e.locks.lock(jobID)
	defer unlock()

	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	setStr(&j.ClientName, params.ClientName)
	setStr(&j.Title, params.Title)
	setStr(&j.Overview, params.Overview)
	setBool(&j.HighRisk, params.HighRisk)
	setBool(&j.TechComplex, params.TechComplex)
	setStr(&j.HighRiskReason, params.HighRiskReason)
	setStr(&j.PrimaryContact, params.PrimaryContact)
	if params.AccountManager != nil {
		j.AccountManager = emptyToNil(params.AccountManager)
	}
	if params.SignoffApprover != nil {
		j.SignoffApprover = emptyToNil(params.SignoffApprover)
	}
	if params.StartOverride != nil {
		j.StartOverride = emptyToNil(params.StartOverride)
	}
	if params.DeliverOverride != nil {
		j.DeliverOverride = emptyToNil(params.DeliverOverride)
	}
	if params.ScoperIDs != nil {
		j.ScoperIDs = params.ScoperIDs
	}
	j.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateJob(ctx, j); err != nil {
		return domain.Job{}, err
	}
	e.audit(ctx, "job.updated", j.ID, "job", j.ID, actor, nil)
	return j, nil
}

// CreatePhaseParams carries the fields a caller may set on a new phase.
type CreatePhaseParams struct {
	Title       string
	ReportCount int
	Hours       domain.ScopedHours
	ProjectLead *string
}

func (e *Engine) CreatePhase(ctx context.Context, jobID string, params CreatePhaseParams, actor string) (domain.Phase, error) {
	if params.Title == "" {
		return domain.Phase{}, fmt.Errorf("title is required")
	}
	if params.ReportCount < 0 {
		return domain.Phase{}, fmt.Errorf("report_count cannot be negative")
	}
	unlock := e.locks.lock(jobID)
	defer unlock()

	if _, err := e.Repo.GetJob(ctx, jobID); err != nil {
		return domain.Phase{}, err
	}
	seq, err := e.Repo.NextPhaseSeq(ctx, jobID)
	if err != nil {
		return domain.Phase{}, err
	}
	now := e.nowStr()
	p := domain.Phase{
		ID:              uuid.NewString(),
		JobID:           jobID,
		Seq:             seq,
		Title:           params.Title,
		Status:          string(workflow.PhaseDraft),
		StatusChangedAt: now,
		ReportCount:     params.ReportCount,
		Hours:           params.Hours,
		ProjectLead:     params.ProjectLead,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertPhase(ctx, p); err != nil {
		return domain.Phase{}, err
	}
	e.audit(ctx, "phase.created", jobID, "phase", p.ID, actor, events.EventPayload{"title": p.Title, "seq": p.Seq})
	return p, nil
}

// UpdatePhaseParams are the mutable non-status phase fields.
type UpdatePhaseParams struct {
	Title           *string
	ReportCount     *int
	Hours           *domain.ScopedHours
	ProjectLead     *string
	ReportAuthor    *string
	TechQAReviewer  *string
	PresQAReviewer  *string
	StartOverride   *string
	DeliverOverride *string
	TQADueOverride  *string
	PQADueOverride  *string
	DeliverableLink *string
	TechDataLink    *string
	ReportDataLink  *string
}

func (e *Engine) UpdatePhase(ctx context.Context, phaseID string, params UpdatePhaseParams, actor string) (domain.Phase, error) {
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, err
	}
	unlock := e.locks.lock(p.JobID)
	defer unlock()

	p, err = e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, err
	}
	setStr(&p.Title, params.Title)
	if params.ReportCount != nil {
		if *params.ReportCount < 0 {
			return domain.Phase{}, fmt.Errorf("report_count cannot be negative")
		}
		p.ReportCount = *params.ReportCount
	}
	if params.Hours != nil {
		p.Hours = *params.Hours
	}
	for _, f := range []struct {
		dst **string
		src *string
	}{
		{&p.ProjectLead, params.ProjectLead},
		{&p.ReportAuthor, params.ReportAuthor},
		{&p.TechQAReviewer, params.TechQAReviewer},
		{&p.PresQAReviewer, params.PresQAReviewer},
		{&p.StartOverride, params.StartOverride},
		{&p.DeliverOverride, params.DeliverOverride},
		{&p.TQADueOverride, params.TQADueOverride},
		{&p.PQADueOverride, params.PQADueOverride},
	} {
		if f.src != nil {
			*f.dst = emptyToNil(f.src)
		}
	}
	setStr(&p.DeliverableLink, params.DeliverableLink)
	setStr(&p.TechDataLink, params.TechDataLink)
	setStr(&p.ReportDataLink, params.ReportDataLink)
	p.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdatePhase(ctx, p); err != nil {
		return domain.Phase{}, err
	}
	e.audit(ctx, "phase.updated", p.JobID, "phase", p.ID, actor, nil)
	return p, nil
}

// RecordScopeVerdict captures the consultant's view of the scoping accuracy.
func (e *Engine) RecordScopeVerdict(ctx context.Context, phaseID, verdict, actor string) (domain.Phase, error) {
	if verdict != "correct" && verdict != "incorrect" {
		return domain.Phase{}, fmt.Errorf("scope verdict must be correct or incorrect, got %q", verdict)
	}
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, err
	}
	p.ScopeVerdict = &verdict
	p.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdatePhase(ctx, p); err != nil {
		return domain.Phase{}, err
	}
	e.audit(ctx, "phase.scope_verdict", p.JobID, "phase", p.ID, actor, events.EventPayload{"verdict": verdict})
	return p, nil
}

// AddFeedback appends a feedback entry against a phase.
func (e *Engine) AddFeedback(ctx context.Context, phaseID, kind, body, actor string) (domain.Feedback, error) {
	switch kind {
	case "scope", "qa_tech", "qa_pres":
	default:
		return domain.Feedback{}, fmt.Errorf("unknown feedback kind %q", kind)
	}
	if body == "" {
		return domain.Feedback{}, fmt.Errorf("feedback body is required")
	}
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Feedback{}, err
	}
	f := domain.Feedback{
		ID:        uuid.NewString(),
		PhaseID:   phaseID,
		Kind:      kind,
		AuthorID:  actor,
		Body:      body,
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertFeedback(ctx, f); err != nil {
		return domain.Feedback{}, err
	}
	e.audit(ctx, "phase.feedback", p.JobID, "phase", p.ID, actor, events.EventPayload{"kind": kind})
	return f, nil
}

// RateQA records a 1-5 QA rating. stage is "tech" or "pres".
func (e *Engine) RateQA(ctx context.Context, phaseID, stage string, rating int, actor string) (domain.Phase, error) {
	if rating < 1 || rating > 5 {
		return domain.Phase{}, fmt.Errorf("rating must be between 1 and 5")
	}
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, err
	}
	switch stage {
	case "tech":
		p.TechQARating = &rating
	case "pres":
		p.PresQARating = &rating
	default:
		return domain.Phase{}, fmt.Errorf("unknown QA stage %q", stage)
	}
	p.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdatePhase(ctx, p); err != nil {
		return domain.Phase{}, err
	}
	e.audit(ctx, "phase.qa_rated", p.JobID, "phase", p.ID, actor, events.EventPayload{"stage": stage, "rating": rating})
	return p, nil
}

// AddSlotParams describes one allocation. PhaseID nil means unbound time
// (leave, internal work) which never touches the workflow.
type AddSlotParams struct {
	PhaseID  *string
	PersonID string
	Role     string
	Start    string
	End      string
}

// AddSlot records an allocation. When the owning phase sits in pending_sched
// the phase is advanced to sched_tentative in the same transaction; any other
// phase state is left alone.
func (e *Engine) AddSlot(ctx context.Context, params AddSlotParams, actor string) (domain.TimeSlot, error) {
	if params.PersonID == "" {
		return domain.TimeSlot{}, fmt.Errorf("person_id is required")
	}
	start, err := time.Parse(time.RFC3339, params.Start)
	if err != nil {
		return domain.TimeSlot{}, fmt.Errorf("slot start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, params.End)
	if err != nil {
		return domain.TimeSlot{}, fmt.Errorf("slot end: %w", err)
	}
	if end.Before(start) {
		return domain.TimeSlot{}, fmt.Errorf("slot end precedes start")
	}
	s := domain.TimeSlot{
		ID:        uuid.NewString(),
		PhaseID:   params.PhaseID,
		PersonID:  params.PersonID,
		Role:      params.Role,
		Start:     start.UTC().Format(time.RFC3339),
		End:       end.UTC().Format(time.RFC3339),
		CreatedAt: e.nowStr(),
	}
	if s.Role == "" {
		s.Role = "none"
	}
	if params.PhaseID == nil {
		if err := e.Repo.InsertSlot(ctx, s); err != nil {
			return domain.TimeSlot{}, err
		}
		return s, nil
	}

	p, err := e.Repo.GetPhase(ctx, *params.PhaseID)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	unlock := e.locks.lock(p.JobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSlotTx(ctx, tx, s); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := e.Events.Append(ctx, tx, "slot.added", p.JobID, "phase", p.ID, actor, events.EventPayload{"person_id": s.PersonID, "role": s.Role}); err != nil {
		e.Log.Warn("audit append failed", zap.String("entity_id", p.ID), zap.Error(err))
	}
	if p.Status == string(workflow.PhasePendingSched) {
		if err := e.tryPhaseTransition(ctx, tx, p.ID, workflow.PhaseSchedTentative, actor); err != nil {
			return domain.TimeSlot{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeSlot{}, err
	}
	return s, nil
}

// DeleteSlot removes an allocation. When the removed slot was the last one
// on a scheduled phase, the phase is offered back to pending_sched; if that
// guard refuses, the status stays put and the refusal is logged.
func (e *Engine) DeleteSlot(ctx context.Context, slotID, actor string) error {
	s, err := e.Repo.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if s.PhaseID == nil {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteSlotTx(ctx, tx, slotID); err != nil {
			return err
		}
		return tx.Commit()
	}

	p, err := e.Repo.GetPhase(ctx, *s.PhaseID)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(p.JobID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSlotTx(ctx, tx, slotID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "slot.removed", p.JobID, "phase", p.ID, actor, nil); err != nil {
		e.Log.Warn("audit append failed", zap.String("entity_id", p.ID), zap.Error(err))
	}
	remaining, err := e.Repo.CountSlotsByPhaseTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if remaining == 0 && workflow.PhaseStatus(p.Status).Scheduled() {
		if err := e.tryPhaseTransition(ctx, tx, p.ID, workflow.PhasePendingSched, actor); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// tryPhaseTransition runs a guard-checked transition inside the caller's
// transaction. A guard refusal is logged and swallowed.
func (e *Engine) tryPhaseTransition(ctx context.Context, tx *sql.Tx, phaseID string, target workflow.PhaseStatus, actor string) error {
	pc, err := e.loadPhaseContext(ctx, tx, phaseID, actor)
	if err != nil {
		return err
	}
	if res := workflow.PhaseCan(pc, target); !res.Allowed {
		e.logSkippedCascade(workflow.CascadeRequest{EntityKind: "phase", EntityID: phaseID, Target: string(target)}, res)
		return nil
	}
	p := pc.Phase
	return e.applyPhase(ctx, tx, pc, &p, target, actor, map[string]bool{})
}

// AddCostRecord upserts a person's cost per hour from an effective date.
func (e *Engine) AddCostRecord(ctx context.Context, personID, effectiveDate string, costPerHour float64) (domain.CostRecord, error) {
	if _, err := time.Parse("2006-01-02", effectiveDate); err != nil {
		return domain.CostRecord{}, fmt.Errorf("effective_date: %w", err)
	}
	if costPerHour < 0 {
		return domain.CostRecord{}, fmt.Errorf("cost_per_hour cannot be negative")
	}
	c := domain.CostRecord{
		ID:            uuid.NewString(),
		PersonID:      personID,
		EffectiveDate: effectiveDate,
		CostPerHour:   costPerHour,
	}
	if err := e.Repo.InsertCostRecord(ctx, c); err != nil {
		return domain.CostRecord{}, err
	}
	return c, nil
}

// AddChecklistItem registers an advisory item shown when an entity is about
// to enter the target status.
func (e *Engine) AddChecklistItem(ctx context.Context, entityKind, targetStatus, text string, sort int) (domain.ChecklistItem, error) {
	switch entityKind {
	case "job":
		if !workflow.JobStatus(targetStatus).Valid() {
			return domain.ChecklistItem{}, fmt.Errorf("unknown job status %q", targetStatus)
		}
	case "phase":
		if !workflow.PhaseStatus(targetStatus).Valid() {
			return domain.ChecklistItem{}, fmt.Errorf("unknown phase status %q", targetStatus)
		}
	default:
		return domain.ChecklistItem{}, fmt.Errorf("entity kind must be job or phase")
	}
	c := domain.ChecklistItem{
		ID:           uuid.NewString(),
		EntityKind:   entityKind,
		TargetStatus: targetStatus,
		Text:         text,
		Sort:         sort,
	}
	if err := e.Repo.InsertChecklistItem(ctx, c); err != nil {
		return domain.ChecklistItem{}, err
	}
	return c, nil
}

// JobTargetOptions lists each declared target from the job's current status
// with its guard outcome, for pick lists.
func (e *Engine) JobTargetOptions(ctx context.Context, jobID, actor string) (map[workflow.JobStatus]workflow.Result, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	jc, err := e.loadJobContext(ctx, tx, jobID, actor)
	if err != nil {
		return nil, err
	}
	out := map[workflow.JobStatus]workflow.Result{}
	for _, target := range workflow.JobTargets(workflow.JobStatus(jc.Job.Status)) {
		out[target] = workflow.JobCan(jc, target)
	}
	return out, nil
}

// PhaseTargetOptions is the phase-side counterpart of JobTargetOptions.
func (e *Engine) PhaseTargetOptions(ctx context.Context, phaseID, actor string) (map[workflow.PhaseStatus]workflow.Result, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	pc, err := e.loadPhaseContext(ctx, tx, phaseID, actor)
	if err != nil {
		return nil, err
	}
	out := map[workflow.PhaseStatus]workflow.Result{}
	for _, target := range workflow.PhaseTargets(workflow.PhaseStatus(pc.Phase.Status)) {
		out[target] = workflow.PhaseCan(pc, target)
	}
	return out, nil
}

// audit writes a one-off activity line outside any transition flow. Failures
// are logged, never surfaced.
func (e *Engine) audit(ctx context.Context, evtType, jobID, entityKind, entityID, actor string, payload events.EventPayload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Log.Warn("audit begin failed", zap.Error(err))
		return
	}
	if err := e.Events.Append(ctx, tx, evtType, jobID, entityKind, entityID, actor, payload); err != nil {
		tx.Rollback()
		e.Log.Warn("audit append failed", zap.String("type", evtType), zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		e.Log.Warn("audit commit failed", zap.Error(err))
	}
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func emptyToNil(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
