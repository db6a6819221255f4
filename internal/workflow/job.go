package workflow

import (
	"fmt"

	"scopeline/internal/domain"
)

// JobTransition is one entry in the job transition table. Guard is a pure
// precondition check; Apply performs transition bookkeeping on the entity
// and returns cascade requests for the orchestrator.
type JobTransition struct {
	Guard func(*JobContext) []Message
	Apply func(*JobContext, *domain.Job, string) []CascadeRequest
}

type jobKey struct {
	From, To JobStatus
}

var jobTable = map[jobKey]JobTransition{}

func registerJob(from []JobStatus, to JobStatus, t JobTransition) {
	for _, f := range from {
		k := jobKey{From: f, To: to}
		if _, dup := jobTable[k]; dup {
			panic(fmt.Sprintf("duplicate job transition %s -> %s", f, to))
		}
		jobTable[k] = t
	}
}

// jobPreStart are the states a job can be lost from.
var jobPreStart = []JobStatus{
	JobDraft, JobPendingScope, JobScoping, JobScopingInfo,
	JobPendingSignoff, JobScopingComplete, JobPendingStart,
}

func init() {
	registerJob([]JobStatus{JobDraft}, JobPendingScope, JobTransition{
		Guard: guardJobPendingScope,
		Apply: func(jc *JobContext, j *domain.Job, now string) []CascadeRequest {
			j.ScopeRequestedAt = &now
			return nil
		},
	})
	registerJob([]JobStatus{JobPendingScope}, JobScoping, JobTransition{})
	registerJob([]JobStatus{JobScoping}, JobScopingInfo, JobTransition{})
	registerJob([]JobStatus{JobScopingInfo}, JobScoping, JobTransition{})
	registerJob([]JobStatus{JobScoping, JobScopingInfo}, JobPendingSignoff, JobTransition{
		Guard: guardJobPendingSignoff,
	})
	registerJob([]JobStatus{JobPendingSignoff}, JobScoping, JobTransition{})
	registerJob([]JobStatus{JobPendingSignoff}, JobScopingComplete, JobTransition{
		Guard: guardJobSignoff,
		Apply: applyJobSignoff,
	})
	registerJob([]JobStatus{JobScopingComplete}, JobPendingStart, JobTransition{
		Guard: guardJobPendingStart,
	})
	registerJob([]JobStatus{JobPendingStart}, JobInProgress, JobTransition{
		Guard: guardJobInProgress,
	})
	registerJob([]JobStatus{JobInProgress}, JobCompleted, JobTransition{
		Guard: guardJobCompleted,
	})
	registerJob(jobPreStart, JobLost, JobTransition{})
	registerJob([]JobStatus{JobCompleted, JobLost}, JobArchived, JobTransition{})

	var deletable []JobStatus
	for _, s := range JobStatuses {
		if s != JobDeleted {
			deletable = append(deletable, s)
		}
	}
	registerJob(deletable, JobDeleted, JobTransition{
		Guard: guardJobDeleted,
		Apply: applyJobDeleted,
	})
}

func guardJobPendingScope(jc *JobContext) []Message {
	var msgs []Message
	if jc.Job.AccountManager == nil || *jc.Job.AccountManager == "" {
		msgs = append(msgs, errorf("an account manager must be assigned"))
	}
	if jc.Job.PrimaryContact == "" {
		msgs = append(msgs, errorf("a primary client contact is required"))
	}
	return msgs
}

func guardJobPendingSignoff(jc *JobContext) []Message {
	var msgs []Message
	if jc.Job.Overview == "" {
		msgs = append(msgs, errorf("the job overview is empty"))
	}
	if (jc.Job.HighRisk || jc.Job.TechComplex) && jc.Job.HighRiskReason == "" {
		msgs = append(msgs, errorf("a high risk reason is required"))
	}
	if len(jc.Phases) == 0 {
		msgs = append(msgs, errorf("no phases defined"))
	} else {
		msgs = append(msgs, infof("%d phases defined", len(jc.Phases)))
		for _, pc := range jc.Phases {
			if pc.Phase.Hours.Total() == 0 {
				msgs = append(msgs, errorf("phase %d has no scoped hours", pc.Phase.Seq))
			}
		}
	}
	return msgs
}

func guardJobSignoff(jc *JobContext) []Message {
	// Scoping completeness is rechecked here: phases can be rescoped while
	// the job waits for sign-off.
	msgs := guardJobPendingSignoff(jc)
	if !jc.can("scope.signoff") {
		msgs = append(msgs, warnf("you do not have permission to sign off scopes"))
	}
	if jc.isScoper(jc.Actor) {
		if jc.can("scope.signoff.own") {
			msgs = append(msgs, warnf("signing off a scope you worked on"))
		} else {
			msgs = append(msgs, errorf("scopers may not sign off their own scope"))
		}
	}
	return msgs
}

func applyJobSignoff(jc *JobContext, j *domain.Job, now string) []CascadeRequest {
	j.SignedOffBy = &jc.Actor
	j.SignedOffAt = &now
	var casc []CascadeRequest
	for _, pc := range jc.Phases {
		if PhaseStatus(pc.Phase.Status).AtOrPast(PhasePendingSched) {
			continue
		}
		casc = append(casc, CascadeRequest{
			EntityKind: "phase",
			EntityID:   pc.Phase.ID,
			Target:     string(PhasePendingSched),
		})
	}
	return casc
}

func guardJobPendingStart(jc *JobContext) []Message {
	for _, pc := range jc.Phases {
		if PhaseStatus(pc.Phase.Status).AtOrPast(PhaseSchedConfirmed) {
			return nil
		}
	}
	return []Message{errorf("no phase has a confirmed schedule")}
}

func guardJobInProgress(jc *JobContext) []Message {
	for _, pc := range jc.Phases {
		if PhaseStatus(pc.Phase.Status).AtOrPast(PhaseInProgress) {
			return nil
		}
	}
	return []Message{errorf("no phase has begun")}
}

func guardJobCompleted(jc *JobContext) []Message {
	var msgs []Message
	for _, pc := range jc.Phases {
		st := PhaseStatus(pc.Phase.Status)
		switch {
		case st == PhaseCancelled, st == PhaseDeleted:
			// does not count against completion
		case st == PhasePostponed:
			msgs = append(msgs, errorf("phase %d is postponed", pc.Phase.Seq))
		case !st.DeliveredOrLater():
			msgs = append(msgs, errorf("phase %d is not delivered", pc.Phase.Seq))
		}
	}
	return msgs
}

func guardJobDeleted(jc *JobContext) []Message {
	var msgs []Message
	for i := range jc.Phases {
		pc := &jc.Phases[i]
		if PhaseStatus(pc.Phase.Status) == PhaseDeleted {
			continue
		}
		if res := PhaseCan(pc, PhaseDeleted); !res.Allowed {
			msgs = append(msgs, errorf("phase %d cannot be deleted", pc.Phase.Seq))
		}
	}
	return msgs
}

func applyJobDeleted(jc *JobContext, _ *domain.Job, _ string) []CascadeRequest {
	var casc []CascadeRequest
	for _, pc := range jc.Phases {
		if PhaseStatus(pc.Phase.Status) == PhaseDeleted {
			continue
		}
		casc = append(casc, CascadeRequest{
			EntityKind: "phase",
			EntityID:   pc.Phase.ID,
			Target:     string(PhaseDeleted),
		})
	}
	return casc
}

// jobAudiences maps target states to the capability whose holders are told
// about the change. States not listed notify general watchers.
var jobAudiences = map[JobStatus]string{
	JobPendingScope:   "job.scope",
	JobPendingSignoff: "scope.signoff",
}

func jobNotice(j *domain.Job, target JobStatus) *Notice {
	audience, ok := jobAudiences[target]
	if !ok {
		audience = "job.watch"
	}
	return &Notice{
		Kind:     "job.status." + string(target),
		Title:    fmt.Sprintf("%s moved to %s", j.Title, target),
		BodyRef:  "job_status_changed",
		Audience: audience,
	}
}

// JobCan is the pure precondition check for a job transition. It never
// mutates state.
func JobCan(jc *JobContext, target JobStatus) Result {
	t, ok := jobTable[jobKey{From: JobStatus(jc.Job.Status), To: target}]
	if !ok {
		return denied(errorf("job cannot move from %s to %s", jc.Job.Status, target))
	}
	if t.Guard == nil {
		return Result{Allowed: true}
	}
	return resultFrom(t.Guard(jc))
}

// JobApply mutates the job into the target state and returns the side
// effects for the orchestrator to carry out. Callers must have seen
// JobCan return allowed for the same source state.
func JobApply(jc *JobContext, j *domain.Job, target JobStatus, now string) (Effects, error) {
	t, ok := jobTable[jobKey{From: JobStatus(j.Status), To: target}]
	if !ok {
		return Effects{}, fmt.Errorf("job %s -> %s: %w", j.Status, target, ErrBadTransition)
	}
	var casc []CascadeRequest
	if t.Apply != nil {
		casc = t.Apply(jc, j, now)
	}
	j.Status = string(target)
	j.StatusChangedAt = now
	j.UpdatedAt = now
	return Effects{Notice: jobNotice(j, target), Cascades: casc}, nil
}

// JobTargets lists the targets declared reachable from the given state.
func JobTargets(from JobStatus) []JobStatus {
	var out []JobStatus
	for _, to := range JobStatuses {
		if _, ok := jobTable[jobKey{From: from, To: to}]; ok {
			out = append(out, to)
		}
	}
	return out
}
