package workflow

import (
	"fmt"

	"scopeline/internal/domain"
)

// PhaseTransition is one entry in the phase transition table.
type PhaseTransition struct {
	Guard func(*PhaseContext) []Message
	Apply func(*PhaseContext, *domain.Phase, string) []CascadeRequest
}

type phaseKey struct {
	From, To PhaseStatus
}

var phaseTable = map[phaseKey]PhaseTransition{}

func registerPhase(from []PhaseStatus, to PhaseStatus, t PhaseTransition) {
	for _, f := range from {
		k := phaseKey{From: f, To: to}
		if _, dup := phaseTable[k]; dup {
			panic(fmt.Sprintf("duplicate phase transition %s -> %s", f, to))
		}
		phaseTable[k] = t
	}
}

// phasePreDelivery are the active states before the delivery gate; a phase
// with no reports may be delivered straight from any of them.
var phasePreDelivery = []PhaseStatus{
	PhaseDraft, PhasePendingSched, PhaseSchedTentative, PhaseSchedConfirmed,
	PhasePreChecks, PhaseClientNotReady, PhaseReadyToBegin, PhaseInProgress,
	PhaseQATech, PhaseQATechUpdates, PhaseQAPres, PhaseQAPresUpdates,
}

func init() {
	registerPhase([]PhaseStatus{PhaseDraft, PhaseSchedTentative, PhaseSchedConfirmed, PhasePostponed}, PhasePendingSched, PhaseTransition{})
	registerPhase([]PhaseStatus{PhasePendingSched, PhaseSchedConfirmed}, PhaseSchedTentative, PhaseTransition{
		Guard: guardPhaseScheduled,
	})
	registerPhase([]PhaseStatus{PhaseSchedTentative}, PhaseSchedConfirmed, PhaseTransition{
		Guard: guardPhaseConfirmed,
		Apply: applyPhaseConfirmed,
	})
	registerPhase([]PhaseStatus{PhaseSchedConfirmed, PhaseClientNotReady}, PhasePreChecks, PhaseTransition{
		Guard: guardPhasePreChecks,
	})
	registerPhase([]PhaseStatus{PhasePreChecks}, PhaseClientNotReady, PhaseTransition{})
	registerPhase([]PhaseStatus{PhasePreChecks, PhaseClientNotReady}, PhaseReadyToBegin, PhaseTransition{})
	registerPhase([]PhaseStatus{PhaseReadyToBegin}, PhaseInProgress, PhaseTransition{
		Guard: guardPhaseBegin,
		Apply: applyPhaseBegin,
	})
	registerPhase([]PhaseStatus{PhaseInProgress, PhaseQATechUpdates}, PhaseQATech, PhaseTransition{
		Guard: guardPhaseQATech,
	})
	registerPhase([]PhaseStatus{PhaseQATech}, PhaseQATechUpdates, PhaseTransition{})
	registerPhase([]PhaseStatus{PhaseQATech}, PhaseQAPres, PhaseTransition{
		Guard: guardPhaseQAPres,
		Apply: applyPhaseQAPres,
	})
	registerPhase([]PhaseStatus{PhaseQAPresUpdates}, PhaseQAPres, PhaseTransition{})
	registerPhase([]PhaseStatus{PhaseQAPres}, PhaseQAPresUpdates, PhaseTransition{})
	registerPhase([]PhaseStatus{PhaseQAPres, PhaseInProgress}, PhaseCompleted, PhaseTransition{
		Guard: guardPhaseCompleted,
	})
	registerPhase([]PhaseStatus{PhaseCompleted}, PhaseDelivered, PhaseTransition{
		Apply: applyPhaseDelivered,
	})
	registerPhase(phasePreDelivery, PhaseDelivered, PhaseTransition{
		Guard: guardPhaseDeliveredNoReport,
		Apply: applyPhaseDelivered,
	})
	registerPhase([]PhaseStatus{PhaseDelivered, PhaseDeleted, PhaseCancelled}, PhaseArchived, PhaseTransition{})

	for _, exit := range []PhaseStatus{PhaseCancelled, PhasePostponed, PhaseDeleted} {
		var from []PhaseStatus
		for _, s := range PhaseStatuses {
			if s != exit {
				from = append(from, s)
			}
		}
		registerPhase(from, exit, PhaseTransition{})
	}
}

func guardPhaseScheduled(pc *PhaseContext) []Message {
	if pc.SlotCount == 0 {
		return []Message{errorf("no time slots are scheduled")}
	}
	return nil
}

func guardPhaseConfirmed(pc *PhaseContext) []Message {
	var msgs []Message
	if pc.SlotCount == 0 {
		msgs = append(msgs, errorf("no time slots are scheduled"))
	}
	if pc.Phase.ProjectLead == nil || *pc.Phase.ProjectLead == "" {
		msgs = append(msgs, errorf("a project lead must be assigned"))
	}
	if pc.Phase.ReportCount > 0 && (pc.Phase.ReportAuthor == nil || *pc.Phase.ReportAuthor == "") {
		msgs = append(msgs, errorf("a report author must be assigned"))
	}
	if !JobStatus(pc.Job.Status).AtOrPast(JobScopingComplete) {
		msgs = append(msgs, errorf("the job scoping is not complete"))
	}
	return msgs
}

func applyPhaseConfirmed(pc *PhaseContext, _ *domain.Phase, _ string) []CascadeRequest {
	if JobStatus(pc.Job.Status).AtOrPast(JobPendingStart) {
		return nil
	}
	return []CascadeRequest{{EntityKind: "job", EntityID: pc.Job.ID, Target: string(JobPendingStart)}}
}

func guardPhasePreChecks(pc *PhaseContext) []Message {
	if pc.EffectiveStart == nil {
		return []Message{errorf("no start date is known")}
	}
	if pc.EffectiveStart.Sub(pc.Today).Hours() >= 7*24 {
		return []Message{errorf("the start date is more than 7 days away")}
	}
	return nil
}

func guardPhaseBegin(pc *PhaseContext) []Message {
	if pc.EffectiveStart == nil {
		return []Message{errorf("no start date is known")}
	}
	if pc.EffectiveStart.After(pc.Today) {
		return []Message{errorf("the start date has not arrived")}
	}
	return nil
}

func applyPhaseBegin(pc *PhaseContext, _ *domain.Phase, _ string) []CascadeRequest {
	if JobStatus(pc.Job.Status) != JobPendingStart {
		return nil
	}
	return []CascadeRequest{{EntityKind: "job", EntityID: pc.Job.ID, Target: string(JobInProgress)}}
}

func guardPhaseQATech(pc *PhaseContext) []Message {
	var msgs []Message
	if pc.Phase.ScopeVerdict == nil {
		msgs = append(msgs, errorf("a scope correctness verdict has not been recorded"))
	} else if *pc.Phase.ScopeVerdict == "incorrect" && pc.feedback("scope") == 0 {
		msgs = append(msgs, errorf("scope feedback is required when the scope was incorrect"))
	}
	links := []struct {
		value string
		name  string
	}{
		{pc.Phase.DeliverableLink, "deliverable"},
		{pc.Phase.TechDataLink, "technical data"},
		{pc.Phase.ReportDataLink, "report data"},
	}
	for _, l := range links {
		if l.value != "" {
			continue
		}
		if pc.Phase.ReportCount > 0 {
			msgs = append(msgs, errorf("the %s link is missing", l.name))
		} else {
			msgs = append(msgs, infof("the %s link is missing", l.name))
		}
	}
	return msgs
}

func guardPhaseQAPres(pc *PhaseContext) []Message {
	var msgs []Message
	if r := pc.Phase.TechQAReviewer; r != nil && *r != "" && *r != pc.Actor {
		msgs = append(msgs, errorf("technical QA is assigned to %s", *r))
	}
	if pc.feedback("qa_tech") == 0 {
		msgs = append(msgs, errorf("no technical QA feedback has been recorded"))
	}
	if pc.Phase.TechQARating == nil {
		msgs = append(msgs, errorf("no technical QA rating has been recorded"))
	}
	return msgs
}

func applyPhaseQAPres(pc *PhaseContext, p *domain.Phase, now string) []CascadeRequest {
	if p.TechQAReviewer == nil || *p.TechQAReviewer == "" {
		p.TechQAReviewer = &pc.Actor
	}
	p.TechQAPassedAt = &now
	return nil
}

func guardPhaseCompleted(pc *PhaseContext) []Message {
	if pc.Phase.ReportCount == 0 {
		return []Message{infof("report count is zero; QA is bypassed - are you sure there is no report?")}
	}
	var msgs []Message
	if pc.Phase.TechQAPassedAt == nil {
		msgs = append(msgs, errorf("the phase has not passed technical QA"))
	}
	if pc.Phase.PresQAReviewer == nil || *pc.Phase.PresQAReviewer == "" {
		msgs = append(msgs, errorf("a presentation QA reviewer must be assigned"))
	}
	if pc.feedback("qa_pres") == 0 {
		msgs = append(msgs, errorf("no presentation QA feedback has been recorded"))
	}
	if pc.Phase.PresQARating == nil {
		msgs = append(msgs, errorf("no presentation QA rating has been recorded"))
	}
	return msgs
}

func guardPhaseDeliveredNoReport(pc *PhaseContext) []Message {
	if pc.Phase.ReportCount > 0 {
		return []Message{errorf("phases with reports must complete QA before delivery")}
	}
	return nil
}

func applyPhaseDelivered(pc *PhaseContext, p *domain.Phase, _ string) []CascadeRequest {
	if JobStatus(pc.Job.Status) != JobInProgress {
		return nil
	}
	for _, sib := range pc.Siblings {
		st := PhaseStatus(sib.Status)
		if st == PhaseCancelled || st == PhaseDeleted {
			continue
		}
		if !st.DeliveredOrLater() {
			return nil
		}
	}
	return []CascadeRequest{{EntityKind: "job", EntityID: pc.Job.ID, Target: string(JobCompleted)}}
}

var phaseAudiences = map[PhaseStatus]string{
	PhasePendingSched: "phase.schedule",
	PhaseQATech:       "qa.tech",
	PhaseQAPres:       "qa.pres",
}

func phaseNotice(p *domain.Phase, target PhaseStatus) *Notice {
	audience, ok := phaseAudiences[target]
	if !ok {
		audience = "phase.watch"
	}
	return &Notice{
		Kind:     "phase.status." + string(target),
		Title:    fmt.Sprintf("Phase %d moved to %s", p.Seq, target),
		BodyRef:  "phase_status_changed",
		Audience: audience,
	}
}

// PhaseCan is the pure precondition check for a phase transition.
func PhaseCan(pc *PhaseContext, target PhaseStatus) Result {
	t, ok := phaseTable[phaseKey{From: PhaseStatus(pc.Phase.Status), To: target}]
	if !ok {
		return denied(errorf("phase cannot move from %s to %s", pc.Phase.Status, target))
	}
	if t.Guard == nil {
		return Result{Allowed: true}
	}
	return resultFrom(t.Guard(pc))
}

// PhaseApply mutates the phase into the target state and returns the side
// effects. Callers must have seen PhaseCan return allowed for the same
// source state.
func PhaseApply(pc *PhaseContext, p *domain.Phase, target PhaseStatus, now string) (Effects, error) {
	t, ok := phaseTable[phaseKey{From: PhaseStatus(p.Status), To: target}]
	if !ok {
		return Effects{}, fmt.Errorf("phase %s -> %s: %w", p.Status, target, ErrBadTransition)
	}
	var casc []CascadeRequest
	if t.Apply != nil {
		casc = t.Apply(pc, p, now)
	}
	p.Status = string(target)
	p.StatusChangedAt = now
	p.UpdatedAt = now
	return Effects{Notice: phaseNotice(p, target), Cascades: casc}, nil
}

// PhaseTargets lists the targets declared reachable from the given state.
func PhaseTargets(from PhaseStatus) []PhaseStatus {
	var out []PhaseStatus
	for _, to := range PhaseStatuses {
		if _, ok := phaseTable[phaseKey{From: from, To: to}]; ok {
			out = append(out, to)
		}
	}
	return out
}

// Validate checks both transition tables against the declared state sets.
// It runs from init so a malformed table fails at startup, not mid-request.
func Validate() error {
	for k := range jobTable {
		if !k.From.Valid() || !k.To.Valid() {
			return fmt.Errorf("job transition %s -> %s references an undeclared state", k.From, k.To)
		}
	}
	for k := range phaseTable {
		if !k.From.Valid() || !k.To.Valid() {
			return fmt.Errorf("phase transition %s -> %s references an undeclared state", k.From, k.To)
		}
	}
	return nil
}

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
}
