package workflow

import (
	"errors"
	"time"

	"scopeline/internal/domain"
)

// ErrBadTransition marks an ApplyTransition attempted from a source state
// not in the transition's declared source set. It is a programming error or
// data corruption, never normal guard flow.
var ErrBadTransition = errors.New("transition not declared for source state")

// CascadeRequest asks the orchestrator to attempt a follow-on transition on
// a related entity within the same atomic unit. Cascade guard failures are
// skipped silently (and logged), never escalated.
type CascadeRequest struct {
	EntityKind string // "job" or "phase"
	EntityID   string
	Target     string
}

// Notice describes the single notification request a successful transition
// emits. Audience is a capability string resolved by the notifier.
type Notice struct {
	Kind     string
	Title    string
	BodyRef  string
	Audience string
}

// Effects are the side effects of a successful ApplyTransition.
type Effects struct {
	Notice   *Notice
	Cascades []CascadeRequest
}

// PhaseContext is the read snapshot a phase guard evaluates against.
// Guards are pure: they never mutate and never touch storage.
type PhaseContext struct {
	Phase    domain.Phase
	Job      domain.Job
	Siblings []domain.Phase // other phases of the same job

	SlotCount      int
	FeedbackCounts map[string]int // by feedback kind

	// EffectiveStart is the ledger-resolved start date, nil when unknown.
	EffectiveStart *time.Time
	Today          time.Time

	Actor string
	Can   func(capability string) bool // advisory only
}

func (pc *PhaseContext) can(capability string) bool {
	return pc.Can != nil && pc.Can(capability)
}

func (pc *PhaseContext) feedback(kind string) int {
	if pc.FeedbackCounts == nil {
		return 0
	}
	return pc.FeedbackCounts[kind]
}

// JobContext is the read snapshot a job guard evaluates against. It carries
// the child phase contexts so job guards can consult phase guards (e.g.
// delete is blocked unless every phase could itself be deleted).
type JobContext struct {
	Job    domain.Job
	Phases []PhaseContext

	Actor string
	Can   func(capability string) bool
}

func (jc *JobContext) can(capability string) bool {
	return jc.Can != nil && jc.Can(capability)
}

func (jc *JobContext) isScoper(actor string) bool {
	for _, id := range jc.Job.ScoperIDs {
		if id == actor {
			return true
		}
	}
	return false
}
