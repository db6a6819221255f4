package workflow

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobDraft           JobStatus = "draft"
	JobPendingScope    JobStatus = "pending_scope"
	JobScoping         JobStatus = "scoping"
	JobScopingInfo     JobStatus = "scoping_info_required"
	JobPendingSignoff  JobStatus = "pending_scoping_signoff"
	JobScopingComplete JobStatus = "scoping_complete"
	JobPendingStart    JobStatus = "pending_start"
	JobInProgress      JobStatus = "in_progress"
	JobCompleted       JobStatus = "completed"
	JobLost            JobStatus = "lost"
	JobDeleted         JobStatus = "deleted"
	JobArchived        JobStatus = "archived"
)

// jobRank orders the main delivery path. Lost, deleted and archived sit
// outside the path and have no rank.
var jobRank = map[JobStatus]int{
	JobDraft:           0,
	JobPendingScope:    1,
	JobScoping:         2,
	JobScopingInfo:     3,
	JobPendingSignoff:  4,
	JobScopingComplete: 5,
	JobPendingStart:    6,
	JobInProgress:      7,
	JobCompleted:       8,
}

var JobStatuses = []JobStatus{
	JobDraft, JobPendingScope, JobScoping, JobScopingInfo, JobPendingSignoff,
	JobScopingComplete, JobPendingStart, JobInProgress, JobCompleted,
	JobLost, JobDeleted, JobArchived,
}

// AtOrPast reports whether s has reached o on the main path. States off the
// path (lost, deleted, archived) never compare.
func (s JobStatus) AtOrPast(o JobStatus) bool {
	a, ok1 := jobRank[s]
	b, ok2 := jobRank[o]
	return ok1 && ok2 && a >= b
}

func (s JobStatus) Valid() bool {
	for _, v := range JobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// PhaseStatus is the lifecycle state of a phase.
type PhaseStatus string

const (
	PhaseDraft            PhaseStatus = "draft"
	PhasePendingSched     PhaseStatus = "pending_sched"
	PhaseSchedTentative   PhaseStatus = "sched_tentative"
	PhaseSchedConfirmed   PhaseStatus = "sched_confirmed"
	PhasePreChecks        PhaseStatus = "pre_checks"
	PhaseClientNotReady   PhaseStatus = "client_not_ready"
	PhaseReadyToBegin     PhaseStatus = "ready_to_begin"
	PhaseInProgress       PhaseStatus = "in_progress"
	PhaseQATech           PhaseStatus = "qa_tech"
	PhaseQATechUpdates    PhaseStatus = "qa_tech_author_updates"
	PhaseQAPres           PhaseStatus = "qa_pres"
	PhaseQAPresUpdates    PhaseStatus = "qa_pres_author_updates"
	PhaseCompleted        PhaseStatus = "completed"
	PhaseDelivered        PhaseStatus = "delivered"
	PhaseCancelled        PhaseStatus = "cancelled"
	PhasePostponed        PhaseStatus = "postponed"
	PhaseDeleted          PhaseStatus = "deleted"
	PhaseArchived         PhaseStatus = "archived"
)

var phaseRank = map[PhaseStatus]int{
	PhaseDraft:          0,
	PhasePendingSched:   1,
	PhaseSchedTentative: 2,
	PhaseSchedConfirmed: 3,
	PhasePreChecks:      4,
	PhaseClientNotReady: 5,
	PhaseReadyToBegin:   6,
	PhaseInProgress:     7,
	PhaseQATech:         8,
	PhaseQATechUpdates:  9,
	PhaseQAPres:         10,
	PhaseQAPresUpdates:  11,
	PhaseCompleted:      12,
	PhaseDelivered:      13,
	PhaseArchived:       14,
}

var PhaseStatuses = []PhaseStatus{
	PhaseDraft, PhasePendingSched, PhaseSchedTentative, PhaseSchedConfirmed,
	PhasePreChecks, PhaseClientNotReady, PhaseReadyToBegin, PhaseInProgress,
	PhaseQATech, PhaseQATechUpdates, PhaseQAPres, PhaseQAPresUpdates,
	PhaseCompleted, PhaseDelivered, PhaseCancelled, PhasePostponed,
	PhaseDeleted, PhaseArchived,
}

// AtOrPast reports whether s has reached o on the main path.
func (s PhaseStatus) AtOrPast(o PhaseStatus) bool {
	a, ok1 := phaseRank[s]
	b, ok2 := phaseRank[o]
	return ok1 && ok2 && a >= b
}

func (s PhaseStatus) Valid() bool {
	for _, v := range PhaseStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// DeliveredOrLater reports whether a phase counts as delivered for job
// completion purposes.
func (s PhaseStatus) DeliveredOrLater() bool {
	return s == PhaseDelivered || s == PhaseArchived
}

// Scheduled reports whether a phase currently claims a schedule.
func (s PhaseStatus) Scheduled() bool {
	return s == PhaseSchedTentative || s == PhaseSchedConfirmed
}
