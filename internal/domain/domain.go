package domain

// Job is one client engagement, the top-level unit of work.
type Job struct {
	ID               string   `json:"id"`
	ClientName       string   `json:"client_name"`
	Title            string   `json:"title"`
	Overview         string   `json:"overview,omitempty"`
	Status           string   `json:"status"`
	StatusChangedAt  string   `json:"status_changed_at" format:"date-time"`
	HighRisk         bool     `json:"high_risk"`
	TechComplex      bool     `json:"tech_complex"`
	HighRiskReason   string   `json:"high_risk_reason,omitempty"`
	PrimaryContact   string   `json:"primary_contact,omitempty"`
	AccountManager   *string  `json:"account_manager_id,omitempty"`
	SignoffApprover  *string  `json:"signoff_approver_id,omitempty"`
	StartOverride    *string  `json:"start_override,omitempty" format:"date"`
	DeliverOverride  *string  `json:"deliver_override,omitempty" format:"date"`
	ScopeRequestedAt *string  `json:"scope_requested_at,omitempty" format:"date-time"`
	SignedOffBy      *string  `json:"signed_off_by,omitempty"`
	SignedOffAt      *string  `json:"signed_off_at,omitempty" format:"date-time"`
	ScoperIDs        []string `json:"scoper_ids,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

// ScopedHours are the per-category hour buckets scoped for a phase.
type ScopedHours struct {
	Delivery    float64 `json:"delivery"`
	Reporting   float64 `json:"reporting"`
	Management  float64 `json:"management"`
	QA          float64 `json:"qa"`
	Oversight   float64 `json:"oversight"`
	Debrief     float64 `json:"debrief"`
	Contingency float64 `json:"contingency"`
	Other       float64 `json:"other"`
}

// Total sums every bucket.
func (h ScopedHours) Total() float64 {
	return h.Delivery + h.Reporting + h.Management + h.QA +
		h.Oversight + h.Debrief + h.Contingency + h.Other
}

// Phase is one schedulable delivery unit within a Job.
type Phase struct {
	ID              string      `json:"id"`
	JobID           string      `json:"job_id"`
	Seq             int         `json:"seq"`
	Title           string      `json:"title"`
	Status          string      `json:"status"`
	StatusChangedAt string      `json:"status_changed_at" format:"date-time"`
	ReportCount     int         `json:"report_count"`
	Hours           ScopedHours `json:"hours"`
	ProjectLead     *string     `json:"project_lead_id,omitempty"`
	ReportAuthor    *string     `json:"report_author_id,omitempty"`
	TechQAReviewer  *string     `json:"techqa_reviewer_id,omitempty"`
	PresQAReviewer  *string     `json:"presqa_reviewer_id,omitempty"`
	StartOverride   *string     `json:"start_override,omitempty" format:"date"`
	DeliverOverride *string     `json:"deliver_override,omitempty" format:"date"`
	TQADueOverride  *string     `json:"tqa_due_override,omitempty" format:"date"`
	PQADueOverride  *string     `json:"pqa_due_override,omitempty" format:"date"`
	ScopeVerdict    *string     `json:"scope_verdict,omitempty" enum:"correct,incorrect"`
	DeliverableLink string      `json:"deliverable_link,omitempty"`
	TechDataLink    string      `json:"tech_data_link,omitempty"`
	ReportDataLink  string      `json:"report_data_link,omitempty"`
	TechQARating    *int        `json:"techqa_rating,omitempty"`
	PresQARating    *int        `json:"presqa_rating,omitempty"`
	TechQAPassedAt  *string     `json:"techqa_passed_at,omitempty" format:"date-time"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
	UpdatedAt       string      `json:"updated_at" format:"date-time"`
}

// TimeSlot allocates one person to a time range, optionally against a phase.
// Whether a slot is confirmed is never stored; it is derived from the owning
// phase's status, and slots with no phase are always confirmed.
type TimeSlot struct {
	ID        string  `json:"id"`
	PhaseID   *string `json:"phase_id,omitempty"`
	PersonID  string  `json:"person_id"`
	Role      string  `json:"role" enum:"delivery,reporting,management,qa,oversight,debrief,contingency,other,none"`
	Start     string  `json:"start" format:"date-time"`
	End       string  `json:"end" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// CostRecord is a person's cost per hour effective from a given date.
type CostRecord struct {
	ID            string  `json:"id"`
	PersonID      string  `json:"person_id"`
	EffectiveDate string  `json:"effective_date" format:"date"`
	CostPerHour   float64 `json:"cost_per_hour"`
}

// ChecklistItem is an advisory to-do bound to a target status of a job or
// phase. It never affects transition guards.
type ChecklistItem struct {
	ID           string `json:"id"`
	EntityKind   string `json:"entity_kind" enum:"job,phase"`
	TargetStatus string `json:"target_status"`
	Text         string `json:"text"`
	Sort         int    `json:"sort"`
}

// Feedback is a QA or scoping feedback entry against a phase.
type Feedback struct {
	ID        string `json:"id"`
	PhaseID   string `json:"phase_id"`
	Kind      string `json:"kind" enum:"scope,qa_tech,qa_pres"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Notification is one queued notification request. Delivery is a separate
// concern; the core only ever enqueues.
type Notification struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	BodyRef    string `json:"body_ref"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Audience   string `json:"audience"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Event is one activity-log line.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
