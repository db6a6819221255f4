package server

import (
	"time"

	"scopeline/internal/domain"
	"scopeline/internal/ledger"
	"scopeline/internal/workflow"
)

// Request payloads

type CreateJobRequest struct {
	ClientName     string   `json:"client_name"`
	Title          string   `json:"title"`
	Overview       string   `json:"overview,omitempty"`
	HighRisk       bool     `json:"high_risk,omitempty"`
	TechComplex    bool     `json:"tech_complex,omitempty"`
	HighRiskReason string   `json:"high_risk_reason,omitempty"`
	PrimaryContact string   `json:"primary_contact,omitempty"`
	AccountManager *string  `json:"account_manager_id,omitempty"`
	ScoperIDs      []string `json:"scoper_ids,omitempty"`
}

type UpdateJobRequest struct {
	ClientName      *string  `json:"client_name,omitempty"`
	Title           *string  `json:"title,omitempty"`
	Overview        *string  `json:"overview,omitempty"`
	HighRisk        *bool    `json:"high_risk,omitempty"`
	TechComplex     *bool    `json:"tech_complex,omitempty"`
	HighRiskReason  *string  `json:"high_risk_reason,omitempty"`
	PrimaryContact  *string  `json:"primary_contact,omitempty"`
	AccountManager  *string  `json:"account_manager_id,omitempty"`
	SignoffApprover *string  `json:"signoff_approver_id,omitempty"`
	StartOverride   *string  `json:"start_override,omitempty" format:"date"`
	DeliverOverride *string  `json:"deliver_override,omitempty" format:"date"`
	ScoperIDs       []string `json:"scoper_ids,omitempty"`
}

type CreatePhaseRequest struct {
	Title       string             `json:"title"`
	ReportCount int                `json:"report_count,omitempty"`
	Hours       domain.ScopedHours `json:"hours,omitempty"`
	ProjectLead *string            `json:"project_lead_id,omitempty"`
}

type UpdatePhaseRequest struct {
	Title           *string             `json:"title,omitempty"`
	ReportCount     *int                `json:"report_count,omitempty"`
	Hours           *domain.ScopedHours `json:"hours,omitempty"`
	ProjectLead     *string             `json:"project_lead_id,omitempty"`
	ReportAuthor    *string             `json:"report_author_id,omitempty"`
	TechQAReviewer  *string             `json:"techqa_reviewer_id,omitempty"`
	PresQAReviewer  *string             `json:"presqa_reviewer_id,omitempty"`
	StartOverride   *string             `json:"start_override,omitempty" format:"date"`
	DeliverOverride *string             `json:"deliver_override,omitempty" format:"date"`
	TQADueOverride  *string             `json:"tqa_due_override,omitempty" format:"date"`
	PQADueOverride  *string             `json:"pqa_due_override,omitempty" format:"date"`
	DeliverableLink *string             `json:"deliverable_link,omitempty"`
	TechDataLink    *string             `json:"tech_data_link,omitempty"`
	ReportDataLink  *string             `json:"report_data_link,omitempty"`
}

type TransitionRequest struct {
	Target string `json:"target"`
}

type ScopeVerdictRequest struct {
	Verdict string `json:"verdict" enum:"correct,incorrect"`
}

type FeedbackRequest struct {
	Kind string `json:"kind" enum:"scope,qa_tech,qa_pres"`
	Body string `json:"body"`
}

type RatingRequest struct {
	Stage  string `json:"stage" enum:"tech,pres"`
	Rating int    `json:"rating" minimum:"1" maximum:"5"`
}

type CreateSlotRequest struct {
	PhaseID  *string `json:"phase_id,omitempty"`
	PersonID string  `json:"person_id"`
	Role     string  `json:"role,omitempty" enum:"delivery,reporting,management,qa,oversight,debrief,contingency,other,none"`
	Start    string  `json:"start" format:"date-time"`
	End      string  `json:"end" format:"date-time"`
}

type CostRecordRequest struct {
	PersonID      string  `json:"person_id"`
	EffectiveDate string  `json:"effective_date" format:"date"`
	CostPerHour   float64 `json:"cost_per_hour"`
}

// Response payloads

type TransitionResponse struct {
	Allowed  bool               `json:"allowed"`
	Messages []workflow.Message `json:"messages,omitempty"`
	Job      *domain.Job        `json:"job,omitempty"`
	Phase    *domain.Phase      `json:"phase,omitempty"`
}

type CanTransitionResponse struct {
	Allowed   bool                   `json:"allowed"`
	Messages  []workflow.Message     `json:"messages,omitempty"`
	Checklist []domain.ChecklistItem `json:"checklist,omitempty"`
}

type TargetOption struct {
	Target   string             `json:"target"`
	Allowed  bool               `json:"allowed"`
	Messages []workflow.Message `json:"messages,omitempty"`
}

type SlotResponse struct {
	domain.TimeSlot
	Confirmed bool `json:"confirmed"`
}

type SlotDetailResponse struct {
	SlotResponse
	Cost ledger.Cost `json:"cost"`
}

type DatesResponse struct {
	Start    *string         `json:"start,omitempty" format:"date"`
	Delivery *string         `json:"delivery,omitempty" format:"date"`
	TQADue   *string         `json:"tqa_due,omitempty" format:"date"`
	PQADue   *string         `json:"pqa_due,omitempty" format:"date"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

func datesResponse(d ledger.Dates, flags map[string]bool) DatesResponse {
	fmtDate := func(t *time.Time) *string {
		if t == nil {
			return nil
		}
		v := t.Format("2006-01-02")
		return &v
	}
	return DatesResponse{
		Start:    fmtDate(d.Start),
		Delivery: fmtDate(d.Delivery),
		TQADue:   fmtDate(d.TQADue),
		PQADue:   fmtDate(d.PQADue),
		Flags:    flags,
	}
}
