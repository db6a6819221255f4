package ledger

import (
	"time"

	"scopeline/internal/domain"
	"scopeline/internal/workflow"
)

// Offsets are the business offsets applied to the latest qualifying slot
// end when deriving due dates.
type Offsets struct {
	DeliveryDays int // delivery due = slot end + DeliveryDays
	PQADays      int // pres-QA due = slot end + PQADays
}

// DefaultOffsets matches the standard one week to delivery and five days to
// presentation QA.
var DefaultOffsets = Offsets{DeliveryDays: 7, PQADays: 5}

// Dates are the resolved effective dates of a phase or job. A nil field
// means no override is set and no qualifying slot exists.
type Dates struct {
	Start    *time.Time `json:"start,omitempty"`
	Delivery *time.Time `json:"delivery,omitempty"`
	TQADue   *time.Time `json:"tqa_due,omitempty"`
	PQADue   *time.Time `json:"pqa_due,omitempty"`
}

// PhaseDates resolves a phase's effective dates. An explicit override always
// wins; otherwise start is the latest delivery-role slot start, and the due
// dates derive from the latest reporting-or-delivery slot end.
func PhaseDates(p domain.Phase, slots []domain.TimeSlot, off Offsets) Dates {
	var d Dates
	var latestDeliveryStart, latestReportingEnd *time.Time
	for _, s := range slots {
		start, err := time.Parse(time.RFC3339, s.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, s.End)
		if err != nil {
			continue
		}
		if s.Role == "delivery" && (latestDeliveryStart == nil || start.After(*latestDeliveryStart)) {
			v := start
			latestDeliveryStart = &v
		}
		if (s.Role == "delivery" || s.Role == "reporting") && (latestReportingEnd == nil || end.After(*latestReportingEnd)) {
			v := end
			latestReportingEnd = &v
		}
	}
	d.Start = overrideOr(p.StartOverride, dateOf(latestDeliveryStart))
	d.TQADue = overrideOr(p.TQADueOverride, dateOf(latestReportingEnd))
	d.Delivery = overrideOr(p.DeliverOverride, addDays(dateOf(latestReportingEnd), off.DeliveryDays))
	d.PQADue = overrideOr(p.PQADueOverride, addDays(dateOf(latestReportingEnd), off.PQADays))
	return d
}

// JobDates aggregates phase dates: earliest start, latest delivery. Job
// level overrides win.
func JobDates(j domain.Job, phases []Dates) Dates {
	var d Dates
	for _, p := range phases {
		if p.Start != nil && (d.Start == nil || p.Start.Before(*d.Start)) {
			d.Start = p.Start
		}
		if p.Delivery != nil && (d.Delivery == nil || p.Delivery.After(*d.Delivery)) {
			d.Delivery = p.Delivery
		}
	}
	d.Start = overrideOr(j.StartOverride, d.Start)
	d.Delivery = overrideOr(j.DeliverOverride, d.Delivery)
	return d
}

// Lateness flags. Each is true only while the phase has not progressed past
// the corresponding gate and a due date is known and has passed. No due
// date means a phase cannot be late.

func TQALate(p domain.Phase, d Dates, today time.Time) bool {
	if p.ReportCount == 0 || d.TQADue == nil {
		return false
	}
	st := workflow.PhaseStatus(p.Status)
	if st.AtOrPast(workflow.PhaseQATech) || !activeStatus(st) {
		return false
	}
	return today.After(*d.TQADue)
}

func PQALate(p domain.Phase, d Dates, today time.Time) bool {
	if p.ReportCount == 0 || d.PQADue == nil {
		return false
	}
	st := workflow.PhaseStatus(p.Status)
	if st.AtOrPast(workflow.PhaseQAPres) || !activeStatus(st) {
		return false
	}
	return today.After(*d.PQADue)
}

func DeliveryLate(p domain.Phase, d Dates, today time.Time) bool {
	if d.Delivery == nil {
		return false
	}
	st := workflow.PhaseStatus(p.Status)
	if st.DeliveredOrLater() || !activeStatus(st) {
		return false
	}
	return today.After(*d.Delivery)
}

// SlotConfirmed derives a slot's confirmed flag from its owning phase. Slots
// with no phase (leave, internal time) are always confirmed. The result
// depends on mutable phase state; callers must not cache it across a
// transition boundary.
func SlotConfirmed(slot domain.TimeSlot, phaseStatus workflow.PhaseStatus) bool {
	if slot.PhaseID == nil {
		return true
	}
	return phaseStatus.AtOrPast(workflow.PhaseSchedConfirmed)
}

func activeStatus(st workflow.PhaseStatus) bool {
	switch st {
	case workflow.PhaseCancelled, workflow.PhasePostponed, workflow.PhaseDeleted:
		return false
	}
	return true
}

func overrideOr(override *string, derived *time.Time) *time.Time {
	if override == nil || *override == "" {
		return derived
	}
	t, err := time.Parse("2006-01-02", *override)
	if err != nil {
		return derived
	}
	return &t
}

// dateOf truncates a timestamp to its calendar date in UTC.
func dateOf(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &v
}

func addDays(t *time.Time, days int) *time.Time {
	if t == nil {
		return nil
	}
	v := t.AddDate(0, 0, days)
	return &v
}
