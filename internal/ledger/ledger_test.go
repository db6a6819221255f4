package ledger

import (
	"testing"
	"time"

	"scopeline/internal/domain"
	"scopeline/internal/workflow"
)

func window(t *testing.T) Window {
	t.Helper()
	w, err := ParseWindow("09:00", "17:30")
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func str(v string) *string { return &v }

func TestParseWindow(t *testing.T) {
	w := window(t)
	if w.StartMinute != 9*60 || w.EndMinute != 17*60+30 {
		t.Fatalf("window = %+v", w)
	}
	if _, err := ParseWindow("17:00", "09:00"); err == nil {
		t.Fatal("inverted window must be rejected")
	}
	if _, err := ParseWindow("9am", "17:00"); err == nil {
		t.Fatal("bad clock must be rejected")
	}
}

func TestBusinessHours(t *testing.T) {
	w := window(t)
	day := func(d, h, m int) time.Time {
		return time.Date(2024, 3, d, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		name  string
		start time.Time
		end   time.Time
		want  float64
	}{
		{"full weekday", day(4, 0, 0), day(4, 23, 59), 8.5},
		{"inside window", day(4, 10, 0), day(4, 12, 0), 2},
		{"clipped start", day(4, 8, 0), day(4, 12, 0), 3},
		{"clipped end", day(4, 16, 0), day(4, 20, 0), 1.5},
		{"weekend only", day(2, 9, 0), day(3, 17, 0), 0},
		{"monday to wednesday", day(4, 9, 0), day(6, 17, 30), 25.5},
		{"over a weekend", day(1, 9, 0), day(4, 17, 30), 17},
		{"outside window", day(4, 18, 0), day(4, 20, 0), 0},
		{"zero range", day(4, 10, 0), day(4, 10, 0), 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := BusinessHours(c.start, c.end, w).Hours()
			if got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestSlotCost(t *testing.T) {
	w := window(t)
	slot := domain.TimeSlot{
		PersonID: "consultant-1",
		Start:    "2024-03-04T09:00:00Z",
		End:      "2024-03-04T17:30:00Z",
	}
	records := []domain.CostRecord{
		{PersonID: "consultant-1", EffectiveDate: "2024-01-01", CostPerHour: 100},
		{PersonID: "consultant-1", EffectiveDate: "2024-03-01", CostPerHour: 120},
		{PersonID: "consultant-1", EffectiveDate: "2024-06-01", CostPerHour: 150},
		{PersonID: "other", EffectiveDate: "2024-01-01", CostPerHour: 999},
	}
	cost, err := SlotCost(slot, records, w)
	if err != nil {
		t.Fatal(err)
	}
	if cost.Missing {
		t.Fatal("cost data should not be missing")
	}
	// the March rate applies, not January's or June's
	if cost.Hours != 8.5 || cost.Amount != 8.5*120 {
		t.Fatalf("cost = %+v", cost)
	}

	cost, err = SlotCost(domain.TimeSlot{
		PersonID: "nobody",
		Start:    "2024-03-04T09:00:00Z",
		End:      "2024-03-04T17:30:00Z",
	}, records, w)
	if err != nil {
		t.Fatal(err)
	}
	if !cost.Missing || cost.Amount != 0 || cost.Hours != 8.5 {
		t.Fatalf("cost = %+v", cost)
	}
}

func TestPhaseDatesFromSlots(t *testing.T) {
	p := domain.Phase{Status: string(workflow.PhaseSchedConfirmed)}
	slots := []domain.TimeSlot{
		{Role: "delivery", Start: "2024-03-04T09:00:00Z", End: "2024-03-06T17:30:00Z"},
		{Role: "delivery", Start: "2024-03-11T09:00:00Z", End: "2024-03-12T17:30:00Z"},
		{Role: "reporting", Start: "2024-03-13T09:00:00Z", End: "2024-03-14T17:30:00Z"},
		{Role: "management", Start: "2024-03-20T09:00:00Z", End: "2024-03-20T17:30:00Z"},
	}
	d := PhaseDates(p, slots, DefaultOffsets)
	wantStart := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	if d.Start == nil || !d.Start.Equal(wantStart) {
		t.Fatalf("start = %v", d.Start)
	}
	// due dates hang off the latest reporting-or-delivery end; the
	// management slot does not count
	wantTQA := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	if d.TQADue == nil || !d.TQADue.Equal(wantTQA) {
		t.Fatalf("tqa_due = %v", d.TQADue)
	}
	if d.Delivery == nil || !d.Delivery.Equal(wantTQA.AddDate(0, 0, 7)) {
		t.Fatalf("delivery = %v", d.Delivery)
	}
	if d.PQADue == nil || !d.PQADue.Equal(wantTQA.AddDate(0, 0, 5)) {
		t.Fatalf("pqa_due = %v", d.PQADue)
	}
}

func TestPhaseDatesOverrides(t *testing.T) {
	p := domain.Phase{
		StartOverride:   str("2024-04-01"),
		DeliverOverride: str("2024-04-20"),
	}
	slots := []domain.TimeSlot{
		{Role: "delivery", Start: "2024-03-04T09:00:00Z", End: "2024-03-06T17:30:00Z"},
	}
	d := PhaseDates(p, slots, DefaultOffsets)
	if d.Start == nil || d.Start.Format("2006-01-02") != "2024-04-01" {
		t.Fatalf("start = %v", d.Start)
	}
	if d.Delivery == nil || d.Delivery.Format("2006-01-02") != "2024-04-20" {
		t.Fatalf("delivery = %v", d.Delivery)
	}
	// unoverridden dates still derive from slots
	if d.TQADue == nil || d.TQADue.Format("2006-01-02") != "2024-03-06" {
		t.Fatalf("tqa_due = %v", d.TQADue)
	}
}

func TestPhaseDatesEmpty(t *testing.T) {
	d := PhaseDates(domain.Phase{}, nil, DefaultOffsets)
	if d.Start != nil || d.Delivery != nil || d.TQADue != nil || d.PQADue != nil {
		t.Fatalf("dates = %+v", d)
	}
}

func TestJobDatesAggregation(t *testing.T) {
	mar := func(d int) *time.Time {
		v := time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	d := JobDates(domain.Job{}, []Dates{
		{Start: mar(10), Delivery: mar(20)},
		{Start: mar(4), Delivery: mar(15)},
		{},
	})
	if d.Start == nil || !d.Start.Equal(*mar(4)) {
		t.Fatalf("start = %v", d.Start)
	}
	if d.Delivery == nil || !d.Delivery.Equal(*mar(20)) {
		t.Fatalf("delivery = %v", d.Delivery)
	}

	d = JobDates(domain.Job{StartOverride: str("2024-03-01")}, []Dates{{Start: mar(10)}})
	if d.Start == nil || d.Start.Format("2006-01-02") != "2024-03-01" {
		t.Fatalf("start = %v", d.Start)
	}
}

func TestLatenessFlags(t *testing.T) {
	due := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	d := Dates{TQADue: &due, PQADue: &due, Delivery: &due}
	before := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	after := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	p := domain.Phase{Status: string(workflow.PhaseInProgress), ReportCount: 1}
	if TQALate(p, d, before) {
		t.Fatal("not late before the due date")
	}
	if !TQALate(p, d, after) {
		t.Fatal("late after the due date")
	}

	// no reports: tech QA can never be late
	p.ReportCount = 0
	if TQALate(p, d, after) {
		t.Fatal("no-report phase cannot be QA late")
	}

	// past the gate: no longer late
	p.ReportCount = 1
	p.Status = string(workflow.PhaseQAPres)
	if TQALate(p, d, after) {
		t.Fatal("phase past tech QA cannot be tech-QA late")
	}
	if PQALate(p, d, after) {
		t.Fatal("phase in pres QA is not pres-QA late yet")
	}
	p.Status = string(workflow.PhaseInProgress)
	if !PQALate(p, d, after) {
		t.Fatal("expected pres-QA late")
	}

	if !DeliveryLate(p, d, after) {
		t.Fatal("expected delivery late")
	}
	p.Status = string(workflow.PhaseDelivered)
	if DeliveryLate(p, d, after) {
		t.Fatal("delivered phase is not late")
	}
	p.Status = string(workflow.PhaseCancelled)
	if DeliveryLate(p, d, after) || TQALate(p, d, after) {
		t.Fatal("cancelled phase is never late")
	}

	// no due date, never late
	if DeliveryLate(domain.Phase{Status: string(workflow.PhaseInProgress)}, Dates{}, after) {
		t.Fatal("no due date means not late")
	}
}

func TestSlotConfirmedDerived(t *testing.T) {
	id := "p-1"
	bound := domain.TimeSlot{PhaseID: &id}
	if SlotConfirmed(bound, workflow.PhaseSchedTentative) {
		t.Fatal("tentative phase slots are unconfirmed")
	}
	if !SlotConfirmed(bound, workflow.PhaseSchedConfirmed) {
		t.Fatal("confirmed phase slots are confirmed")
	}
	if !SlotConfirmed(bound, workflow.PhaseInProgress) {
		t.Fatal("in-progress phase slots are confirmed")
	}
	if !SlotConfirmed(domain.TimeSlot{}, "") {
		t.Fatal("unbound slots are always confirmed")
	}
}
