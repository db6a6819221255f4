package ledger

import (
	"sort"
	"time"

	"scopeline/internal/domain"
)

// Cost is the computed cost of one slot. Missing means no cost record was
// effective on the slot's start date; the cost is zero but callers should
// surface the gap rather than trust the number.
type Cost struct {
	Hours   float64 `json:"hours"`
	Amount  float64 `json:"amount"`
	Missing bool    `json:"missing_cost_data"`
}

// SlotCost prices a slot against the person's cost records: the most recent
// record with effective date on or before the slot start wins.
func SlotCost(slot domain.TimeSlot, records []domain.CostRecord, w Window) (Cost, error) {
	start, err := time.Parse(time.RFC3339, slot.Start)
	if err != nil {
		return Cost{}, err
	}
	end, err := time.Parse(time.RFC3339, slot.End)
	if err != nil {
		return Cost{}, err
	}
	hours := BusinessHours(start, end, w).Hours()
	rate, ok := effectiveRate(slot.PersonID, start, records)
	if !ok {
		return Cost{Hours: hours, Missing: true}, nil
	}
	return Cost{Hours: hours, Amount: hours * rate}, nil
}

func effectiveRate(personID string, at time.Time, records []domain.CostRecord) (float64, bool) {
	var candidates []domain.CostRecord
	for _, r := range records {
		if r.PersonID != personID {
			continue
		}
		eff, err := time.Parse("2006-01-02", r.EffectiveDate)
		if err != nil || eff.After(at) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EffectiveDate > candidates[j].EffectiveDate
	})
	return candidates[0].CostPerHour, true
}
