// Package views holds the derived projections over the order and taxonomy
// state. Everything here is pure and recomputed per call; correctness by
// recomputation, no caching.
package views

import (
	"sort"
	"time"

	"atelierdesk/internal/domain"
)

const (
	upcomingWindowDays = 14
	upcomingCap        = 5
)

// NetAmount is the order amount after the source platform's cut. An order
// referencing an unknown source keeps its gross amount.
func NetAmount(o domain.Order, tax domain.Taxonomy) float64 {
	return float64(o.Amount) * (1 - tax.FeePercent(o.Source)/100)
}

// Completion returns the order's stage percentage, falling back to the
// first stage when the reference does not resolve.
func Completion(o domain.Order, tax domain.Taxonomy) int {
	if i := tax.StageIndex(o.Stage); i >= 0 {
		return tax.Stages[i].Percent
	}
	if len(tax.Stages) > 0 {
		return tax.Stages[0].Percent
	}
	return 0
}

// NetByMonth sums net amounts grouped by the deadline's calendar month
// (YYYY-MM keys). Dates are naive; grouping is by string prefix.
func NetByMonth(orders []domain.Order, tax domain.Taxonomy) map[string]float64 {
	res := map[string]float64{}
	for _, o := range orders {
		if len(o.Deadline) < 7 {
			continue
		}
		res[o.Deadline[:7]] += NetAmount(o, tax)
	}
	return res
}

// NetByYear sums net amounts grouped by the deadline's calendar year.
func NetByYear(orders []domain.Order, tax domain.Taxonomy) map[string]float64 {
	res := map[string]float64{}
	for _, o := range orders {
		if len(o.Deadline) < 4 {
			continue
		}
		res[o.Deadline[:4]] += NetAmount(o, tax)
	}
	return res
}

// Upcoming returns active orders (completion < 100) due within the next 14
// days of now, ascending by deadline, capped at 5. Orders with unparsable
// deadlines are skipped.
func Upcoming(orders []domain.Order, tax domain.Taxonomy, now time.Time) []domain.Order {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := today.AddDate(0, 0, upcomingWindowDays)
	var res []domain.Order
	for _, o := range orders {
		if Completion(o, tax) >= 100 {
			continue
		}
		d, err := time.Parse("2006-01-02", o.Deadline)
		if err != nil {
			continue
		}
		if d.Before(today) || d.After(end) {
			continue
		}
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Deadline < res[j].Deadline })
	if len(res) > upcomingCap {
		res = res[:upcomingCap]
	}
	return res
}

// Stats is the dashboard headline projection.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Done       int            `json:"done"`
	GrossTotal int64          `json:"gross_total"`
	NetTotal   float64        `json:"net_total"`
	ByStage    map[string]int `json:"by_stage"`
}

// Collect computes the dashboard stats over the full store.
func Collect(orders []domain.Order, tax domain.Taxonomy) Stats {
	s := Stats{ByStage: map[string]int{}}
	for _, o := range orders {
		s.Total++
		if Completion(o, tax) >= 100 {
			s.Done++
		} else {
			s.Active++
		}
		s.GrossTotal += o.Amount
		s.NetTotal += NetAmount(o, tax)
		s.ByStage[o.Stage]++
	}
	return s
}
