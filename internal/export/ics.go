// Package export renders the order store into interchange formats. Both
// exporters are pure formatting over their inputs.
package export

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"atelierdesk/internal/domain"
)

// CalendarEvent renders one order as a minimal single-event, whole-day
// iCalendar block.
func CalendarEvent(o domain.Order) (string, error) {
	day, err := time.Parse("2006-01-02", o.Deadline)
	if err != nil {
		return "", fmt.Errorf("order %s deadline: %w", o.ID, err)
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//atelierdesk//EN")
	ev := cal.AddEvent(o.ID)
	ev.SetAllDayStartAt(day)
	ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
	ev.SetSummary(o.Title)
	if o.Notes != "" {
		ev.SetDescription(o.Notes)
	}
	ev.SetDtStampTime(day)
	return cal.Serialize(), nil
}
