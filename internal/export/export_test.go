package export_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"atelierdesk/internal/domain"
	"atelierdesk/internal/export"
)

func TestCalendarEvent(t *testing.T) {
	o := domain.Order{
		ID:       "o-1",
		Title:    "Album Cover",
		Deadline: "2024-07-01",
		Notes:    "half payment received",
	}
	out, err := export.CalendarEvent(o)
	if err != nil {
		t.Fatalf("calendar event: %v", err)
	}
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:o-1",
		"SUMMARY:Album Cover",
		"DTSTART;VALUE=DATE:20240701",
		"DTEND;VALUE=DATE:20240702",
		"DESCRIPTION:half payment received",
		"END:VEVENT",
		"END:VCALENDAR",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCalendarEventBadDeadline(t *testing.T) {
	if _, err := export.CalendarEvent(domain.Order{ID: "o-1", Deadline: "whenever"}); err == nil {
		t.Fatalf("expected error for unparsable deadline")
	}
}

func TestWriteXLSX(t *testing.T) {
	tax := domain.Taxonomy{
		Stages:  []domain.Stage{{Name: "Delivered", Percent: 100}},
		Sources: []domain.Source{{Name: "Skeb", FeePercent: 10}},
	}
	hours := 12.5
	orders := []domain.Order{
		{ID: "o-1", Title: "Cover Art", Amount: 1000, Deadline: "2024-07-01", Stage: "Delivered", Source: "Skeb", HoursSpent: &hours},
		{ID: "o-2", Title: "Chibi Set", Amount: 300, Deadline: "2024-08-01", Source: "Direct"},
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, orders, tax); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][3] != "Net" {
		t.Fatalf("header row %v", rows[0])
	}
	if rows[1][1] != "Cover Art" {
		t.Fatalf("row 1 title %q", rows[1][1])
	}
	if rows[1][3] != "900" {
		t.Fatalf("net amount cell %q, want 900", rows[1][3])
	}
	if rows[2][3] != "300" {
		t.Fatalf("unknown source keeps gross, got %q", rows[2][3])
	}
}
