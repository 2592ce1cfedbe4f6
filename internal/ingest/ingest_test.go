package ingest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"45474", "2024-07-01"},  // serial number
		{"45474.5", "2024-07-01"}, // serial with a time fraction
		{"2024-07-01", "2024-07-01"},
		{"2024/7/1", "2024-07-01"},
		{"2024.07.01", "2024-07-01"},
		{"7/1/2024", "2024-07-01"},
		{"12/31/2024", "2024-12-31"},
		{" 2024-07-01 ", "2024-07-01"},
		{"", ""},
		{"next friday", "next friday"}, // passes through verbatim
		{"13/13/2024", "13/13/2024"},   // impossible month
		{"-5", "-5"},
	}
	for _, tc := range cases {
		if got := NormalizeDate(tc.in); got != tc.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1200", 1200},
		{"1,200", 1200},
		{"$1,200.50", 1201},
		{"¥3000", 3000},
		{"€ 45", 45},
		{"free", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseAmount(tc.in); got != tc.want {
			t.Errorf("parseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestParseXLSX(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Title", "Amount", "Deadline", "Source", "Stage"},
		{"Cover Art", "$1,200", "2024-07-01", "Skeb", "Sketching"},
		{"", "999", "2024-07-02", "Direct", ""}, // no title, skipped
		{"Chibi Set", 300, "45474", "Direct", "Not Started"},
	})
	got, err := ParseXLSX(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	first := got[0]
	if first.Title != "Cover Art" || first.Amount != 1200 || first.Deadline != "2024-07-01" || first.Source != "Skeb" || first.Stage != "Sketching" {
		t.Fatalf("first candidate %+v", first)
	}
	if got[1].Deadline != "2024-07-01" {
		t.Fatalf("serial deadline not normalized: %s", got[1].Deadline)
	}
}

func TestParseXLSXHeaderAliasesAndOffset(t *testing.T) {
	// Header not on the first row, alias column names, extra noise column.
	buf := buildWorkbook(t, [][]any{
		{"My commissions 2024"},
		{},
		{"Order", "Price", "Due", "Platform", "Memo", "Whatever"},
		{"Banner", "500", "7/1/2024", "Fiverr", "rush job", "x"},
	})
	got, err := ParseXLSX(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c := got[0]
	if c.Title != "Banner" || c.Amount != 500 || c.Deadline != "2024-07-01" || c.Source != "Fiverr" || c.Notes != "rush job" {
		t.Fatalf("candidate %+v", c)
	}
}

func TestParseXLSXErrors(t *testing.T) {
	// No recognizable header anywhere.
	buf := buildWorkbook(t, [][]any{
		{"foo", "bar"},
		{"1", "2"},
	})
	if _, err := ParseXLSX(buf); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}

	// Header but no data rows.
	buf = buildWorkbook(t, [][]any{{"Title", "Amount"}})
	if _, err := ParseXLSX(buf); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	// Not a workbook at all.
	if _, err := ParseXLSX(bytes.NewBufferString("not a zip")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}
