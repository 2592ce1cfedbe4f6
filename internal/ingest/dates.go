package ingest

import (
	"strconv"
	"strings"
	"time"
)

// excelEpoch is day zero of the 1900 date system; serial 1 is 1900-01-01
// once the historical leap-year quirk is folded in.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// NormalizeDate coerces a spreadsheet date cell to YYYY-MM-DD. Cells arrive
// either as a serial day-count number or as a delimited text date. Values
// that fit neither shape are returned verbatim; the reconciliation engine
// accepts them as-is.
func NormalizeDate(cell string) string {
	s := strings.TrimSpace(cell)
	if s == "" {
		return ""
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial <= 0 {
			return s
		}
		return excelEpoch.AddDate(0, 0, int(serial)).Format("2006-01-02")
	}
	if d, ok := parseDelimited(s); ok {
		return d.Format("2006-01-02")
	}
	return s
}

// parseDelimited handles y-m-d, y/m/d and y.m.d orderings, plus m/d/y when
// the trailing part is the four-digit year.
func parseDelimited(s string) (time.Time, bool) {
	sep := ""
	for _, candidate := range []string{"-", "/", "."} {
		if strings.Count(s, candidate) == 2 {
			sep = candidate
			break
		}
	}
	if sep == "" {
		return time.Time{}, false
	}
	parts := strings.Split(s, sep)
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	var y, m, d int
	switch {
	case len(parts[0]) == 4 || nums[0] > 31:
		y, m, d = nums[0], nums[1], nums[2]
	case len(parts[2]) == 4 || nums[2] > 31:
		m, d, y = nums[0], nums[1], nums[2]
	default:
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
}
