// Package ingest turns uploaded spreadsheets into candidate orders for the
// reconciliation engine. It owns shape validation: a batch that cannot be
// read fails here, before any state is touched.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"atelierdesk/internal/domain"
)

var (
	ErrNoHeader = errors.New("no recognizable header row")
	ErrEmpty    = errors.New("sheet has no order rows")
)

// headerAliases maps normalized header cells to candidate fields.
var headerAliases = map[string]string{
	"title":        "title",
	"order":        "title",
	"commission":   "title",
	"amount":       "amount",
	"price":        "amount",
	"deadline":     "deadline",
	"due":          "deadline",
	"due_date":     "deadline",
	"stage":        "stage",
	"progress":     "stage",
	"status":       "stage",
	"source":       "source",
	"channel":      "source",
	"platform":     "source",
	"priority":     "priority",
	"persons":      "person_count",
	"person_count": "person_count",
	"people":       "person_count",
	"art_type":     "art_type",
	"type":         "art_type",
	"nature":       "nature",
	"notes":        "notes",
	"memo":         "notes",
	"created":      "created_at",
	"created_at":   "created_at",
}

// ParseXLSX reads the first sheet of an XLSX workbook into candidates. The
// header row is located within the first rows by the presence of a title
// column; rows without a title are skipped.
func ParseXLSX(r io.Reader) ([]domain.Candidate, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	headerIdx, columns := findHeader(rows)
	if headerIdx < 0 {
		return nil, ErrNoHeader
	}
	var out []domain.Candidate
	for _, row := range rows[headerIdx+1:] {
		c := rowToCandidate(row, columns)
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// findHeader scans the first rows for one containing a title column and
// returns its index plus the column→field mapping.
func findHeader(rows [][]string) (int, map[int]string) {
	limit := len(rows)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		columns := map[int]string{}
		hasTitle := false
		for col, cell := range rows[i] {
			field, ok := headerAliases[normalizeHeader(cell)]
			if !ok {
				continue
			}
			if _, taken := columns[col]; taken {
				continue
			}
			columns[col] = field
			if field == "title" {
				hasTitle = true
			}
		}
		if hasTitle {
			return i, columns
		}
	}
	return -1, nil
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

func rowToCandidate(row []string, columns map[int]string) domain.Candidate {
	var c domain.Candidate
	for col, field := range columns {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		switch field {
		case "title":
			c.Title = row[col]
		case "amount":
			c.Amount = parseAmount(v)
		case "deadline":
			c.Deadline = NormalizeDate(v)
		case "created_at":
			c.CreatedAt = NormalizeDate(v)
		case "stage":
			c.Stage = v
		case "source":
			c.Source = v
		case "priority":
			c.Priority = v
		case "person_count":
			c.PersonCount = v
		case "art_type":
			c.ArtType = v
		case "nature":
			c.Nature = v
		case "notes":
			c.Notes = v
		}
	}
	return c
}

func parseAmount(s string) int64 {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', '¥', '€', ' ':
			return -1
		}
		return r
	}, s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f + 0.5)
}
