package engine

import (
	"fmt"
	"strings"
	"time"

	"atelierdesk/internal/domain"
)

// Mode selects how an imported batch combines with the existing orders.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
	ModeMerge   Mode = "merge"
)

// ParseMode validates a mode string, defaulting empty to merge.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReplace, ModeAppend, ModeMerge:
		return Mode(s), nil
	case "":
		return ModeMerge, nil
	}
	return "", fmt.Errorf("invalid import mode %q", s)
}

type naturalKey struct {
	title    string
	deadline string
}

// keyOf builds the natural key: title trimmed of surrounding whitespace,
// deadline string taken verbatim.
func keyOf(title, deadline string) naturalKey {
	return naturalKey{title: strings.TrimSpace(title), deadline: deadline}
}

// Reconcile combines candidates with the existing orders under the given
// mode and returns the next order collection plus a change summary. It
// performs no I/O and no validation; malformed candidates pass through
// unchanged. Identity and clock are injected so the function stays pure.
//
// Merge matches candidates against a natural-key map built from the
// existing orders only: a matched candidate updates the existing order in
// place, keeping its identifier, creation date and priority; an unmatched
// candidate is appended with a fresh identifier. Two candidates collapsing
// to the same key therefore resolve last-write-wins against the same
// existing order, and unmatched duplicates each append.
func Reconcile(existing []domain.Order, candidates []domain.Candidate, mode Mode, now time.Time, newID func() string) ([]domain.Order, domain.ImportSummary) {
	switch mode {
	case ModeReplace:
		next := make([]domain.Order, 0, len(candidates))
		for _, c := range candidates {
			next = append(next, materialize(c, now, newID))
		}
		return next, domain.ImportSummary{Added: len(candidates), Replaced: true}
	case ModeAppend:
		next := make([]domain.Order, 0, len(existing)+len(candidates))
		next = append(next, existing...)
		for _, c := range candidates {
			next = append(next, materialize(c, now, newID))
		}
		return next, domain.ImportSummary{Added: len(candidates)}
	default:
		return merge(existing, candidates, now, newID)
	}
}

func merge(existing []domain.Order, candidates []domain.Candidate, now time.Time, newID func() string) ([]domain.Order, domain.ImportSummary) {
	next := make([]domain.Order, len(existing))
	copy(next, existing)
	index := make(map[naturalKey]int, len(existing))
	for i, o := range existing {
		index[keyOf(o.Title, o.Deadline)] = i
	}
	var summary domain.ImportSummary
	for _, c := range candidates {
		i, ok := index[keyOf(c.Title, c.Deadline)]
		if !ok {
			next = append(next, materialize(c, now, newID))
			summary.Added++
			continue
		}
		prev := next[i]
		o := materialize(c, now, newID)
		o.ID = prev.ID
		o.CreatedAt = prev.CreatedAt
		o.Priority = prev.Priority
		o.Revision = prev.Revision + 1
		o.UpdatedAt = now.UTC().Format(time.RFC3339)
		next[i] = o
		summary.Updated++
	}
	return next, summary
}

// materialize turns a candidate into a fresh order.
func materialize(c domain.Candidate, now time.Time, newID func() string) domain.Order {
	created := c.CreatedAt
	if created == "" {
		created = now.UTC().Format("2006-01-02")
	}
	return domain.Order{
		ID:          newID(),
		Title:       c.Title,
		Amount:      c.Amount,
		Deadline:    c.Deadline,
		CreatedAt:   created,
		UpdatedAt:   now.UTC().Format(time.RFC3339),
		Revision:    1,
		Stage:       c.Stage,
		Source:      c.Source,
		Priority:    c.Priority,
		PersonCount: c.PersonCount,
		ArtType:     c.ArtType,
		Nature:      c.Nature,
		Notes:       c.Notes,
	}
}
