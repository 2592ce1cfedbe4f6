package domain

// Order is one commission tracked by the system. Deadline and CreatedAt are
// naive calendar dates (YYYY-MM-DD); UpdatedAt is a full RFC3339 timestamp.
type Order struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Amount      int64    `json:"amount" minimum:"0"`
	Deadline    string   `json:"deadline" format:"date"`
	CreatedAt   string   `json:"created_at" format:"date"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	Revision    int      `json:"revision"`
	Stage       string   `json:"stage"`
	Source      string   `json:"source"`
	Priority    string   `json:"priority" enum:"low,normal,high"`
	PersonCount string   `json:"person_count,omitempty"`
	ArtType     string   `json:"art_type,omitempty"`
	Nature      string   `json:"nature" enum:"personal,commercial"`
	HoursSpent  *float64 `json:"hours_spent,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"

	NaturePersonal   = "personal"
	NatureCommercial = "commercial"
)

// Candidate is an externally-sourced order without identity or revision,
// as produced by the ingestion adapters.
type Candidate struct {
	Title       string `json:"title"`
	Amount      int64  `json:"amount"`
	Deadline    string `json:"deadline"`
	CreatedAt   string `json:"created_at,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Source      string `json:"source,omitempty"`
	Priority    string `json:"priority,omitempty"`
	PersonCount string `json:"person_count,omitempty"`
	ArtType     string `json:"art_type,omitempty"`
	Nature      string `json:"nature,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Stage is one entry of the ordered progress-stage list. Position carries
// meaning: the cascade engine matches renamed entries by index.
type Stage struct {
	Name    string `json:"name"`
	Percent int    `json:"percent" minimum:"0" maximum:"100"`
	Color   string `json:"color,omitempty"`
}

// Terminal reports whether the stage marks an order complete.
func (s Stage) Terminal() bool { return s.Percent >= 100 }

// Source is one entry of the source-channel list with the platform fee cut.
type Source struct {
	Name       string  `json:"name"`
	FeePercent float64 `json:"fee_percent" minimum:"0" maximum:"100"`
}

// Taxonomy is the user-configurable label configuration orders reference.
type Taxonomy struct {
	Stages       []Stage  `json:"stages"`
	Sources      []Source `json:"sources"`
	ArtTypes     []string `json:"art_types"`
	PersonCounts []string `json:"person_counts"`
}

// StageIndex returns the position of the named stage, or -1.
func (t Taxonomy) StageIndex(name string) int {
	for i, s := range t.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// SourceIndex returns the position of the named source, or -1.
func (t Taxonomy) SourceIndex(name string) int {
	for i, s := range t.Sources {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// FeePercent returns the fee cut for the named source; unknown sources carry
// no fee.
func (t Taxonomy) FeePercent(name string) float64 {
	if i := t.SourceIndex(name); i >= 0 {
		return t.Sources[i].FeePercent
	}
	return 0
}

// ImportSummary reports the outcome of one reconciliation batch.
type ImportSummary struct {
	Added    int  `json:"added"`
	Updated  int  `json:"updated"`
	Replaced bool `json:"replaced"`
}

// Event is one row of the append-only change log.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id,omitempty"`
	Payload  string `json:"payload_json"`
}
