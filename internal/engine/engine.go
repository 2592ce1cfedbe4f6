package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelierdesk/internal/config"
	"atelierdesk/internal/domain"
	"atelierdesk/internal/events"
	"atelierdesk/internal/store"
)

var ErrNotFound = store.ErrNotFound

// Engine owns the canonical in-memory state and its persistence timing.
// The reconcile and cascade cores stay pure; the engine serializes
// mutations with a mutex and writes a full snapshot after each one.
type Engine struct {
	DB     *sql.DB
	Store  store.Store
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	NewID  func() string

	mu     sync.Mutex
	orders []domain.Order
	tax    domain.Taxonomy
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Store:  store.Store{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		NewID:  func() string { return uuid.New().String() },
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Load reads the persisted snapshots, recovering defaults for anything
// missing or corrupt.
func (e *Engine) Load(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	orders, err := e.Store.LoadOrders(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	tax, err := e.Store.LoadTaxonomy(ctx, e.Config.SeedTaxonomy())
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	e.mu.Lock()
	e.orders = orders
	e.tax = tax
	e.mu.Unlock()
	return nil
}

// Orders returns a copy of the order collection.
func (e *Engine) Orders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// Taxonomy returns a copy of the taxonomy configuration.
func (e *Engine) Taxonomy() domain.Taxonomy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyTaxonomy(e.tax)
}

func (e *Engine) GetOrder(id string) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, ErrNotFound
}

// OrderCreateOptions are parameters for creating an order.
type OrderCreateOptions struct {
	Title       string
	Amount      int64
	Deadline    string
	Stage       string
	Source      string
	Priority    string
	PersonCount string
	ArtType     string
	Nature      string
	Notes       string
}

func (e *Engine) CreateOrder(ctx context.Context, opts OrderCreateOptions) (domain.Order, error) {
	if e.Config == nil {
		return domain.Order{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Order{}, errors.New("title is required")
	}
	if opts.Amount < 0 {
		return domain.Order{}, errors.New("amount must not be negative")
	}
	if err := validateDate(opts.Deadline); err != nil {
		return domain.Order{}, fmt.Errorf("deadline: %w", err)
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.Defaults.Priority
	}
	if err := validatePriority(opts.Priority); err != nil {
		return domain.Order{}, err
	}
	if opts.Nature == "" {
		opts.Nature = e.Config.Defaults.Nature
	}
	if err := validateNature(opts.Nature); err != nil {
		return domain.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if opts.Stage == "" && len(e.tax.Stages) > 0 {
		opts.Stage = e.tax.Stages[0].Name
	}
	now := e.now()
	o := domain.Order{
		ID:          e.NewID(),
		Title:       opts.Title,
		Amount:      opts.Amount,
		Deadline:    opts.Deadline,
		CreatedAt:   now.UTC().Format("2006-01-02"),
		UpdatedAt:   now.UTC().Format(time.RFC3339),
		Revision:    1,
		Stage:       opts.Stage,
		Source:      opts.Source,
		Priority:    opts.Priority,
		PersonCount: opts.PersonCount,
		ArtType:     opts.ArtType,
		Nature:      opts.Nature,
		Notes:       opts.Notes,
	}
	next := append(append([]domain.Order{}, e.orders...), o)
	if err := e.persistOrders(ctx, next, "order.created", o.ID, events.EventPayload{"title": o.Title}); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// OrderUpdateOptions encapsulates allowed updates; nil fields are left as-is.
type OrderUpdateOptions struct {
	ID          string
	Title       *string
	Amount      *int64
	Deadline    *string
	Stage       *string
	Source      *string
	Priority    *string
	PersonCount *string
	ArtType     *string
	Nature      *string
	Notes       *string
	HoursSpent  *float64
}

func (e *Engine) UpdateOrder(ctx context.Context, opts OrderUpdateOptions) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := -1
	for i, o := range e.orders {
		if o.ID == opts.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Order{}, ErrNotFound
	}
	o := e.orders[idx]
	if opts.Title != nil {
		if *opts.Title == "" {
			return o, errors.New("title is required")
		}
		o.Title = *opts.Title
	}
	if opts.Amount != nil {
		if *opts.Amount < 0 {
			return o, errors.New("amount must not be negative")
		}
		o.Amount = *opts.Amount
	}
	if opts.Deadline != nil {
		if err := validateDate(*opts.Deadline); err != nil {
			return o, fmt.Errorf("deadline: %w", err)
		}
		o.Deadline = *opts.Deadline
	}
	if opts.Stage != nil {
		o.Stage = *opts.Stage
	}
	if opts.Source != nil {
		o.Source = *opts.Source
	}
	if opts.Priority != nil {
		if err := validatePriority(*opts.Priority); err != nil {
			return o, err
		}
		o.Priority = *opts.Priority
	}
	if opts.PersonCount != nil {
		o.PersonCount = *opts.PersonCount
	}
	if opts.ArtType != nil {
		o.ArtType = *opts.ArtType
	}
	if opts.Nature != nil {
		if err := validateNature(*opts.Nature); err != nil {
			return o, err
		}
		o.Nature = *opts.Nature
	}
	if opts.Notes != nil {
		o.Notes = *opts.Notes
	}
	if opts.HoursSpent != nil {
		if !e.stageTerminal(o.Stage) {
			return o, errors.New("hours can only be recorded once the order reaches a terminal stage")
		}
		o.HoursSpent = opts.HoursSpent
	}
	o.Revision++
	o.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	next := make([]domain.Order, len(e.orders))
	copy(next, e.orders)
	next[idx] = o
	if err := e.persistOrders(ctx, next, "order.updated", o.ID, events.EventPayload{"revision": o.Revision}); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// DeleteOrder hard-deletes an order; there is no archival state.
func (e *Engine) DeleteOrder(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := -1
	for i, o := range e.orders {
		if o.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	next := make([]domain.Order, 0, len(e.orders)-1)
	next = append(next, e.orders[:idx]...)
	next = append(next, e.orders[idx+1:]...)
	return e.persistOrders(ctx, next, "order.deleted", id, nil)
}

// Import runs the reconciliation engine over a candidate batch and persists
// the outcome.
func (e *Engine) Import(ctx context.Context, candidates []domain.Candidate, mode Mode) (domain.ImportSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, summary := Reconcile(e.orders, candidates, mode, e.now(), e.NewID)
	err := e.persistOrders(ctx, next, "orders.imported", "", events.EventPayload{
		"mode":     string(mode),
		"added":    summary.Added,
		"updated":  summary.Updated,
		"replaced": summary.Replaced,
	})
	if err != nil {
		return domain.ImportSummary{}, err
	}
	return summary, nil
}

// ApplyTaxonomy replaces the taxonomy wholesale and cascades renames across
// the order collection. Returns how many orders were repointed.
func (e *Engine) ApplyTaxonomy(ctx context.Context, newTax domain.Taxonomy) (int, error) {
	if len(newTax.Stages) == 0 {
		return 0, errors.New("taxonomy needs at least one stage")
	}
	if err := validateTaxonomy(newTax); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := CascadeRename(e.orders, e.tax, newTax)
	changed := cascadeChanged(e.orders, next)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Store.SaveOrdersTx(ctx, tx, next); err != nil {
		return 0, err
	}
	if err := e.Store.SaveTaxonomyTx(ctx, tx, newTax); err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "taxonomy.updated", "", events.EventPayload{"cascaded": changed}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.orders = next
	e.tax = copyTaxonomy(newTax)
	return changed, nil
}

// Insights returns the last persisted insights text.
func (e *Engine) Insights(ctx context.Context) (string, error) {
	return e.Store.LoadInsights(ctx)
}

// SaveInsights stores generated insights text in its dedicated slot.
func (e *Engine) SaveInsights(ctx context.Context, text string) error {
	if err := e.Store.SaveInsights(ctx, text); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "insights.generated", "", nil); err != nil {
		return err
	}
	return tx.Commit()
}

// persistOrders writes the snapshot and event in one transaction, then
// swaps the in-memory state. Callers hold e.mu.
func (e *Engine) persistOrders(ctx context.Context, next []domain.Order, evtType, entityID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Store.SaveOrdersTx(ctx, tx, next); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, entityID, payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.orders = next
	return nil
}

func (e *Engine) stageTerminal(name string) bool {
	if i := e.tax.StageIndex(name); i >= 0 {
		return e.tax.Stages[i].Terminal()
	}
	return false
}

// --- helpers ---

func validateDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return nil
}

func validatePriority(p string) error {
	switch p {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
		return nil
	}
	return fmt.Errorf("invalid priority %q", p)
}

func validateNature(n string) error {
	switch n {
	case domain.NaturePersonal, domain.NatureCommercial:
		return nil
	}
	return fmt.Errorf("invalid nature %q", n)
}

func validateTaxonomy(t domain.Taxonomy) error {
	seen := map[string]bool{}
	for _, s := range t.Stages {
		if s.Name == "" {
			return errors.New("stage name must not be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %s", s.Name)
		}
		seen[s.Name] = true
		if s.Percent < 0 || s.Percent > 100 {
			return fmt.Errorf("stage %s percent must be in [0,100]", s.Name)
		}
	}
	seen = map[string]bool{}
	for _, s := range t.Sources {
		if s.Name == "" {
			return errors.New("source name must not be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %s", s.Name)
		}
		seen[s.Name] = true
		if s.FeePercent < 0 || s.FeePercent > 100 {
			return fmt.Errorf("source %s fee_percent must be in [0,100]", s.Name)
		}
	}
	return nil
}

func copyTaxonomy(t domain.Taxonomy) domain.Taxonomy {
	out := domain.Taxonomy{
		Stages:       append([]domain.Stage{}, t.Stages...),
		Sources:      append([]domain.Source{}, t.Sources...),
		ArtTypes:     append([]string{}, t.ArtTypes...),
		PersonCounts: append([]string{}, t.PersonCounts...),
	}
	return out
}
