package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"atelierdesk/internal/domain"
)

// Store is the persistence adapter: whole-state JSON snapshots kept under
// fixed keys in the blobs table. A write fully replaces the stored blob;
// a failed write leaves the previous blob untouched.
type Store struct {
	DB *sql.DB
}

const (
	KeyOrders   = "orders"
	KeyTaxonomy = "taxonomy"
	KeyInsights = "insights"
)

var ErrNotFound = errors.New("not found")

// LoadOrders reads the orders snapshot. A missing or unparsable blob is
// recovered as an empty collection, never surfaced as an error.
func (s Store) LoadOrders(ctx context.Context) ([]domain.Order, error) {
	raw, err := s.loadBlob(ctx, KeyOrders)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var orders []domain.Order
	if err := json.Unmarshal([]byte(raw), &orders); err != nil {
		return nil, nil
	}
	return orders, nil
}

// LoadTaxonomy reads the taxonomy snapshot, falling back to the given
// default when the blob is missing or unparsable.
func (s Store) LoadTaxonomy(ctx context.Context, fallback domain.Taxonomy) (domain.Taxonomy, error) {
	raw, err := s.loadBlob(ctx, KeyTaxonomy)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fallback, nil
		}
		return fallback, err
	}
	var tax domain.Taxonomy
	if err := json.Unmarshal([]byte(raw), &tax); err != nil {
		return fallback, nil
	}
	if len(tax.Stages) == 0 {
		return fallback, nil
	}
	return tax, nil
}

// LoadInsights reads the last generated insights text, empty if none.
func (s Store) LoadInsights(ctx context.Context) (string, error) {
	raw, err := s.loadBlob(ctx, KeyInsights)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return raw, nil
}

func (s Store) SaveOrdersTx(ctx context.Context, tx *sql.Tx, orders []domain.Order) error {
	if orders == nil {
		orders = []domain.Order{}
	}
	data, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("marshal orders: %w", err)
	}
	return saveBlob(ctx, nil, tx, KeyOrders, string(data))
}

func (s Store) SaveTaxonomyTx(ctx context.Context, tx *sql.Tx, tax domain.Taxonomy) error {
	data, err := json.Marshal(tax)
	if err != nil {
		return fmt.Errorf("marshal taxonomy: %w", err)
	}
	return saveBlob(ctx, nil, tx, KeyTaxonomy, string(data))
}

func (s Store) SaveInsights(ctx context.Context, text string) error {
	return saveBlob(ctx, s.DB, nil, KeyInsights, text)
}

func (s Store) loadBlob(ctx context.Context, key string) (string, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM blobs WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func saveBlob(ctx context.Context, db *sql.DB, tx *sql.Tx, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO blobs(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now)
	return err
}
