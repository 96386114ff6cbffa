// Package ledger owns medicine stock. Sales, returns and adjustments become
// signed deltas applied through the store's atomic increment, and every
// change is recorded as an append-only stock movement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/metrics"
	"medipos/m/internal/store"
)

const stockField = "stock_quantity"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidReturn     = errors.New("invalid return")
)

// Ledger applies stock-changing events.
type Ledger struct {
	store     store.Store
	medicines store.Collection[domain.Medicine]
	sales     store.Collection[domain.Sale]
	returns   store.Collection[domain.Return]
	movements store.Collection[domain.StockMovement]
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New constructs a Ledger.
func New(s store.Store, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     s,
		medicines: store.Typed[domain.Medicine](s, store.Medicines),
		sales:     store.Typed[domain.Sale](s, store.Sales),
		returns:   store.Typed[domain.Return](s, store.Returns),
		movements: store.Typed[domain.StockMovement](s, store.StockMovements),
		log:       log.With().Str("component", "ledger").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// demand is the quantity requested per medicine, in first-seen order.
type demand struct {
	order []string
	qty   map[string]int64
}

// newDemand sums quantities per medicine. A line outside (0, MaxQuantity]
// or a total that would overflow is a validation error.
func newDemand(items []domain.SaleItem) (demand, error) {
	d := demand{qty: make(map[string]int64, len(items))}
	for i, it := range items {
		if it.Quantity <= 0 || it.Quantity > domain.MaxQuantity {
			return demand{}, apperr.Validation("quantity out of range").
				WithDetail(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("must be between 1 and %d", domain.MaxQuantity))
		}
		total, seen := d.qty[it.MedicineID]
		if !seen {
			d.order = append(d.order, it.MedicineID)
		}
		if total > math.MaxInt64-it.Quantity {
			return demand{}, apperr.Validation("total quantity overflows").
				WithDetail(fmt.Sprintf("items[%d].quantity", i), "total for medicine "+it.MedicineID+" is too large")
		}
		d.qty[it.MedicineID] = total + it.Quantity
	}
	return d, nil
}

// delta is a stock change already written, kept for compensation.
type delta struct {
	medicineID string
	qty        int64
}

func (l *Ledger) loadMedicines(ctx context.Context, ids []string) (map[string]domain.Medicine, error) {
	out := make(map[string]domain.Medicine, len(ids))
	for _, id := range ids {
		m, err := l.medicines.Get(ctx, id)
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundWithID("medicine", id)
		}
		if err != nil {
			return nil, apperr.Storage(err)
		}
		out[id] = m
	}
	return out, nil
}

// apply writes each delta through the floor-guarded increment. On the first
// failure every delta already written is reverted.
func (l *Ledger) apply(ctx context.Context, deltas []delta, meds map[string]domain.Medicine) error {
	applied := make([]delta, 0, len(deltas))
	for _, d := range deltas {
		floor := int64(0)
		if d.qty > 0 {
			floor = store.NoFloor
		}
		if _, err := l.store.Increment(ctx, store.Medicines, d.medicineID, stockField, d.qty, floor); err != nil {
			l.revert(ctx, applied)
			switch {
			case errors.Is(err, store.ErrBelowFloor):
				m := meds[d.medicineID]
				return insufficient(m.Name, m.StockQuantity, -d.qty)
			case store.IsNotFound(err):
				return apperr.NotFoundWithID("medicine", d.medicineID)
			}
			return apperr.Storage(err)
		}
		applied = append(applied, d)
	}
	return nil
}

func (l *Ledger) revert(ctx context.Context, applied []delta) {
	for _, d := range applied {
		if _, err := l.store.Increment(ctx, store.Medicines, d.medicineID, stockField, -d.qty, store.NoFloor); err != nil {
			l.log.Error().Err(err).Str("medicine_id", d.medicineID).Int64("quantity", -d.qty).Msg("stock compensation failed")
		}
	}
}

func (l *Ledger) appendMovements(ctx context.Context, movements []domain.StockMovement) error {
	docs := make([]store.Document, 0, len(movements))
	for _, mv := range movements {
		doc, err := store.Encode(mv)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := l.store.InsertMany(ctx, store.StockMovements, docs); err != nil {
		return err
	}
	for _, mv := range movements {
		l.metrics.RecordMovement(string(mv.TransactionType))
	}
	return nil
}

func insufficient(name string, available, requested int64) error {
	msg := fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, available, requested)
	return apperr.BusinessRule(msg).Wrap(ErrInsufficientStock)
}

func invalidReturn(msg string) error {
	return apperr.BusinessRule(msg).Wrap(ErrInvalidReturn)
}

func strPtr(s string) *string { return &s }
