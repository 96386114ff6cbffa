package ledger

import (
	"context"
	"fmt"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

// AdjustRequest is a manual stock correction or a goods receipt.
type AdjustRequest struct {
	MedicineID  string                 `json:"medicine_id" validate:"required"`
	Quantity    int64                  `json:"quantity" validate:"ne=0,min=-1000000,max=1000000"`
	Type        domain.TransactionType `json:"transaction_type" validate:"omitempty,oneof=purchase adjustment"`
	UnitPrice   *float64               `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	ReferenceID string                 `json:"reference_id,omitempty"`
	Notes       *string                `json:"notes,omitempty"`
}

// Adjust applies a signed correction to one medicine. Negative corrections
// are floor-guarded like sales.
func (l *Ledger) Adjust(ctx context.Context, req AdjustRequest) (domain.StockMovement, error) {
	if err := validation.Struct(req); err != nil {
		return domain.StockMovement{}, err
	}
	if req.Type == "" {
		req.Type = domain.MovementAdjustment
	}
	if req.Type == domain.MovementPurchase && req.Quantity < 0 {
		return domain.StockMovement{}, apperr.Validation("purchase quantity must be positive").
			WithDetail("quantity", "quantity must be greater than 0")
	}

	meds, err := l.loadMedicines(ctx, []string{req.MedicineID})
	if err != nil {
		return domain.StockMovement{}, err
	}
	med := meds[req.MedicineID]

	deltas := []delta{{medicineID: med.ID, qty: req.Quantity}}
	if err := l.apply(ctx, deltas, meds); err != nil {
		return domain.StockMovement{}, err
	}

	price := med.PurchasePrice
	if req.UnitPrice != nil {
		price = *req.UnitPrice
	}
	mv := domain.StockMovement{
		ID:              l.newID(),
		MedicineID:      med.ID,
		MedicineName:    med.Name,
		TransactionType: req.Type,
		Quantity:        req.Quantity,
		UnitPrice:       price,
		TotalValue:      roundMoney(price * float64(req.Quantity)),
		ReferenceID:     req.ReferenceID,
		Notes:           req.Notes,
		CreatedAt:       domain.Timestamp(l.now()),
	}
	if mv.ReferenceID == "" {
		mv.ReferenceID = mv.ID
	}
	if err := l.appendMovements(ctx, []domain.StockMovement{mv}); err != nil {
		l.revert(ctx, deltas)
		return domain.StockMovement{}, apperr.Storage(err)
	}

	l.log.Info().Str("medicine_id", med.ID).Int64("quantity", req.Quantity).Str("type", string(req.Type)).Msg("stock adjusted")
	return mv, nil
}

// SetStock moves a medicine to an absolute stock level by recording the
// difference as an adjustment. It returns nil when nothing changed.
func (l *Ledger) SetStock(ctx context.Context, medicineID string, target int64, notes string) (*domain.StockMovement, error) {
	if target < 0 {
		return nil, apperr.Validation("stock quantity cannot be negative").
			WithDetail("stock_quantity", "stock_quantity must be greater than or equal to 0")
	}
	meds, err := l.loadMedicines(ctx, []string{medicineID})
	if err != nil {
		return nil, err
	}
	diff := target - meds[medicineID].StockQuantity
	if diff == 0 {
		return nil, nil
	}
	if notes == "" {
		notes = fmt.Sprintf("Stock set to %d", target)
	}
	mv, err := l.Adjust(ctx, AdjustRequest{
		MedicineID: medicineID,
		Quantity:   diff,
		Type:       domain.MovementAdjustment,
		Notes:      strPtr(notes),
	})
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// Register creates a medicine with zero stock and books its opening stock as
// a purchase, so every unit on hand is backed by a movement. The minimum
// stock level is stored as given; callers apply the default when the field
// was omitted.
func (l *Ledger) Register(ctx context.Context, med domain.Medicine) (domain.Medicine, error) {
	opening := med.StockQuantity
	if opening < 0 {
		return domain.Medicine{}, apperr.Validation("stock quantity cannot be negative").
			WithDetail("stock_quantity", "stock_quantity must be greater than or equal to 0")
	}
	if opening > domain.MaxQuantity {
		return domain.Medicine{}, apperr.Validation("stock quantity too large").
			WithDetail("stock_quantity", fmt.Sprintf("stock_quantity must be at most %d", domain.MaxQuantity))
	}
	if med.MinimumStockLevel < 0 {
		return domain.Medicine{}, apperr.Validation("minimum stock level cannot be negative").
			WithDetail("minimum_stock_level", "minimum_stock_level must be greater than or equal to 0")
	}
	now := domain.Timestamp(l.now())
	if med.ID == "" {
		med.ID = l.newID()
	}
	med.StockQuantity = 0
	med.CreatedAt, med.UpdatedAt = now, now

	if err := l.medicines.Insert(ctx, med); err != nil {
		return domain.Medicine{}, apperr.Storage(err)
	}
	if opening == 0 {
		return med, nil
	}

	_, err := l.Adjust(ctx, AdjustRequest{
		MedicineID:  med.ID,
		Quantity:    opening,
		Type:        domain.MovementPurchase,
		UnitPrice:   &med.PurchasePrice,
		ReferenceID: med.ID,
		Notes:       strPtr("Opening stock"),
	})
	if err != nil {
		if derr := l.medicines.Delete(ctx, med.ID); derr != nil {
			l.log.Error().Err(derr).Str("medicine_id", med.ID).Msg("unable to remove medicine after opening stock failure")
		}
		return domain.Medicine{}, err
	}
	med.StockQuantity = opening
	return med, nil
}

// LowStock lists medicines whose stock is below their minimum level.
func (l *Ledger) LowStock(ctx context.Context) ([]domain.Medicine, error) {
	meds, err := l.medicines.Find(ctx, store.Where(store.LtField(stockField, "minimum_stock_level")), store.SortBy(stockField, false))
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return meds, nil
}

// Movements returns stock history, newest first. An empty medicineID lists
// every movement. A limit of zero means no limit.
func (l *Ledger) Movements(ctx context.Context, medicineID string, limit int) ([]domain.StockMovement, error) {
	filter := store.Filter{}
	if medicineID != "" {
		filter = store.Where(store.Eq("medicine_id", medicineID))
	}
	opts := []store.FindOption{store.SortBy("created_at", true)}
	if limit > 0 {
		opts = append(opts, store.Limit(limit))
	}
	mvs, err := l.movements.Find(ctx, filter, opts...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return mvs, nil
}
