package ledger

import (
	"context"
	"math"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

// SaleRequest is a checkout as submitted by the till.
type SaleRequest struct {
	PatientID      *string              `json:"patient_id,omitempty"`
	PatientName    *string              `json:"patient_name,omitempty"`
	Items          []domain.SaleItem    `json:"items" validate:"required,min=1,dive"`
	Subtotal       float64              `json:"subtotal" validate:"gte=0"`
	TaxAmount      float64              `json:"tax_amount" validate:"gte=0"`
	DiscountAmount float64              `json:"discount_amount" validate:"gte=0"`
	TotalAmount    float64              `json:"total_amount" validate:"gte=0"`
	PaymentMethod  domain.PaymentMethod `json:"payment_method" validate:"required,oneof=cash card upi credit"`
}

// ApplySale records a sale and removes its quantities from stock. Stock for
// every item is checked before anything is written. The decrements are
// floor-guarded, so a concurrent sale that wins the race makes this one fail
// as a whole instead of overselling.
func (l *Ledger) ApplySale(ctx context.Context, req SaleRequest) (domain.Sale, error) {
	if err := validation.Struct(req); err != nil {
		return domain.Sale{}, err
	}

	need, err := newDemand(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	meds, err := l.loadMedicines(ctx, need.order)
	if err != nil {
		return domain.Sale{}, err
	}
	for _, id := range need.order {
		if m := meds[id]; m.StockQuantity < need.qty[id] {
			return domain.Sale{}, insufficient(m.Name, m.StockQuantity, need.qty[id])
		}
	}

	sale := domain.Sale{
		ID:             l.newID(),
		PatientID:      req.PatientID,
		PatientName:    req.PatientName,
		Items:          make([]domain.SaleItem, len(req.Items)),
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		PaymentMethod:  req.PaymentMethod,
		CreatedAt:      domain.Timestamp(l.now()),
	}
	var lineSum float64
	for i, it := range req.Items {
		if it.MedicineName == "" {
			it.MedicineName = meds[it.MedicineID].Name
		}
		if it.TotalPrice == 0 {
			it.TotalPrice = roundMoney(it.UnitPrice * float64(it.Quantity))
		}
		lineSum += it.TotalPrice
		sale.Items[i] = it
	}
	sale.Subtotal = req.Subtotal
	if sale.Subtotal == 0 {
		sale.Subtotal = roundMoney(lineSum)
	}
	sale.TotalAmount = req.TotalAmount
	if sale.TotalAmount == 0 {
		sale.TotalAmount = roundMoney(sale.Subtotal + sale.TaxAmount - sale.DiscountAmount)
	}

	deltas := make([]delta, 0, len(need.order))
	for _, id := range need.order {
		deltas = append(deltas, delta{medicineID: id, qty: -need.qty[id]})
	}
	if err := l.apply(ctx, deltas, meds); err != nil {
		return domain.Sale{}, err
	}

	doc, err := store.Encode(sale)
	if err == nil {
		err = l.store.Insert(ctx, store.Sales, doc)
	}
	if err != nil {
		l.revert(ctx, deltas)
		return domain.Sale{}, apperr.Storage(err)
	}

	notes := "Sale to " + sale.Customer()
	movements := make([]domain.StockMovement, 0, len(sale.Items))
	for _, it := range sale.Items {
		movements = append(movements, domain.StockMovement{
			ID:              l.newID(),
			MedicineID:      it.MedicineID,
			MedicineName:    it.MedicineName,
			TransactionType: domain.MovementSale,
			Quantity:        -it.Quantity,
			UnitPrice:       it.UnitPrice,
			TotalValue:      -it.TotalPrice,
			ReferenceID:     sale.ID,
			Notes:           strPtr(notes),
			CreatedAt:       sale.CreatedAt,
		})
	}
	if err := l.appendMovements(ctx, movements); err != nil {
		if _, derr := l.store.DeleteOne(ctx, store.Sales, store.ByID(sale.ID)); derr != nil {
			l.log.Error().Err(derr).Str("sale_id", sale.ID).Msg("unable to remove sale after movement failure")
		}
		l.revert(ctx, deltas)
		return domain.Sale{}, apperr.Storage(err)
	}

	l.metrics.RecordSale(sale.TotalAmount)
	l.log.Info().Str("sale_id", sale.ID).Int("items", len(sale.Items)).Float64("total", sale.TotalAmount).Msg("sale recorded")
	return sale, nil
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
