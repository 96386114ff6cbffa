package ledger

import (
	"context"
	"fmt"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

type ReturnRequest struct {
	OriginalSaleID string               `json:"original_sale_id" validate:"required"`
	Items          []domain.SaleItem    `json:"items" validate:"required,min=1,dive"`
	Subtotal       float64              `json:"subtotal" validate:"gte=0"`
	TaxAmount      float64              `json:"tax_amount" validate:"gte=0"`
	DiscountAmount float64              `json:"discount_amount" validate:"gte=0"`
	TotalAmount    float64              `json:"total_amount" validate:"gte=0"`
	Reason         *string              `json:"reason,omitempty"`
	RefundMethod   domain.PaymentMethod `json:"refund_method" validate:"required,oneof=cash card upi credit"`
}

// ApplyReturn puts returned items back into stock. Quantities are checked
// against the original sale minus whatever earlier returns already took back.
func (l *Ledger) ApplyReturn(ctx context.Context, req ReturnRequest) (domain.Return, error) {
	if err := validation.Struct(req); err != nil {
		return domain.Return{}, err
	}

	sale, err := l.sales.Get(ctx, req.OriginalSaleID)
	if store.IsNotFound(err) {
		return domain.Return{}, apperr.NotFoundWithID("sale", req.OriginalSaleID)
	}
	if err != nil {
		return domain.Return{}, apperr.Storage(err)
	}

	sold, err := newDemand(sale.Items)
	if err != nil {
		return domain.Return{}, apperr.Integrity("stored sale has invalid quantities").Wrap(err)
	}
	soldLine := make(map[string]domain.SaleItem, len(sale.Items))
	for _, it := range sale.Items {
		if _, ok := soldLine[it.MedicineID]; !ok {
			soldLine[it.MedicineID] = it
		}
	}

	earlier, err := l.returns.Find(ctx, store.Where(store.Eq("original_sale_id", sale.ID)))
	if err != nil {
		return domain.Return{}, apperr.Storage(err)
	}
	returned := make(map[string]int64)
	for _, r := range earlier {
		for _, it := range r.Items {
			returned[it.MedicineID] += it.Quantity
		}
	}

	want, err := newDemand(req.Items)
	if err != nil {
		return domain.Return{}, err
	}
	for _, id := range want.order {
		soldQty, ok := sold.qty[id]
		if !ok {
			return domain.Return{}, invalidReturn(fmt.Sprintf("medicine %s was not part of sale %s", id, sale.ID))
		}
		if want.qty[id] > soldQty-returned[id] {
			return domain.Return{}, invalidReturn(fmt.Sprintf(
				"return quantity for %s exceeds purchased quantity: sold %d, already returned %d, requested %d",
				soldLine[id].MedicineName, soldQty, returned[id], want.qty[id]))
		}
	}

	meds, err := l.loadMedicines(ctx, want.order)
	if err != nil {
		return domain.Return{}, err
	}

	ret := domain.Return{
		ID:             l.newID(),
		OriginalSaleID: sale.ID,
		Items:          make([]domain.SaleItem, len(req.Items)),
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		Reason:         req.Reason,
		RefundMethod:   req.RefundMethod,
		CreatedAt:      domain.Timestamp(l.now()),
	}
	var lineSum float64
	for i, it := range req.Items {
		orig := soldLine[it.MedicineID]
		if it.MedicineName == "" {
			it.MedicineName = orig.MedicineName
		}
		if it.UnitPrice == 0 {
			it.UnitPrice = orig.UnitPrice
		}
		if it.TotalPrice == 0 {
			it.TotalPrice = roundMoney(it.UnitPrice * float64(it.Quantity))
		}
		lineSum += it.TotalPrice
		ret.Items[i] = it
	}
	ret.Subtotal = req.Subtotal
	if ret.Subtotal == 0 {
		ret.Subtotal = roundMoney(lineSum)
	}
	ret.TotalAmount = req.TotalAmount
	if ret.TotalAmount == 0 {
		ret.TotalAmount = roundMoney(ret.Subtotal + ret.TaxAmount - ret.DiscountAmount)
	}

	deltas := make([]delta, 0, len(want.order))
	for _, id := range want.order {
		deltas = append(deltas, delta{medicineID: id, qty: want.qty[id]})
	}
	if err := l.apply(ctx, deltas, meds); err != nil {
		return domain.Return{}, err
	}

	doc, err := store.Encode(ret)
	if err == nil {
		err = l.store.Insert(ctx, store.Returns, doc)
	}
	if err != nil {
		l.revert(ctx, deltas)
		return domain.Return{}, apperr.Storage(err)
	}

	notes := "Return for sale " + sale.ID
	if ret.Reason != nil && *ret.Reason != "" {
		notes += ": " + *ret.Reason
	}
	movements := make([]domain.StockMovement, 0, len(ret.Items))
	for _, it := range ret.Items {
		movements = append(movements, domain.StockMovement{
			ID:              l.newID(),
			MedicineID:      it.MedicineID,
			MedicineName:    it.MedicineName,
			TransactionType: domain.MovementReturn,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			TotalValue:      it.TotalPrice,
			ReferenceID:     ret.ID,
			Notes:           strPtr(notes),
			CreatedAt:       ret.CreatedAt,
		})
	}
	if err := l.appendMovements(ctx, movements); err != nil {
		if _, derr := l.store.DeleteOne(ctx, store.Returns, store.ByID(ret.ID)); derr != nil {
			l.log.Error().Err(derr).Str("return_id", ret.ID).Msg("unable to remove return after movement failure")
		}
		l.revert(ctx, deltas)
		return domain.Return{}, apperr.Storage(err)
	}

	l.log.Info().Str("return_id", ret.ID).Str("sale_id", sale.ID).Float64("total", ret.TotalAmount).Msg("return recorded")
	return ret, nil
}
