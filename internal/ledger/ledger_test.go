package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
	"medipos/m/internal/store/memory"
)

func tickingClock() func() time.Time {
	var n int64
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

func newLedger(t *testing.T, s store.Store) *Ledger {
	t.Helper()
	return New(s, zerolog.Nop(), WithClock(tickingClock()))
}

func register(t *testing.T, l *Ledger, name string, stock int64, price float64) domain.Medicine {
	t.Helper()
	med, err := l.Register(context.Background(), domain.Medicine{
		Name:          name,
		PurchasePrice: price,
		SellingPrice:  price * 1.5,
		StockQuantity: stock,

		MinimumStockLevel: domain.DefaultMinimumStockLevel,
	})
	require.NoError(t, err)
	return med
}

func stockOf(t *testing.T, l *Ledger, id string) int64 {
	t.Helper()
	m, err := l.medicines.Get(context.Background(), id)
	require.NoError(t, err)
	return m.StockQuantity
}

// stock on hand must always equal the sum of the medicine's movements.
func assertStockMatchesMovements(t *testing.T, l *Ledger, id string) {
	t.Helper()
	mvs, err := l.Movements(context.Background(), id, 0)
	require.NoError(t, err)
	var sum int64
	for _, mv := range mvs {
		sum += mv.Quantity
	}
	assert.Equal(t, stockOf(t, l, id), sum)
}

func saleOf(items ...domain.SaleItem) SaleRequest {
	return SaleRequest{Items: items, PaymentMethod: domain.PaymentCash}
}

func item(id string, qty int64, price float64) domain.SaleItem {
	return domain.SaleItem{MedicineID: id, Quantity: qty, UnitPrice: price}
}

func TestRegisterBooksOpeningStock(t *testing.T) {
	l := newLedger(t, memory.New())
	med := register(t, l, "Paracetamol", 25, 2)

	assert.EqualValues(t, domain.DefaultMinimumStockLevel, med.MinimumStockLevel)
	assert.EqualValues(t, 25, stockOf(t, l, med.ID))

	mvs, err := l.Movements(context.Background(), med.ID, 0)
	require.NoError(t, err)
	require.Len(t, mvs, 1)
	assert.Equal(t, domain.MovementPurchase, mvs[0].TransactionType)
	assert.EqualValues(t, 25, mvs[0].Quantity)
	assert.InDelta(t, 50, mvs[0].TotalValue, 0.001)
}

func TestRegisterKeepsExplicitZeroMinimum(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	med, err := l.Register(ctx, domain.Medicine{Name: "Saline", StockQuantity: 0, MinimumStockLevel: 0})
	require.NoError(t, err)
	assert.EqualValues(t, 0, med.MinimumStockLevel)

	stored, err := l.medicines.Get(ctx, med.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stored.MinimumStockLevel)

	meds, err := l.LowStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestRegisterRejectsOutOfRangeValues(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Register(ctx, domain.Medicine{Name: "Huge", StockQuantity: domain.MaxQuantity + 1})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	_, err = l.Register(ctx, domain.Medicine{Name: "Odd", MinimumStockLevel: -1})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	n, err := l.medicines.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplySaleDecrementsStockAndRecordsMovements(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 20, 2)
	amox := register(t, l, "Amoxicillin", 10, 5)

	name := "Asha"
	req := saleOf(item(para.ID, 3, 4), item(amox.ID, 2, 9))
	req.PatientName = &name
	sale, err := l.ApplySale(ctx, req)
	require.NoError(t, err)

	assert.NotEmpty(t, sale.ID)
	assert.Equal(t, "Paracetamol", sale.Items[0].MedicineName)
	assert.InDelta(t, 12, sale.Items[0].TotalPrice, 0.001)
	assert.InDelta(t, 30, sale.Subtotal, 0.001)
	assert.InDelta(t, 30, sale.TotalAmount, 0.001)
	assert.EqualValues(t, 17, stockOf(t, l, para.ID))
	assert.EqualValues(t, 8, stockOf(t, l, amox.ID))

	mvs, err := l.Movements(ctx, para.ID, 0)
	require.NoError(t, err)
	require.Len(t, mvs, 2)
	latest := mvs[0]
	assert.Equal(t, domain.MovementSale, latest.TransactionType)
	assert.EqualValues(t, -3, latest.Quantity)
	assert.InDelta(t, -12, latest.TotalValue, 0.001)
	assert.Equal(t, sale.ID, latest.ReferenceID)
	require.NotNil(t, latest.Notes)
	assert.Equal(t, "Sale to Asha", *latest.Notes)

	assertStockMatchesMovements(t, l, para.ID)
	assertStockMatchesMovements(t, l, amox.ID)
}

func TestApplySaleInsufficientStockMutatesNothing(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 20, 2)
	amox := register(t, l, "Amoxicillin", 1, 5)

	_, err := l.ApplySale(ctx, saleOf(item(para.ID, 5, 4), item(amox.ID, 2, 9)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, apperr.HasCode(err, apperr.CodeBusinessRule))
	assert.Contains(t, err.Error(), "Amoxicillin")

	assert.EqualValues(t, 20, stockOf(t, l, para.ID))
	assert.EqualValues(t, 1, stockOf(t, l, amox.ID))
	n, err := l.sales.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplySaleAggregatesRepeatedLines(t *testing.T) {
	l := newLedger(t, memory.New())
	para := register(t, l, "Paracetamol", 5, 2)

	_, err := l.ApplySale(context.Background(), saleOf(item(para.ID, 3, 4), item(para.ID, 3, 4)))
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.EqualValues(t, 5, stockOf(t, l, para.ID))
}

func TestApplySaleRejectsBadRequests(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 5, 2)

	_, err := l.ApplySale(ctx, saleOf())
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	_, err = l.ApplySale(ctx, saleOf(item(para.ID, 0, 4)))
	require.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assert.Contains(t, apperr.As(err).Details, "items[0].quantity")

	req := saleOf(item(para.ID, 1, 4))
	req.PaymentMethod = "barter"
	_, err = l.ApplySale(ctx, req)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	_, err = l.ApplySale(ctx, saleOf(item("missing", 1, 4)))
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	l := newLedger(t, memory.New())
	para := register(t, l, "Paracetamol", 40, 2)

	var wg sync.WaitGroup
	var sold int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.ApplySale(context.Background(), saleOf(item(para.ID, 1, 4))); err == nil {
				atomic.AddInt64(&sold, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 40, sold)
	assert.Zero(t, stockOf(t, l, para.ID))
	assertStockMatchesMovements(t, l, para.ID)
}

// failingStore fails InsertMany on one collection.
type failingStore struct {
	store.Store
	collection string
}

func (f failingStore) InsertMany(ctx context.Context, coll string, docs []store.Document) error {
	if coll == f.collection {
		return errors.New("disk full")
	}
	return f.Store.InsertMany(ctx, coll, docs)
}

func TestApplySaleCompensatesWhenMovementsFail(t *testing.T) {
	mem := memory.New()
	setup := newLedger(t, mem)
	para := register(t, setup, "Paracetamol", 10, 2)

	l := newLedger(t, failingStore{Store: mem, collection: store.StockMovements})
	_, err := l.ApplySale(context.Background(), saleOf(item(para.ID, 4, 4)))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeStorage))

	assert.EqualValues(t, 10, stockOf(t, l, para.ID))
	n, err := l.sales.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyReturnRestocksWithinSoldQuantity(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 10, 2)
	amox := register(t, l, "Amoxicillin", 10, 5)

	sale, err := l.ApplySale(ctx, saleOf(item(para.ID, 4, 4)))
	require.NoError(t, err)

	reason := "damaged strip"
	ret, err := l.ApplyReturn(ctx, ReturnRequest{
		OriginalSaleID: sale.ID,
		Items:          []domain.SaleItem{{MedicineID: para.ID, Quantity: 3}},
		Reason:         &reason,
		RefundMethod:   domain.PaymentCash,
	})
	require.NoError(t, err)
	assert.InDelta(t, 12, ret.TotalAmount, 0.001)
	assert.Equal(t, "Paracetamol", ret.Items[0].MedicineName)
	assert.EqualValues(t, 9, stockOf(t, l, para.ID))

	mvs, err := l.Movements(ctx, para.ID, 1)
	require.NoError(t, err)
	require.Len(t, mvs, 1)
	assert.Equal(t, domain.MovementReturn, mvs[0].TransactionType)
	assert.EqualValues(t, 3, mvs[0].Quantity)
	assert.Equal(t, ret.ID, mvs[0].ReferenceID)

	// one unit left returnable
	_, err = l.ApplyReturn(ctx, ReturnRequest{
		OriginalSaleID: sale.ID,
		Items:          []domain.SaleItem{{MedicineID: para.ID, Quantity: 2}},
		RefundMethod:   domain.PaymentCash,
	})
	assert.True(t, errors.Is(err, ErrInvalidReturn))
	assert.EqualValues(t, 9, stockOf(t, l, para.ID))

	_, err = l.ApplyReturn(ctx, ReturnRequest{
		OriginalSaleID: sale.ID,
		Items:          []domain.SaleItem{{MedicineID: amox.ID, Quantity: 1}},
		RefundMethod:   domain.PaymentCash,
	})
	assert.True(t, errors.Is(err, ErrInvalidReturn))

	_, err = l.ApplyReturn(ctx, ReturnRequest{
		OriginalSaleID: "nope",
		Items:          []domain.SaleItem{{MedicineID: para.ID, Quantity: 1}},
		RefundMethod:   domain.PaymentCash,
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	assertStockMatchesMovements(t, l, para.ID)
}

func TestAdjustIsFloorGuarded(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 3, 2)

	_, err := l.Adjust(ctx, AdjustRequest{MedicineID: para.ID, Quantity: -4})
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.EqualValues(t, 3, stockOf(t, l, para.ID))

	mv, err := l.Adjust(ctx, AdjustRequest{MedicineID: para.ID, Quantity: -3})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementAdjustment, mv.TransactionType)
	assert.Zero(t, stockOf(t, l, para.ID))

	_, err = l.Adjust(ctx, AdjustRequest{MedicineID: para.ID, Quantity: -1, Type: domain.MovementPurchase})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	_, err = l.Adjust(ctx, AdjustRequest{MedicineID: para.ID, Quantity: 0})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestSetStockRecordsDifference(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 10, 2)

	mv, err := l.SetStock(ctx, para.ID, 4, "")
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.EqualValues(t, -6, mv.Quantity)
	assert.EqualValues(t, 4, stockOf(t, l, para.ID))

	mv, err = l.SetStock(ctx, para.ID, 4, "")
	require.NoError(t, err)
	assert.Nil(t, mv)

	_, err = l.SetStock(ctx, para.ID, -1, "")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assertStockMatchesMovements(t, l, para.ID)
}

func TestLowStock(t *testing.T) {
	l := newLedger(t, memory.New())
	register(t, l, "Paracetamol", 50, 2)
	low := register(t, l, "Cetirizine", 4, 1)

	meds, err := l.LowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, low.ID, meds[0].ID)
	assert.True(t, meds[0].LowStock())
}

func TestApplySaleRejectsOverflowingQuantities(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 10, 2)

	huge := int64(1) << 62
	_, err := l.ApplySale(ctx, saleOf(item(para.ID, huge, 1), item(para.ID, huge, 1), item(para.ID, huge, 1)))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assert.False(t, errors.Is(err, ErrInsufficientStock))

	assert.EqualValues(t, 10, stockOf(t, l, para.ID))
	assertStockMatchesMovements(t, l, para.ID)
	n, err := l.sales.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewDemandChecksBounds(t *testing.T) {
	d, err := newDemand([]domain.SaleItem{
		{MedicineID: "a", Quantity: domain.MaxQuantity},
		{MedicineID: "a", Quantity: domain.MaxQuantity},
		{MedicineID: "b", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.order)
	assert.EqualValues(t, 2*domain.MaxQuantity, d.qty["a"])

	_, err = newDemand([]domain.SaleItem{{MedicineID: "a", Quantity: domain.MaxQuantity + 1}})
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperr.CodeValidation, ae.Code)
	assert.Contains(t, ae.Details, "items[0].quantity")

	_, err = newDemand([]domain.SaleItem{{MedicineID: "a", Quantity: -5}})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestAdjustRejectsOutOfRangeQuantity(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	para := register(t, l, "Paracetamol", 10, 2)

	for _, qty := range []int64{domain.MaxQuantity + 1, -domain.MaxQuantity - 1, int64(1) << 62} {
		_, err := l.Adjust(ctx, AdjustRequest{MedicineID: para.ID, Quantity: qty})
		assert.True(t, apperr.HasCode(err, apperr.CodeValidation), "quantity %d", qty)
	}
	assert.EqualValues(t, 10, stockOf(t, l, para.ID))
	assertStockMatchesMovements(t, l, para.ID)
}

func TestSaleDrainingStockShowsInLowStock(t *testing.T) {
	l := newLedger(t, memory.New())
	ctx := context.Background()
	a, err := l.Register(ctx, domain.Medicine{Name: "Azithromycin", SellingPrice: 12, StockQuantity: 10, MinimumStockLevel: 5})
	require.NoError(t, err)
	b, err := l.Register(ctx, domain.Medicine{Name: "Bisoprolol", SellingPrice: 6, StockQuantity: 40, MinimumStockLevel: 5})
	require.NoError(t, err)

	_, err = l.ApplySale(ctx, saleOf(item(a.ID, 10, 12), item(b.ID, 3, 6)))
	require.NoError(t, err)

	meds, err := l.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, a.ID, meds[0].ID)
	assert.EqualValues(t, 0, meds[0].StockQuantity)
	assert.EqualValues(t, 37, stockOf(t, l, b.ID))
}
