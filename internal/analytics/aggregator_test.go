package analytics

import (
	"context"
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

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func at(y int, m time.Month, d, h int) string {
	return domain.Timestamp(time.Date(y, m, d, h, 0, 0, 0, time.UTC))
}

func strp(s string) *string   { return &s }
func feep(f float64) *float64 { return &f }

type fixture struct {
	store *memory.Store
	agg   *Aggregator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	meds := store.Typed[domain.Medicine](s, store.Medicines)
	require.NoError(t, meds.Insert(ctx, domain.Medicine{ID: "para", Name: "Paracetamol", Manufacturer: strp("Acme"), PurchasePrice: 2, SellingPrice: 4, StockQuantity: 50, MinimumStockLevel: 10}))
	require.NoError(t, meds.Insert(ctx, domain.Medicine{ID: "amox", Name: "Amoxicillin", PurchasePrice: 5, SellingPrice: 9, StockQuantity: 3, MinimumStockLevel: 10}))
	return fixture{store: s, agg: New(s, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))}
}

func (f fixture) sale(t *testing.T, id, createdAt string, method domain.PaymentMethod, items ...domain.SaleItem) {
	t.Helper()
	var total float64
	for _, it := range items {
		total += it.TotalPrice
	}
	sale := domain.Sale{ID: id, Items: items, Subtotal: total, TotalAmount: total, PaymentMethod: method, CreatedAt: createdAt}
	require.NoError(t, store.Typed[domain.Sale](f.store, store.Sales).Insert(context.Background(), sale))
}

func (f fixture) consult(t *testing.T, id, createdAt string, fee *float64) {
	t.Helper()
	p := domain.OPDPrescription{ID: id, DoctorID: "d1", PatientID: "p1", ConsultationFee: fee, CreatedAt: createdAt}
	require.NoError(t, store.Typed[domain.OPDPrescription](f.store, store.OPDPrescriptions).Insert(context.Background(), p))
}

func line(id, name string, qty int64, total float64) domain.SaleItem {
	return domain.SaleItem{MedicineID: id, MedicineName: name, Quantity: qty, UnitPrice: total / float64(qty), TotalPrice: total}
}

func TestComputeReport(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "s1", at(2024, 3, 10, 9), domain.PaymentCash, line("para", "Paracetamol", 10, 40), line("amox", "Amoxicillin", 2, 18))
	f.sale(t, "s2", at(2024, 3, 12, 15), domain.PaymentUPI, line("para", "Paracetamol", 5, 20), line("gone", "Discontinued", 1, 7))
	f.sale(t, "s-old", at(2024, 2, 28, 10), domain.PaymentCash, line("para", "Paracetamol", 1, 4))
	f.consult(t, "c1", at(2024, 3, 11, 10), feep(300))
	f.consult(t, "c2", at(2024, 3, 11, 11), feep(0))
	f.consult(t, "c3", at(2024, 3, 11, 12), nil)

	w, err := ResolveWindow(RangeThisMonth, "", "", fixedNow)
	require.NoError(t, err)
	r, err := f.agg.ComputeReport(context.Background(), w)
	require.NoError(t, err)

	s := r.Summary
	assert.InDelta(t, 85, s.MedicineRevenue, 0.001)
	assert.InDelta(t, 300, s.ConsultationRevenue, 0.001)
	assert.InDelta(t, 385, s.TotalRevenue, 0.001)
	// para 15*2 + amox 2*5, the unknown line has no cost
	assert.InDelta(t, 40, s.TotalCost, 0.001)
	assert.InDelta(t, 45, s.MedicineProfit, 0.001)
	assert.InDelta(t, 45, s.TotalProfit, 0.001)
	// margin is over medicine revenue only
	assert.InDelta(t, 52.94, s.ProfitMargin, 0.001)
	assert.InDelta(t, 345, s.CombinedProfit, 0.001)
	assert.Equal(t, 2, s.TotalTransactions)
	assert.Equal(t, 1, s.TotalConsultations)
	assert.Equal(t, 1, s.UnmatchedItems)

	require.Len(t, r.MedicineAnalysis, 2)
	top := r.MedicineAnalysis[0]
	assert.Equal(t, "para", top.MedicineID)
	assert.EqualValues(t, 15, top.Quantity)
	assert.InDelta(t, 60, top.Revenue, 0.001)
	assert.InDelta(t, 30, top.Profit, 0.001)
	assert.InDelta(t, 50, top.ProfitMargin, 0.001)
	assert.Equal(t, "N/A", r.MedicineAnalysis[1].Manufacturer)

	assert.Equal(t, PaymentStat{Count: 1, Amount: 58}, r.PaymentBreakdown["cash"])
	assert.Equal(t, PaymentStat{Count: 1, Amount: 27}, r.PaymentBreakdown["upi"])
	assert.EqualValues(t, 15, r.ManufacturerBreakdown["Acme"].Quantity)
	assert.InDelta(t, 8, r.ManufacturerBreakdown["N/A"].Profit, 0.001)
	assert.Equal(t, RangeThisMonth, r.Period.DateRange)
}

func TestZeroLineTotalHasZeroMargin(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "s1", at(2024, 3, 10, 9), domain.PaymentCash, domain.SaleItem{MedicineID: "para", MedicineName: "Paracetamol", Quantity: 2})

	w, _ := ResolveWindow(RangeThisMonth, "", "", fixedNow)
	r, err := f.agg.ComputeReport(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, r.MedicineAnalysis, 1)
	assert.Zero(t, r.MedicineAnalysis[0].ProfitMargin)
	assert.InDelta(t, -4, r.MedicineAnalysis[0].Profit, 0.001)
}

func TestGrowth(t *testing.T) {
	assert.Equal(t, 0.0, Growth(0, 0))
	assert.Equal(t, 100.0, Growth(50, 0))
	assert.Equal(t, 50.0, Growth(150, 100))
	assert.Equal(t, -25.0, Growth(75, 100))
}

func TestComputeKPIsUsesPrecedingWindow(t *testing.T) {
	f := newFixture(t)
	// window is 2024-03-10 .. 2024-03-14 end of day, previous is 2024-03-05 .. 2024-03-10
	f.sale(t, "cur1", at(2024, 3, 10, 0), domain.PaymentCash, line("para", "Paracetamol", 1, 150))
	f.sale(t, "prev1", at(2024, 3, 6, 10), domain.PaymentCash, line("para", "Paracetamol", 1, 100))
	f.sale(t, "too-old", at(2024, 3, 1, 10), domain.PaymentCash, line("para", "Paracetamol", 1, 999))
	f.consult(t, "c1", at(2024, 3, 12, 10), feep(200))

	w, err := ResolveWindow(RangeCustom, "2024-03-10", "2024-03-14", fixedNow)
	require.NoError(t, err)
	k, err := f.agg.ComputeKPIs(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, Comparison{Current: 150, Previous: 100, Growth: 50}, k.RevenueKPIs.MedicineRevenue)
	assert.Equal(t, Comparison{Current: 200, Previous: 0, Growth: 100}, k.RevenueKPIs.ConsultationRevenue)
	assert.Equal(t, Comparison{Current: 1, Previous: 1, Growth: 0}, k.TransactionKPIs.TotalTransactions)
	assert.InDelta(t, 150, k.TransactionKPIs.AvgTransactionValue, 0.001)
	assert.EqualValues(t, 2, k.InventoryKPIs.TotalMedicines)
	assert.EqualValues(t, 1, k.InventoryKPIs.LowStockItems)
}

func TestMonthlyComparisonUsesCalendarMonths(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "jan31", at(2024, 1, 31, 23), domain.PaymentCash, line("para", "Paracetamol", 1, 10))
	f.sale(t, "feb29", at(2024, 2, 29, 23), domain.PaymentCash, line("para", "Paracetamol", 1, 20))
	f.sale(t, "mar1", at(2024, 3, 1, 0), domain.PaymentCash, line("para", "Paracetamol", 1, 40))

	buckets, err := f.agg.MonthlyComparison(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.Equal(t, "2024-01", buckets[0].Label)
	assert.Equal(t, "2024-02", buckets[1].Label)
	assert.Equal(t, "February 2024", buckets[1].Name)
	assert.Equal(t, 29, buckets[1].Days)
	assert.Equal(t, "2024-03", buckets[2].Label)

	assert.InDelta(t, 10, buckets[0].MedicineRevenue, 0.001)
	assert.InDelta(t, 20, buckets[1].MedicineRevenue, 0.001)
	assert.InDelta(t, 40, buckets[2].MedicineRevenue, 0.001)
	assert.InDelta(t, 18, buckets[1].Profit, 0.001)

	_, err = f.agg.MonthlyComparison(context.Background(), 0)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestYearlyComparison(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "y23", at(2023, 12, 31, 23), domain.PaymentCash, line("para", "Paracetamol", 1, 10))
	f.sale(t, "y24", at(2024, 1, 1, 0), domain.PaymentCash, line("para", "Paracetamol", 1, 30))

	buckets, err := f.agg.YearlyComparison(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "2023", buckets[0].Label)
	assert.Equal(t, 365, buckets[0].Days)
	assert.Equal(t, 366, buckets[1].Days)
	assert.InDelta(t, 10, buckets[0].TotalRevenue, 0.001)
	assert.InDelta(t, 30, buckets[1].TotalRevenue, 0.001)
}

func TestDailySalesReport(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "s1", at(2024, 3, 15, 9), domain.PaymentCash, line("para", "Paracetamol", 1, 30))
	f.sale(t, "s2", at(2024, 3, 15, 9), domain.PaymentCard, line("para", "Paracetamol", 1, 10))
	f.sale(t, "s3", at(2024, 3, 15, 17), domain.PaymentCash, line("para", "Paracetamol", 1, 10))
	f.sale(t, "other-day", at(2024, 3, 14, 9), domain.PaymentCash, line("para", "Paracetamol", 1, 99))

	r, err := f.agg.DailySalesReport(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", r.Date)
	assert.InDelta(t, 50, r.Summary.TotalRevenue, 0.001)
	assert.Equal(t, 3, r.Summary.TotalTransactions)

	cash := r.PaymentBreakdown["cash"]
	assert.Equal(t, 2, cash.Count)
	assert.InDelta(t, 80, cash.Percentage, 0.001)
	assert.InDelta(t, 20, cash.AvgTransaction, 0.001)
	assert.Len(t, cash.Transactions, 2)
	assert.Equal(t, "walk-in customer", cash.Transactions[0].PatientName)
	assert.Zero(t, r.PaymentBreakdown["upi"].Count)

	require.Len(t, r.HourlyBreakdown, 24)
	assert.Equal(t, 2, r.HourlyBreakdown[9].Count)
	assert.InDelta(t, 40, r.HourlyBreakdown[9].Amount, 0.001)
	assert.Equal(t, 1, r.HourlyBreakdown[17].Count)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "s1", at(2024, 3, 15, 9), domain.PaymentCash, line("para", "Paracetamol", 3, 12))
	f.sale(t, "s2", at(2024, 3, 2, 9), domain.PaymentCash, line("amox", "Amoxicillin", 5, 45))

	d, err := f.agg.Dashboard(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12, d.TodayRevenue, 0.001)
	assert.Equal(t, 1, d.TodayTransactions)
	assert.InDelta(t, 57, d.MonthRevenue, 0.001)
	assert.EqualValues(t, 1, d.LowStockCount)
	require.Len(t, d.TopSellingMedicines, 2)
	assert.Equal(t, "amox", d.TopSellingMedicines[0].MedicineID)
	require.Len(t, d.RecentSales, 2)
	assert.Equal(t, "s1", d.RecentSales[0].ID)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "s1", at(2024, 3, 10, 9), domain.PaymentCash, line("para", "Paracetamol", 1, 4))
	w, _ := ResolveWindow(RangeThisMonth, "", "", fixedNow)
	ctx := context.Background()

	e, err := f.agg.Export(ctx, w, ExportMedicineAnalysis)
	require.NoError(t, err)
	rows, ok := e.Data.([]MedicineRow)
	require.True(t, ok)
	assert.Len(t, rows, 1)
	require.NotNil(t, e.Summary)

	e, err = f.agg.Export(ctx, w, ExportSalesSummary)
	require.NoError(t, err)
	_, ok = e.Data.(SalesSummaryData)
	assert.True(t, ok)

	_, err = f.agg.Export(ctx, w, "pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}
