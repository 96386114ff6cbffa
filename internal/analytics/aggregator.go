// Package analytics derives revenue, cost and profit figures from sales,
// OPD consultations and the medicine catalog. Reports are computed on demand
// and never stored.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

const unknownManufacturer = "N/A"

var hundred = decimal.NewFromInt(100)

type Aggregator struct {
	store     store.Store
	medicines store.Collection[domain.Medicine]
	sales     store.Collection[domain.Sale]
	opd       store.Collection[domain.OPDPrescription]
	patients  store.Collection[domain.Patient]
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(s store.Store, log zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:     s,
		medicines: store.Typed[domain.Medicine](s, store.Medicines),
		sales:     store.Typed[domain.Sale](s, store.Sales),
		opd:       store.Typed[domain.OPDPrescription](s, store.OPDPrescriptions),
		patients:  store.Typed[domain.Patient](s, store.Patients),
		log:       log.With().Str("component", "analytics").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Summary is the headline of a report.
type Summary struct {
	TotalRevenue        float64 `json:"total_revenue"`
	MedicineRevenue     float64 `json:"medicine_revenue"`
	ConsultationRevenue float64 `json:"consultation_revenue"`
	TotalCost           float64 `json:"total_cost"`
	MedicineProfit      float64 `json:"medicine_profit"`
	TotalProfit         float64 `json:"total_profit"`
	ProfitMargin        float64 `json:"profit_margin"`
	CombinedProfit      float64 `json:"combined_profit"`
	TotalTransactions   int     `json:"total_transactions"`
	TotalConsultations  int     `json:"total_consultations"`
	UnmatchedItems      int     `json:"unmatched_items"`
}

// MedicineRow aggregates every sold line of one medicine.
type MedicineRow struct {
	MedicineID    string  `json:"medicine_id"`
	MedicineName  string  `json:"medicine_name"`
	Manufacturer  string  `json:"manufacturer"`
	GenericName   string  `json:"generic_name"`
	Quantity      int64   `json:"quantity"`
	Revenue       float64 `json:"revenue"`
	Cost          float64 `json:"cost"`
	Profit        float64 `json:"profit"`
	ProfitMargin  float64 `json:"profit_margin"`
	PurchasePrice float64 `json:"purchase_price"`
	SellingPrice  float64 `json:"selling_price"`
}

type PaymentStat struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

type ManufacturerStat struct {
	Quantity int64   `json:"quantity"`
	Revenue  float64 `json:"revenue"`
	Profit   float64 `json:"profit"`
}

// Report is the comprehensive analytics response.
type Report struct {
	Period                Period                      `json:"period"`
	Summary               Summary                     `json:"summary"`
	MedicineAnalysis      []MedicineRow               `json:"medicine_analysis"`
	PaymentBreakdown      map[string]PaymentStat      `json:"payment_breakdown"`
	ManufacturerBreakdown map[string]ManufacturerStat `json:"manufacturer_breakdown"`
}

// ComputeReport aggregates sales and paid consultations created inside w.
// Cost uses each medicine's purchase price as it is now, not as it was when
// the sale happened.
func (a *Aggregator) ComputeReport(ctx context.Context, w Window) (Report, error) {
	data, err := a.load(ctx, w.filter())
	if err != nil {
		return Report{}, err
	}
	report, err := a.analyse(ctx, data)
	if err != nil {
		return Report{}, err
	}
	report.Period = w.Period()
	return report, nil
}

// period holds the raw records of one window.
type period struct {
	sales         []domain.Sale
	consultations []domain.OPDPrescription
}

func (a *Aggregator) load(ctx context.Context, f store.Filter) (period, error) {
	sales, err := a.sales.Find(ctx, f, store.SortBy("created_at", false))
	if err != nil {
		return period{}, apperr.Storage(err)
	}
	opd, err := a.opd.Find(ctx, f.And(store.Gt("consultation_fee", 0)))
	if err != nil {
		return period{}, apperr.Storage(err)
	}
	return period{sales: sales, consultations: opd}, nil
}

// totals holds the money sums of a period as decimals.
type totals struct {
	medicineRevenue     decimal.Decimal
	consultationRevenue decimal.Decimal
	cost                decimal.Decimal
	transactions        int
	consultations       int
	unmatched           int
}

func (t totals) totalRevenue() decimal.Decimal { return t.medicineRevenue.Add(t.consultationRevenue) }

// medicineProfit is the profit figure reported as total_profit. Consultation
// fees carry no cost and are only added in combinedProfit.
func (t totals) medicineProfit() decimal.Decimal {
	return t.medicineRevenue.Sub(t.cost)
}
func (t totals) combinedProfit() decimal.Decimal {
	return t.medicineProfit().Add(t.consultationRevenue)
}

func (t totals) summary() Summary {
	return Summary{
		TotalRevenue:        money(t.totalRevenue()),
		MedicineRevenue:     money(t.medicineRevenue),
		ConsultationRevenue: money(t.consultationRevenue),
		TotalCost:           money(t.cost),
		MedicineProfit:      money(t.medicineProfit()),
		TotalProfit:         money(t.medicineProfit()),
		ProfitMargin:        percent(t.medicineProfit(), t.medicineRevenue),
		CombinedProfit:      money(t.combinedProfit()),
		TotalTransactions:   t.transactions,
		TotalConsultations:  t.consultations,
		UnmatchedItems:      t.unmatched,
	}
}

type medicineAcc struct {
	row     MedicineRow
	revenue decimal.Decimal
	cost    decimal.Decimal
}

func (a *Aggregator) analyse(ctx context.Context, p period) (Report, error) {
	catalog, err := a.catalog(ctx, p.sales)
	if err != nil {
		return Report{}, err
	}

	t := sumPeriod(p)
	payments := make(map[string]PaymentStat)
	accs := make(map[string]*medicineAcc)
	var order []string

	for _, sale := range p.sales {
		method := string(sale.PaymentMethod)
		if method == "" {
			method = "unknown"
		}
		ps := payments[method]
		ps.Count++
		ps.Amount = money(decimal.NewFromFloat(ps.Amount).Add(decimal.NewFromFloat(sale.TotalAmount)))
		payments[method] = ps

		for _, it := range sale.Items {
			med, ok := catalog[it.MedicineID]
			if !ok {
				t.unmatched++
				continue
			}
			lineTotal := decimal.NewFromFloat(it.TotalPrice)
			cost := decimal.NewFromFloat(med.PurchasePrice).Mul(decimal.NewFromInt(it.Quantity))
			t.cost = t.cost.Add(cost)

			acc, seen := accs[med.ID]
			if !seen {
				acc = &medicineAcc{row: MedicineRow{
					MedicineID:    med.ID,
					MedicineName:  it.MedicineName,
					Manufacturer:  deref(med.Manufacturer),
					GenericName:   deref(med.GenericName),
					PurchasePrice: med.PurchasePrice,
					SellingPrice:  med.SellingPrice,
				}}
				if acc.row.MedicineName == "" {
					acc.row.MedicineName = med.Name
				}
				accs[med.ID] = acc
				order = append(order, med.ID)
			}
			acc.row.Quantity += it.Quantity
			acc.revenue = acc.revenue.Add(lineTotal)
			acc.cost = acc.cost.Add(cost)
		}
	}

	rows := make([]MedicineRow, 0, len(order))
	manufacturers := make(map[string]ManufacturerStat)
	for _, id := range order {
		acc := accs[id]
		profit := acc.revenue.Sub(acc.cost)
		row := acc.row
		row.Revenue = money(acc.revenue)
		row.Cost = money(acc.cost)
		row.Profit = money(profit)
		row.ProfitMargin = percent(profit, acc.revenue)
		rows = append(rows, row)

		ms := manufacturers[row.Manufacturer]
		ms.Quantity += row.Quantity
		ms.Revenue = money(decimal.NewFromFloat(ms.Revenue).Add(acc.revenue))
		ms.Profit = money(decimal.NewFromFloat(ms.Profit).Add(profit))
		manufacturers[row.Manufacturer] = ms
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Revenue > rows[j].Revenue })

	return Report{
		Summary:               t.summary(),
		MedicineAnalysis:      rows,
		PaymentBreakdown:      payments,
		ManufacturerBreakdown: manufacturers,
	}, nil
}

// sumPeriod computes revenue and counts. Cost needs the catalog and is
// added by the caller.
func sumPeriod(p period) totals {
	var t totals
	for _, s := range p.sales {
		t.medicineRevenue = t.medicineRevenue.Add(decimal.NewFromFloat(s.TotalAmount))
	}
	for _, c := range p.consultations {
		if fee := c.Fee(); fee > 0 {
			t.consultationRevenue = t.consultationRevenue.Add(decimal.NewFromFloat(fee))
			t.consultations++
		}
	}
	t.transactions = len(p.sales)
	return t
}

// periodTotals is sumPeriod plus cost, for reports that need no breakdowns.
func (a *Aggregator) periodTotals(ctx context.Context, p period) (totals, error) {
	catalog, err := a.catalog(ctx, p.sales)
	if err != nil {
		return totals{}, err
	}
	t := sumPeriod(p)
	for _, s := range p.sales {
		for _, it := range s.Items {
			med, ok := catalog[it.MedicineID]
			if !ok {
				t.unmatched++
				continue
			}
			t.cost = t.cost.Add(decimal.NewFromFloat(med.PurchasePrice).Mul(decimal.NewFromInt(it.Quantity)))
		}
	}
	return t, nil
}

// catalog loads the medicines referenced by sales in one query.
func (a *Aggregator) catalog(ctx context.Context, sales []domain.Sale) (map[string]domain.Medicine, error) {
	seen := make(map[string]struct{})
	var ids []any
	for _, s := range sales {
		for _, it := range s.Items {
			if _, ok := seen[it.MedicineID]; !ok {
				seen[it.MedicineID] = struct{}{}
				ids = append(ids, it.MedicineID)
			}
		}
	}
	out := make(map[string]domain.Medicine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	meds, err := a.medicines.Find(ctx, store.Where(store.In("id", ids...)))
	if err != nil {
		return nil, apperr.Storage(err)
	}
	for _, m := range meds {
		out[m.ID] = m
	}
	return out, nil
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// percent returns part/whole*100, or 0 when whole is not positive.
func percent(part, whole decimal.Decimal) float64 {
	if !whole.IsPositive() {
		return 0
	}
	return part.Div(whole).Mul(hundred).Round(2).InexactFloat64()
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return unknownManufacturer
	}
	return *s
}
