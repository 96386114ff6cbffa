package analytics

import (
	"context"

	"github.com/shopspring/decimal"

	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// Growth is the percentage change from previous to current. A start from
// zero counts as 100% growth, and zero to zero as none.
func Growth(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	c, p := decimal.NewFromFloat(current), decimal.NewFromFloat(previous)
	return c.Sub(p).Div(p).Mul(hundred).Round(2).InexactFloat64()
}

// Comparison is one metric in the current and previous windows.
type Comparison struct {
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Growth   float64 `json:"growth"`
}

func compare(current, previous float64) Comparison {
	return Comparison{Current: current, Previous: previous, Growth: Growth(current, previous)}
}

type RevenueKPIs struct {
	TotalRevenue        Comparison `json:"total_revenue"`
	MedicineRevenue     Comparison `json:"medicine_revenue"`
	ConsultationRevenue Comparison `json:"consultation_revenue"`
}

type TransactionKPIs struct {
	TotalTransactions   Comparison `json:"total_transactions"`
	TotalConsultations  Comparison `json:"total_consultations"`
	AvgTransactionValue float64    `json:"avg_transaction_value"`
	AvgConsultationFee  float64    `json:"avg_consultation_fee"`
}

type CustomerKPIs struct {
	UniquePatients int `json:"unique_patients"`
}

type InventoryKPIs struct {
	TotalMedicines int64 `json:"total_medicines"`
	LowStockItems  int64 `json:"low_stock_items"`
}

type KPIs struct {
	Period          Period          `json:"period"`
	PreviousPeriod  Period          `json:"previous_period"`
	RevenueKPIs     RevenueKPIs     `json:"revenue_kpis"`
	TransactionKPIs TransactionKPIs `json:"transaction_kpis"`
	CustomerKPIs    CustomerKPIs    `json:"customer_kpis"`
	InventoryKPIs   InventoryKPIs   `json:"inventory_kpis"`
}

// ComputeKPIs compares w against the window of the same length that ends
// where w starts.
func (a *Aggregator) ComputeKPIs(ctx context.Context, w Window) (KPIs, error) {
	cur, err := a.load(ctx, w.filter())
	if err != nil {
		return KPIs{}, err
	}
	prevWindow := w.Previous()
	prev, err := a.load(ctx, prevWindow.filterOpen())
	if err != nil {
		return KPIs{}, err
	}
	c, p := sumPeriod(cur), sumPeriod(prev)

	patients := make(map[string]struct{})
	for _, s := range cur.sales {
		if s.PatientID != nil && *s.PatientID != "" {
			patients[*s.PatientID] = struct{}{}
		}
	}

	totalMeds, lowStock, err := a.stockCounts(ctx)
	if err != nil {
		return KPIs{}, err
	}

	return KPIs{
		Period:         w.Period(),
		PreviousPeriod: prevWindow.Period(),
		RevenueKPIs: RevenueKPIs{
			TotalRevenue:        compare(money(c.totalRevenue()), money(p.totalRevenue())),
			MedicineRevenue:     compare(money(c.medicineRevenue), money(p.medicineRevenue)),
			ConsultationRevenue: compare(money(c.consultationRevenue), money(p.consultationRevenue)),
		},
		TransactionKPIs: TransactionKPIs{
			TotalTransactions:   compare(float64(c.transactions), float64(p.transactions)),
			TotalConsultations:  compare(float64(c.consultations), float64(p.consultations)),
			AvgTransactionValue: average(c.medicineRevenue, c.transactions),
			AvgConsultationFee:  average(c.consultationRevenue, c.consultations),
		},
		CustomerKPIs:  CustomerKPIs{UniquePatients: len(patients)},
		InventoryKPIs: InventoryKPIs{TotalMedicines: totalMeds, LowStockItems: lowStock},
	}, nil
}

func (a *Aggregator) stockCounts(ctx context.Context) (total, low int64, err error) {
	total, err = a.medicines.Count(ctx, store.Filter{})
	if err != nil {
		return 0, 0, apperr.Storage(err)
	}
	low, err = a.medicines.Count(ctx, store.Where(store.LtField("stock_quantity", "minimum_stock_level")))
	if err != nil {
		return 0, 0, apperr.Storage(err)
	}
	return total, low, nil
}

func average(sum decimal.Decimal, n int) float64 {
	if n == 0 {
		return 0
	}
	return money(sum.Div(decimal.NewFromInt(int64(n))))
}
