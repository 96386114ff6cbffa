package analytics

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

const (
	topMedicines = 5
	recentSales  = 10
)

type TopMedicine struct {
	MedicineID   string  `json:"medicine_id"`
	MedicineName string  `json:"medicine_name"`
	Quantity     int64   `json:"quantity"`
	Revenue      float64 `json:"revenue"`
}

type Dashboard struct {
	TodayRevenue        float64       `json:"today_revenue"`
	TodayTransactions   int           `json:"today_transactions"`
	MonthRevenue        float64       `json:"month_revenue"`
	MonthTransactions   int           `json:"month_transactions"`
	TotalPatients       int64         `json:"total_patients"`
	TotalMedicines      int64         `json:"total_medicines"`
	LowStockCount       int64         `json:"low_stock_count"`
	TopSellingMedicines []TopMedicine `json:"top_selling_medicines"`
	RecentSales         []domain.Sale `json:"recent_sales"`
}

// Dashboard is the landing-page snapshot: today, this month and stock health.
func (a *Aggregator) Dashboard(ctx context.Context) (Dashboard, error) {
	now := a.now()
	today, _ := ResolveWindow(RangeToday, "", "", now)
	month, _ := ResolveWindow(RangeThisMonth, "", "", now)

	todayData, err := a.load(ctx, today.filter())
	if err != nil {
		return Dashboard{}, err
	}
	monthData, err := a.load(ctx, month.filter())
	if err != nil {
		return Dashboard{}, err
	}
	tt, mt := sumPeriod(todayData), sumPeriod(monthData)

	totalMeds, lowStock, err := a.stockCounts(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	totalPatients, err := a.patients.Count(ctx, store.Filter{})
	if err != nil {
		return Dashboard{}, apperr.Storage(err)
	}
	recent, err := a.sales.Find(ctx, store.Filter{}, store.SortBy("created_at", true), store.Limit(recentSales))
	if err != nil {
		return Dashboard{}, apperr.Storage(err)
	}

	return Dashboard{
		TodayRevenue:        money(tt.medicineRevenue),
		TodayTransactions:   tt.transactions,
		MonthRevenue:        money(mt.totalRevenue()),
		MonthTransactions:   mt.transactions,
		TotalPatients:       totalPatients,
		TotalMedicines:      totalMeds,
		LowStockCount:       lowStock,
		TopSellingMedicines: topSelling(monthData.sales, topMedicines),
		RecentSales:         recent,
	}, nil
}

// topSelling ranks medicines by quantity sold, ties broken by name.
func topSelling(sales []domain.Sale, n int) []TopMedicine {
	type acc struct {
		top     TopMedicine
		revenue decimal.Decimal
	}
	byID := make(map[string]*acc)
	for _, s := range sales {
		for _, it := range s.Items {
			a, ok := byID[it.MedicineID]
			if !ok {
				a = &acc{top: TopMedicine{MedicineID: it.MedicineID, MedicineName: it.MedicineName}}
				byID[it.MedicineID] = a
			}
			a.top.Quantity += it.Quantity
			a.revenue = a.revenue.Add(decimal.NewFromFloat(it.TotalPrice))
		}
	}
	out := make([]TopMedicine, 0, len(byID))
	for _, a := range byID {
		a.top.Revenue = money(a.revenue)
		out = append(out, a.top)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].MedicineName < out[j].MedicineName
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Export types.
const (
	ExportComprehensive    = "comprehensive"
	ExportMedicineAnalysis = "medicine_analysis"
	ExportSalesSummary     = "sales_summary"
)

type SalesSummaryData struct {
	Summary               Summary                     `json:"summary"`
	PaymentBreakdown      map[string]PaymentStat      `json:"payment_breakdown"`
	ManufacturerBreakdown map[string]ManufacturerStat `json:"manufacturer_breakdown"`
}

type Export struct {
	ExportType string   `json:"export_type"`
	Data       any      `json:"data"`
	Summary    *Summary `json:"summary,omitempty"`
	Period     Period   `json:"period"`
}

// Export reshapes the comprehensive report for download.
func (a *Aggregator) Export(ctx context.Context, w Window, exportType string) (Export, error) {
	if exportType == "" {
		exportType = ExportComprehensive
	}
	switch exportType {
	case ExportComprehensive, ExportMedicineAnalysis, ExportSalesSummary:
	default:
		return Export{}, apperr.Validation("unknown export type").
			WithDetail("export_type", "export_type must be one of: comprehensive medicine_analysis sales_summary")
	}

	report, err := a.ComputeReport(ctx, w)
	if err != nil {
		return Export{}, err
	}
	out := Export{ExportType: exportType, Period: report.Period}
	switch exportType {
	case ExportMedicineAnalysis:
		out.Data = report.MedicineAnalysis
		out.Summary = &report.Summary
	case ExportSalesSummary:
		out.Data = SalesSummaryData{
			Summary:               report.Summary,
			PaymentBreakdown:      report.PaymentBreakdown,
			ManufacturerBreakdown: report.ManufacturerBreakdown,
		}
	default:
		out.Data = report
	}
	return out, nil
}
