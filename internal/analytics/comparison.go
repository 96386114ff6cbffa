package analytics

import (
	"context"
	"strconv"

	"medipos/m/internal/apperr"
)

const (
	maxMonths = 120
	maxYears  = 50
)

// Bucket is the summary of one calendar month or year.
type Bucket struct {
	Label             string  `json:"label"`
	Name              string  `json:"name"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	Days              int     `json:"days"`
	MedicineRevenue   float64 `json:"medicine_revenue"`
	ConsultationRev   float64 `json:"consultation_revenue"`
	TotalRevenue      float64 `json:"total_revenue"`
	TotalCost         float64 `json:"total_cost"`
	Profit            float64 `json:"profit"`
	CombinedProfit    float64 `json:"combined_profit"`
	TransactionCount  int     `json:"transaction_count"`
	ConsultationCount int     `json:"consultation_count"`
}

// MonthlyComparison summarizes the last n calendar months including the
// current one, oldest first.
func (a *Aggregator) MonthlyComparison(ctx context.Context, months int) ([]Bucket, error) {
	if months < 1 || months > maxMonths {
		return nil, apperr.Validation("months must be between 1 and " + strconv.Itoa(maxMonths))
	}
	now := a.now().UTC()
	out := make([]Bucket, 0, months)
	for i := months - 1; i >= 0; i-- {
		first := now.AddDate(0, 0, 1-now.Day()).AddDate(0, -i, 0)
		w := monthWindow(first.Year(), first.Month())
		b, err := a.bucket(ctx, w, w.Start.Format("2006-01"), w.Start.Format("January 2006"))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// YearlyComparison summarizes the last n calendar years, oldest first.
func (a *Aggregator) YearlyComparison(ctx context.Context, years int) ([]Bucket, error) {
	if years < 1 || years > maxYears {
		return nil, apperr.Validation("years must be between 1 and " + strconv.Itoa(maxYears))
	}
	now := a.now().UTC()
	out := make([]Bucket, 0, years)
	for i := years - 1; i >= 0; i-- {
		year := now.Year() - i
		label := strconv.Itoa(year)
		b, err := a.bucket(ctx, yearWindow(year), label, label)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (a *Aggregator) bucket(ctx context.Context, w Window, label, name string) (Bucket, error) {
	p, err := a.load(ctx, w.filter())
	if err != nil {
		return Bucket{}, err
	}
	t, err := a.periodTotals(ctx, p)
	if err != nil {
		return Bucket{}, err
	}
	return Bucket{
		Label:             label,
		Name:              name,
		StartDate:         w.Period().StartDate,
		EndDate:           w.Period().EndDate,
		Days:              int(w.End.Sub(w.Start).Hours()/24) + 1,
		MedicineRevenue:   money(t.medicineRevenue),
		ConsultationRev:   money(t.consultationRevenue),
		TotalRevenue:      money(t.totalRevenue()),
		TotalCost:         money(t.cost),
		Profit:            money(t.medicineProfit()),
		CombinedProfit:    money(t.combinedProfit()),
		TransactionCount:  t.transactions,
		ConsultationCount: t.consultations,
	}, nil
}
