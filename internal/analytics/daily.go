package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"medipos/m/domain"
)

var reportedMethods = []domain.PaymentMethod{
	domain.PaymentCash, domain.PaymentCard, domain.PaymentUPI, domain.PaymentCredit,
}

type DailyTransaction struct {
	ID          string  `json:"id"`
	PatientName string  `json:"patient_name"`
	Amount      float64 `json:"amount"`
	ItemsCount  int     `json:"items_count"`
	CreatedAt   string  `json:"created_at"`
}

type MethodStat struct {
	Count          int                `json:"count"`
	Amount         float64            `json:"amount"`
	Percentage     float64            `json:"percentage"`
	AvgTransaction float64            `json:"avg_transaction"`
	Transactions   []DailyTransaction `json:"transactions"`
}

type HourStat struct {
	Hour   int     `json:"hour"`
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

type DailySummary struct {
	TotalRevenue        float64 `json:"total_revenue"`
	TotalTransactions   int     `json:"total_transactions"`
	AvgTransactionValue float64 `json:"avg_transaction_value"`
	ConsultationRevenue float64 `json:"consultation_revenue"`
	TotalConsultations  int     `json:"total_consultations"`
}

type DailyReport struct {
	Date             string                `json:"date"`
	Summary          DailySummary          `json:"summary"`
	PaymentBreakdown map[string]MethodStat `json:"payment_breakdown"`
	HourlyBreakdown  []HourStat            `json:"hourly_breakdown"`
	Period           Period                `json:"period"`
}

// DailySalesReport breaks down one UTC day by payment method and hour.
func (a *Aggregator) DailySalesReport(ctx context.Context, day time.Time) (DailyReport, error) {
	w := Window{Start: startOfDay(day), End: endOfDay(day), Range: RangeCustom}
	p, err := a.load(ctx, w.filter())
	if err != nil {
		return DailyReport{}, err
	}
	t := sumPeriod(p)

	type acc struct {
		count  int
		amount decimal.Decimal
		txns   []DailyTransaction
	}
	methods := make(map[string]*acc, len(reportedMethods))
	for _, m := range reportedMethods {
		methods[string(m)] = &acc{txns: []DailyTransaction{}}
	}
	hours := make([]HourStat, 24)
	hourAmounts := make([]decimal.Decimal, 24)
	for h := range hours {
		hours[h].Hour = h
	}

	for _, s := range p.sales {
		method := string(s.PaymentMethod)
		if method == "" {
			method = string(domain.PaymentCash)
		}
		m, ok := methods[method]
		if !ok {
			m = &acc{txns: []DailyTransaction{}}
			methods[method] = m
		}
		amount := decimal.NewFromFloat(s.TotalAmount)
		m.count++
		m.amount = m.amount.Add(amount)
		m.txns = append(m.txns, DailyTransaction{
			ID:          s.ID,
			PatientName: s.Customer(),
			Amount:      s.TotalAmount,
			ItemsCount:  len(s.Items),
			CreatedAt:   s.CreatedAt,
		})

		if ts, err := domain.ParseTimestamp(s.CreatedAt); err == nil {
			h := ts.UTC().Hour()
			hours[h].Count++
			hourAmounts[h] = hourAmounts[h].Add(amount)
		}
	}
	for h := range hours {
		hours[h].Amount = money(hourAmounts[h])
	}

	revenue := t.medicineRevenue
	breakdown := make(map[string]MethodStat, len(methods))
	for name, m := range methods {
		breakdown[name] = MethodStat{
			Count:          m.count,
			Amount:         money(m.amount),
			Percentage:     percent(m.amount, revenue),
			AvgTransaction: average(m.amount, m.count),
			Transactions:   m.txns,
		}
	}

	return DailyReport{
		Date: w.Start.Format(dateLayout),
		Summary: DailySummary{
			TotalRevenue:        money(revenue),
			TotalTransactions:   t.transactions,
			AvgTransactionValue: average(revenue, t.transactions),
			ConsultationRevenue: money(t.consultationRevenue),
			TotalConsultations:  t.consultations,
		},
		PaymentBreakdown: breakdown,
		HourlyBreakdown:  hours,
		Period:           w.Period(),
	}, nil
}
