package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/domain"
	"medipos/m/internal/analytics"
	"medipos/m/internal/apperr"
	"medipos/m/internal/ledger"
	"medipos/m/internal/settings"
	"medipos/m/internal/store/memory"
)

var reportNow = time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)

type reportFixture struct {
	api      *botAPI
	reporter *Reporter
	ledger   *ledger.Ledger
	settings *settings.Service
}

func newReportFixture(t *testing.T) reportFixture {
	t.Helper()
	api, srv := newBotAPI(t)
	s := memory.New()
	clock := func() time.Time { return reportNow }
	l := ledger.New(s, zerolog.Nop(), ledger.WithClock(clock))
	st := settings.New(s, zerolog.Nop())
	agg := analytics.New(s, zerolog.Nop(), analytics.WithClock(clock))
	r := NewReporter(NewTelegram(zerolog.Nop(), WithBaseURL(srv.URL)), s, st, agg, l, zerolog.Nop())
	r.now = clock
	return reportFixture{api: api, reporter: r, ledger: l, settings: st}
}

func (f reportFixture) enable(t *testing.T, enabled bool) {
	t.Helper()
	require.NoError(t, f.settings.Save(context.Background(), map[string]map[string]any{
		"telegram": {
			"enabled":           enabled,
			"bot_token":         "123:abc",
			"chat_id":           "-10042",
			"daily_report_time": "20:30",
		},
	}))
}

func (f reportFixture) medicine(t *testing.T, name string, stock, minimum int64, expiry string) domain.Medicine {
	t.Helper()
	med := domain.Medicine{Name: name, PurchasePrice: 2, SellingPrice: 5, StockQuantity: stock, MinimumStockLevel: minimum}
	if expiry != "" {
		med.ExpiryDate = &expiry
	}
	med, err := f.ledger.Register(context.Background(), med)
	require.NoError(t, err)
	return med
}

func TestSendDailyDeliversDigest(t *testing.T) {
	f := newReportFixture(t)
	f.enable(t, true)
	ctx := context.Background()

	para := f.medicine(t, "Paracetamol", 20, 5, "2024-03-01")
	f.medicine(t, "Insulin", 3, 10, "2024-03-25")
	f.medicine(t, "Amoxicillin", 50, 10, "")

	_, err := f.ledger.ApplySale(ctx, ledger.SaleRequest{
		Items:         []domain.SaleItem{{MedicineID: para.ID, Quantity: 4, UnitPrice: 5}},
		PaymentMethod: domain.PaymentUPI,
	})
	require.NoError(t, err)

	d, err := f.reporter.SendDaily(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", d.Report.Date)
	require.Len(t, d.LowStock, 1)
	assert.Equal(t, "Insulin", d.LowStock[0].Name)
	require.Len(t, d.Expired, 1)
	require.Len(t, d.ExpiringSoon, 1)

	require.Equal(t, 1, f.api.calls())
	msg := f.api.messages[0].Text
	assert.Contains(t, msg, "*MediPOS Daily Report - TEST*")
	assert.Contains(t, msg, "Medicine Sales: $20.00")
	assert.Contains(t, msg, "UPI: 1 ($20.00)")
	assert.Contains(t, msg, "*LOW STOCK ALERT* (1 items)")
	assert.Contains(t, msg, "Insulin: 3/10")
	assert.Contains(t, msg, "Paracetamol: 2024-03-01")
	assert.Contains(t, msg, "Insulin: 9 days (2024-03-25)")
	assert.Contains(t, msg, "sent automatically at 20:30")
}

func TestSendDailyNeedsTelegramEnabled(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	_, err := f.reporter.SendDaily(ctx, true)
	assert.True(t, apperr.HasCode(err, apperr.CodeBusinessRule))

	f.enable(t, false)
	_, err = f.reporter.SendDaily(ctx, true)
	assert.True(t, apperr.HasCode(err, apperr.CodeBusinessRule))
	assert.Zero(t, f.api.calls())
}

func TestSendTestUsesOverride(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	// not enabled, but the connection test still goes out
	require.NoError(t, f.reporter.SendTest(ctx, Config{BotToken: "999:zzz", ChatID: "77"}))
	require.Equal(t, 1, f.api.calls())
	assert.Equal(t, "/bot999:zzz/sendMessage", f.api.paths[0])
	assert.Equal(t, "77", f.api.messages[0].ChatID)
	assert.Contains(t, f.api.messages[0].Text, "MediPOS Test Message")

	err := f.reporter.SendTest(ctx, Config{})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestFormatDailyTruncatesLists(t *testing.T) {
	var low []domain.Medicine
	for i := 0; i < 7; i++ {
		low = append(low, domain.Medicine{Name: fmt.Sprintf("Med %d", i), StockQuantity: 1, MinimumStockLevel: 10})
	}
	msg := FormatDaily(Digest{
		Report:         analytics.DailyReport{Date: "2024-03-15"},
		CurrencySymbol: "Rs ",
		LowStock:       low,
		Now:            reportNow,
	})
	assert.Contains(t, msg, "*MediPOS Daily Report*\nDate: 2024-03-15")
	assert.Contains(t, msg, "Med 4: 1/10")
	assert.NotContains(t, msg, "Med 5")
	assert.Contains(t, msg, "...and 2 more items")
	assert.Contains(t, msg, "Cash: 0 (Rs 0.00)")
	assert.Contains(t, msg, "No expiry concerns!")
	assert.False(t, strings.Contains(msg, "test report"))
}
