package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/analytics"
	"medipos/m/internal/apperr"
	"medipos/m/internal/ledger"
	"medipos/m/internal/settings"
	"medipos/m/internal/store"
)

const (
	lowStockShown   = 5
	expiryShown     = 3
	defaultAlertDay = 30
)

const testMessage = `*MediPOS Test Message*

Telegram connection is working properly!
Daily sales reports will be sent to this chat.`

// Digest is everything the daily message shows.
type Digest struct {
	Report         analytics.DailyReport
	CurrencySymbol string
	LowStock       []domain.Medicine
	Expired        []domain.Medicine
	ExpiringSoon   []domain.Medicine
	ExpiryDays     int
	ReportTime     string
	Test           bool
	Now            time.Time
}

// FormatDaily renders a digest as a Telegram Markdown message.
func FormatDaily(d Digest) string {
	cur := d.CurrencySymbol
	s := d.Report.Summary
	total := s.TotalRevenue + s.ConsultationRevenue

	var b strings.Builder
	title := "*MediPOS Daily Report*"
	if d.Test {
		title = "*MediPOS Daily Report - TEST*"
	}
	fmt.Fprintf(&b, "%s\nDate: %s\n\n", title, d.Report.Date)

	b.WriteString("*DAILY SALES SUMMARY*\n")
	fmt.Fprintf(&b, "Total Revenue: %s%.2f\n", cur, total)
	fmt.Fprintf(&b, "Medicine Sales: %s%.2f\n", cur, s.TotalRevenue)
	fmt.Fprintf(&b, "Consultation Fees: %s%.2f\n", cur, s.ConsultationRevenue)
	fmt.Fprintf(&b, "Total Transactions: %d sales + %d consultations\n\n", s.TotalTransactions, s.TotalConsultations)

	b.WriteString("*PAYMENT BREAKDOWN*\n")
	for _, m := range []domain.PaymentMethod{domain.PaymentCash, domain.PaymentUPI, domain.PaymentCard, domain.PaymentCredit} {
		st := d.Report.PaymentBreakdown[string(m)]
		fmt.Fprintf(&b, "  %s: %d (%s%.2f)\n", methodLabel(m), st.Count, cur, st.Amount)
	}

	fmt.Fprintf(&b, "\n*LOW STOCK ALERT* (%d items)\n", len(d.LowStock))
	if len(d.LowStock) == 0 {
		b.WriteString("All medicines are well stocked!\n")
	}
	for i, m := range d.LowStock {
		if i == lowStockShown {
			fmt.Fprintf(&b, "...and %d more items\n", len(d.LowStock)-lowStockShown)
			break
		}
		fmt.Fprintf(&b, "  %s: %d/%d\n", m.Name, m.StockQuantity, m.MinimumStockLevel)
	}

	b.WriteString("\n*EXPIRY ALERTS*")
	if len(d.Expired) > 0 {
		fmt.Fprintf(&b, "\n*EXPIRED*: %d medicines", len(d.Expired))
		for _, m := range head(d.Expired, expiryShown) {
			exp, _ := expiry(m)
			fmt.Fprintf(&b, "\n  %s: %s", m.Name, exp.Format("2006-01-02"))
		}
	}
	if len(d.ExpiringSoon) > 0 {
		fmt.Fprintf(&b, "\n*EXPIRING SOON*: %d medicines (within %d days)", len(d.ExpiringSoon), d.ExpiryDays)
		for _, m := range head(d.ExpiringSoon, expiryShown) {
			exp, _ := expiry(m)
			days := int(exp.Sub(d.Now).Hours() / 24)
			fmt.Fprintf(&b, "\n  %s: %d days (%s)", m.Name, days, exp.Format("2006-01-02"))
		}
	}
	if len(d.Expired) == 0 && len(d.ExpiringSoon) == 0 {
		b.WriteString("\nNo expiry concerns!")
	}

	if d.Test {
		fmt.Fprintf(&b, "\n\n_This is a test report._\nDaily reports will be sent automatically at %s", d.ReportTime)
	}
	return b.String()
}

func methodLabel(m domain.PaymentMethod) string {
	if m == domain.PaymentUPI {
		return "UPI"
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

func head(meds []domain.Medicine, n int) []domain.Medicine {
	if len(meds) > n {
		return meds[:n]
	}
	return meds
}

var expiryLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func expiry(m domain.Medicine) (time.Time, bool) {
	if m.ExpiryDate == nil || *m.ExpiryDate == "" {
		return time.Time{}, false
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, *m.ExpiryDate); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Reporter assembles the daily digest from the store and sends it through
// Telegram when the telegram settings section enables it.
type Reporter struct {
	telegram  *Telegram
	settings  *settings.Service
	analytics *analytics.Aggregator
	ledger    *ledger.Ledger
	medicines store.Collection[domain.Medicine]
	log       zerolog.Logger
	now       func() time.Time
}

func NewReporter(t *Telegram, s store.Store, st *settings.Service, a *analytics.Aggregator, l *ledger.Ledger, log zerolog.Logger) *Reporter {
	return &Reporter{
		telegram:  t,
		settings:  st,
		analytics: a,
		ledger:    l,
		medicines: store.Typed[domain.Medicine](s, store.Medicines),
		log:       log.With().Str("component", "reporter").Logger(),
		now:       time.Now,
	}
}

// SendTest sends the connection test message. Empty fields of override fall
// back to the stored settings; the enabled toggle is not required.
func (r *Reporter) SendTest(ctx context.Context, override Config) error {
	cfg, err := r.config(ctx)
	if err != nil {
		return err
	}
	if override.BotToken != "" {
		cfg.BotToken = override.BotToken
	}
	if override.ChatID != "" {
		cfg.ChatID = override.ChatID
	}
	return r.telegram.Send(ctx, cfg, testMessage)
}

// SendDaily builds today's digest and sends it. It fails when telegram is
// disabled or not configured.
func (r *Reporter) SendDaily(ctx context.Context, test bool) (Digest, error) {
	cfg, err := r.config(ctx)
	if err != nil {
		return Digest{}, err
	}
	if !cfg.Enabled {
		return Digest{}, apperr.BusinessRule("Telegram notifications not enabled")
	}
	if !cfg.Ready() {
		return Digest{}, apperr.BusinessRule("Telegram bot token or chat ID not configured")
	}

	d, err := r.Digest(ctx)
	if err != nil {
		return Digest{}, err
	}
	d.Test = test
	d.ReportTime = cfg.DailyReportTime
	if err := r.telegram.Send(ctx, cfg, FormatDaily(d)); err != nil {
		return Digest{}, err
	}
	r.log.Info().Str("date", d.Report.Date).Int("low_stock", len(d.LowStock)).Bool("test", test).Msg("daily report sent")
	return d, nil
}

// Digest collects today's figures and stock alerts.
func (r *Reporter) Digest(ctx context.Context) (Digest, error) {
	now := r.now().UTC()
	report, err := r.analytics.DailySalesReport(ctx, now)
	if err != nil {
		return Digest{}, err
	}
	low, err := r.ledger.LowStock(ctx)
	if err != nil {
		return Digest{}, err
	}

	general, err := r.settings.Section(ctx, "general")
	if err != nil {
		return Digest{}, err
	}
	alerts, err := r.settings.Section(ctx, "alerts")
	if err != nil {
		return Digest{}, err
	}
	symbol, _ := general["currency_symbol"].(string)
	days := defaultAlertDay
	if v, ok := alerts["expiry_alert_days"].(float64); ok && v > 0 {
		days = int(v)
	}

	d := Digest{Report: report, CurrencySymbol: symbol, LowStock: low, ExpiryDays: days, Now: now}
	if enabled, ok := alerts["expiry_alert_enabled"].(bool); !ok || enabled {
		d.Expired, d.ExpiringSoon, err = r.expiries(ctx, now, days)
		if err != nil {
			return Digest{}, err
		}
	}
	return d, nil
}

func (r *Reporter) expiries(ctx context.Context, now time.Time, days int) (expired, soon []domain.Medicine, err error) {
	meds, err := r.medicines.Find(ctx, store.Filter{})
	if err != nil {
		return nil, nil, apperr.Storage(err)
	}
	horizon := now.AddDate(0, 0, days)
	for _, m := range meds {
		exp, ok := expiry(m)
		switch {
		case !ok:
		case exp.Before(now):
			expired = append(expired, m)
		case !exp.After(horizon):
			soon = append(soon, m)
		}
	}
	byExpiry := func(ms []domain.Medicine) {
		sort.SliceStable(ms, func(i, j int) bool {
			a, _ := expiry(ms[i])
			b, _ := expiry(ms[j])
			return a.Before(b)
		})
	}
	byExpiry(expired)
	byExpiry(soon)
	return expired, soon, nil
}

func (r *Reporter) config(ctx context.Context) (Config, error) {
	sec, err := r.settings.Section(ctx, "telegram")
	if err != nil {
		return Config{}, err
	}
	return ConfigFrom(sec), nil
}
