package api

import (
	"net/http"
	"time"

	"medipos/m/internal/analytics"
	"medipos/m/internal/apperr"
)

// Analytics handlers

// window resolves date_range (or range), start_date and end_date.
func (h *Handler) window(r *http.Request) (analytics.Window, error) {
	q := r.URL.Query()
	name := q.Get("date_range")
	if name == "" {
		name = q.Get("range")
	}
	return analytics.ResolveWindow(name, q.Get("start_date"), q.Get("end_date"), h.now())
}

func (h *Handler) comprehensiveAnalytics(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.analytics.ComputeReport(r.Context(), win)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) kpis(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	k, err := h.analytics.ComputeKPIs(r.Context(), win)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, k)
}

func (h *Handler) monthlyComparison(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", 12)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buckets, err := h.analytics.MonthlyComparison(r.Context(), months)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"monthly_data": buckets})
}

func (h *Handler) yearlyComparison(w http.ResponseWriter, r *http.Request) {
	years, err := queryInt(r, "years", 5)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buckets, err := h.analytics.YearlyComparison(r.Context(), years)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"yearly_data": buckets})
}

// dailySalesReport reports on the date query parameter, today by default.
func (h *Handler) dailySalesReport(w http.ResponseWriter, r *http.Request) {
	day := h.now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.fail(w, r, apperr.Validation("date must be in format YYYY-MM-DD").WithDetail("date", v))
			return
		}
		day = t
	}
	report, err := h.analytics.DailySalesReport(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.analytics.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *Handler) exportAnalytics(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.analytics.Export(r.Context(), win, r.URL.Query().Get("export_type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
