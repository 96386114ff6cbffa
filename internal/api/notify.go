package api

import (
	"net/http"

	"medipos/m/internal/apperr"
	"medipos/m/internal/notify"
)

type telegramTestRequest struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type telegramResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// testTelegram is a diagnostic: delivery failures are reported in the body
// with a 200 so the settings screen can show them inline.
func (h *Handler) testTelegram(w http.ResponseWriter, r *http.Request) {
	var req telegramTestRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	err := h.reporter.SendTest(r.Context(), notify.Config{BotToken: req.BotToken, ChatID: req.ChatID})
	if err != nil {
		appErr := apperr.As(err)
		if appErr.Code != apperr.CodeValidation && appErr.Code != notify.CodeDelivery {
			h.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, telegramResult{Error: appErr.Message})
		return
	}
	respondJSON(w, http.StatusOK, telegramResult{Success: true, Message: "Test message sent successfully"})
}

func (h *Handler) sendTestDailyReport(w http.ResponseWriter, r *http.Request) {
	d, err := h.reporter.SendDaily(r.Context(), true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Test daily report sent successfully",
		"date":          d.Report.Date,
		"low_stock":     len(d.LowStock),
		"expired":       len(d.Expired),
		"expiring_soon": len(d.ExpiringSoon),
		"total_revenue": d.Report.Summary.TotalRevenue + d.Report.Summary.ConsultationRevenue,
		"transactions":  d.Report.Summary.TotalTransactions,
		"consultations": d.Report.Summary.TotalConsultations,
	})
}
