package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/idempotency"
	"medipos/m/internal/ledger"
	"medipos/m/internal/store"
)

const idempotencyHeader = "Idempotency-Key"

// Sale handlers

// createSale applies a sale through the ledger. A request carrying an
// Idempotency-Key is applied at most once per key.
func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req ledger.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" {
		claimed, prior, err := h.idem.Claim(r.Context(), "sale:"+key)
		if err != nil {
			h.fail(w, r, apperr.Storage(err))
			return
		}
		if !claimed {
			conflict := apperr.Conflict("duplicate idempotency key").WithDetail("idempotency_key", key)
			if prior == idempotency.Pending {
				conflict.Message = "a request with this idempotency key is still in progress"
			} else {
				conflict.WithDetail("sale_id", prior)
			}
			h.fail(w, r, conflict)
			return
		}
	}

	sale, err := h.ledger.ApplySale(r.Context(), req)
	if err != nil {
		if key != "" {
			if rerr := h.idem.Release(r.Context(), "sale:"+key); rerr != nil {
				h.log.Warn().Err(rerr).Str("idempotency_key", key).Msg("unable to release idempotency key")
			}
		}
		h.fail(w, r, err)
		return
	}
	if key != "" {
		if err := h.idem.Complete(r.Context(), "sale:"+key, sale.ID); err != nil {
			h.log.Warn().Err(err).Str("idempotency_key", key).Msg("unable to complete idempotency key")
		}
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	opts, err := pageOptions(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sales, err := h.sales.Find(r.Context(), store.Filter{}, opts...)
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, sales)
}

// todaySales lists the sales of the current UTC day.
func (h *Handler) todaySales(w http.ResponseWriter, r *http.Request) {
	y, m, d := h.now().UTC().Date()
	start := domain.Timestamp(timeDate(y, m, d))
	end := domain.Timestamp(timeDate(y, m, d+1))
	filter := store.Where(store.Gte("created_at", start), store.Lt("created_at", end))
	sales, err := h.sales.Find(r.Context(), filter, store.SortBy("created_at", true))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, sales)
}

func (h *Handler) patientSales(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sales, err := h.sales.Find(r.Context(), store.Where(store.Eq("patient_id", id)), store.SortBy("created_at", true))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, sales)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sale, err := h.sales.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "sale", id))
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

// Return handlers

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req ledger.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ret, err := h.ledger.ApplyReturn(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	opts, err := pageOptions(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	returns, err := h.returns.Find(r.Context(), store.Filter{}, opts...)
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, returns)
}

func (h *Handler) saleReturns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	returns, err := h.returns.Find(r.Context(), store.Where(store.Eq("original_sale_id", id)), store.SortBy("created_at", true))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, returns)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ret, err := h.returns.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "return", id))
		return
	}
	respondJSON(w, http.StatusOK, ret)
}

// Stock movement handlers

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mvs, err := h.ledger.Movements(r.Context(), "", limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mvs)
}

func (h *Handler) medicineMovements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "medicineID")
	if _, err := h.medicines.Get(r.Context(), id); err != nil {
		h.fail(w, r, lookupErr(err, "medicine", id))
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mvs, err := h.ledger.Movements(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mvs)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req ledger.AdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.ledger.Adjust(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, mv)
}
