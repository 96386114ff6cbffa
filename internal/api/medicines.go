package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// Medicine handlers

type medicineRequest struct {
	Name              string  `json:"name" validate:"required,max=200"`
	GenericName       *string `json:"generic_name,omitempty"`
	Manufacturer      *string `json:"manufacturer,omitempty"`
	BatchNumber       *string `json:"batch_number,omitempty"`
	ExpiryDate        *string `json:"expiry_date,omitempty"`
	PurchasePrice     float64 `json:"purchase_price" validate:"gte=0"`
	SellingPrice      float64 `json:"selling_price" validate:"gte=0"`
	StockQuantity     int64   `json:"stock_quantity" validate:"gte=0,max=1000000"`
	MinimumStockLevel *int64  `json:"minimum_stock_level,omitempty" validate:"omitempty,gte=0"`
	Description       *string `json:"description,omitempty"`
}

// medicineUpdate leaves stock out. Stock only changes through the ledger.
type medicineUpdate struct {
	Name              *string  `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	GenericName       *string  `json:"generic_name,omitempty"`
	Manufacturer      *string  `json:"manufacturer,omitempty"`
	BatchNumber       *string  `json:"batch_number,omitempty"`
	ExpiryDate        *string  `json:"expiry_date,omitempty"`
	PurchasePrice     *float64 `json:"purchase_price,omitempty" validate:"omitempty,gte=0"`
	SellingPrice      *float64 `json:"selling_price,omitempty" validate:"omitempty,gte=0"`
	StockQuantity     *int64   `json:"stock_quantity,omitempty"`
	MinimumStockLevel *int64   `json:"minimum_stock_level,omitempty" validate:"omitempty,gte=0"`
	Description       *string  `json:"description,omitempty"`
}

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	var req medicineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	minimum := int64(domain.DefaultMinimumStockLevel)
	if req.MinimumStockLevel != nil {
		minimum = *req.MinimumStockLevel
	}
	med, err := h.ledger.Register(r.Context(), domain.Medicine{
		Name:              strings.TrimSpace(req.Name),
		GenericName:       req.GenericName,
		Manufacturer:      req.Manufacturer,
		BatchNumber:       req.BatchNumber,
		ExpiryDate:        req.ExpiryDate,
		PurchasePrice:     req.PurchasePrice,
		SellingPrice:      req.SellingPrice,
		StockQuantity:     req.StockQuantity,
		MinimumStockLevel: minimum,
		Description:       req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, med)
}

func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{}
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		filter = filter.Or(
			store.Contains("name", q),
			store.Contains("generic_name", q),
			store.Contains("manufacturer", q),
		)
	}
	meds, err := h.medicines.Find(r.Context(), filter, store.SortBy("name", false))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, meds)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	meds, err := h.ledger.LowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, meds)
}

func (h *Handler) getMedicine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	med, err := h.medicines.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "medicine", id))
		return
	}
	respondJSON(w, http.StatusOK, med)
}

func (h *Handler) updateMedicine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req medicineUpdate
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.StockQuantity != nil {
		h.fail(w, r, apperr.Validation("stock_quantity cannot be edited directly, post a stock adjustment instead").
			WithDetail("stock_quantity", "use /api/stock-movements/adjustments"))
		return
	}
	patch, err := patchOf(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	patch["updated_at"] = h.timestamp()
	med, err := h.medicines.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, lookupErr(err, "medicine", id))
		return
	}
	respondJSON(w, http.StatusOK, med)
}

func (h *Handler) deleteMedicine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.medicines.Delete(r.Context(), id); err != nil {
		h.fail(w, r, lookupErr(err, "medicine", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Medicine deleted successfully"})
}
