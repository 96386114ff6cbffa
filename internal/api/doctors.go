package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// Doctor handlers

type doctorRequest struct {
	Name            string  `json:"name" validate:"required,max=200"`
	Specialization  string  `json:"specialization" validate:"required"`
	Qualification   *string `json:"qualification,omitempty"`
	LicenseNumber   *string `json:"license_number,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email"`
	ClinicName      *string `json:"clinic_name,omitempty"`
	ClinicAddress   *string `json:"clinic_address,omitempty"`
	ConsultationFee float64 `json:"consultation_fee" validate:"gte=0"`
	SignatureURL    *string `json:"signature_url,omitempty"`
}

type doctorUpdate struct {
	Name            *string  `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Specialization  *string  `json:"specialization,omitempty"`
	Qualification   *string  `json:"qualification,omitempty"`
	LicenseNumber   *string  `json:"license_number,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	Email           *string  `json:"email,omitempty" validate:"omitempty,email"`
	ClinicName      *string  `json:"clinic_name,omitempty"`
	ClinicAddress   *string  `json:"clinic_address,omitempty"`
	ConsultationFee *float64 `json:"consultation_fee,omitempty" validate:"omitempty,gte=0"`
	SignatureURL    *string  `json:"signature_url,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

func (h *Handler) createDoctor(w http.ResponseWriter, r *http.Request) {
	var req doctorRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.timestamp()
	doctor := domain.Doctor{
		ID:              h.newID(),
		Name:            strings.TrimSpace(req.Name),
		Specialization:  req.Specialization,
		Qualification:   req.Qualification,
		LicenseNumber:   req.LicenseNumber,
		Phone:           req.Phone,
		Email:           req.Email,
		ClinicName:      req.ClinicName,
		ClinicAddress:   req.ClinicAddress,
		ConsultationFee: req.ConsultationFee,
		SignatureURL:    req.SignatureURL,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.doctors.Insert(r.Context(), doctor); err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusCreated, doctor)
}

// listDoctors returns active doctors unless include_inactive=true.
func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	filter := store.Where(store.Eq("is_active", true))
	if r.URL.Query().Get("include_inactive") == "true" {
		filter = store.Filter{}
	}
	doctors, err := h.doctors.Find(r.Context(), filter, store.SortBy("name", false))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, doctors)
}

func (h *Handler) getDoctor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doctor, err := h.doctors.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "doctor", id))
		return
	}
	respondJSON(w, http.StatusOK, doctor)
}

func (h *Handler) updateDoctor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req doctorUpdate
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	patch, err := patchOf(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	patch["updated_at"] = h.timestamp()
	doctor, err := h.doctors.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, lookupErr(err, "doctor", id))
		return
	}
	respondJSON(w, http.StatusOK, doctor)
}

// deleteDoctor deactivates the doctor. Prescriptions keep referring to it.
func (h *Handler) deleteDoctor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	patch := store.Document{"is_active": false, "updated_at": h.timestamp()}
	if _, err := h.doctors.Update(r.Context(), id, patch); err != nil {
		h.fail(w, r, lookupErr(err, "doctor", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Doctor deactivated successfully"})
}
