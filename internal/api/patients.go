package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// Patient handlers

type patientRequest struct {
	Name             string  `json:"name" validate:"required,max=200"`
	Phone            *string `json:"phone,omitempty"`
	Email            *string `json:"email,omitempty" validate:"omitempty,email"`
	Address          *string `json:"address,omitempty"`
	DateOfBirth      *string `json:"date_of_birth,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	EmergencyContact *string `json:"emergency_contact,omitempty"`
	MedicalHistory   *string `json:"medical_history,omitempty"`
}

type patientUpdate struct {
	Name             *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone            *string `json:"phone,omitempty"`
	Email            *string `json:"email,omitempty" validate:"omitempty,email"`
	Address          *string `json:"address,omitempty"`
	DateOfBirth      *string `json:"date_of_birth,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	EmergencyContact *string `json:"emergency_contact,omitempty"`
	MedicalHistory   *string `json:"medical_history,omitempty"`
}

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.timestamp()
	patient := domain.Patient{
		ID:               h.newID(),
		Name:             strings.TrimSpace(req.Name),
		Phone:            req.Phone,
		Email:            req.Email,
		Address:          req.Address,
		DateOfBirth:      req.DateOfBirth,
		Gender:           req.Gender,
		EmergencyContact: req.EmergencyContact,
		MedicalHistory:   req.MedicalHistory,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.patients.Insert(r.Context(), patient); err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusCreated, patient)
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	opts, err := pageOptions(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	patients, err := h.patients.Find(r.Context(), store.Filter{}, opts...)
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, patients)
}

// searchPatients matches q against name, phone and email, case-insensitively.
func (h *Handler) searchPatients(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.fail(w, r, apperr.Validation("q is required").WithDetail("q", "q is required"))
		return
	}
	filter := store.Filter{}.Or(
		store.Contains("name", q),
		store.Contains("phone", q),
		store.Contains("email", q),
	)
	patients, err := h.patients.Find(r.Context(), filter, store.SortBy("name", false), store.Limit(50))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, patients)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	patient, err := h.patients.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "patient", id))
		return
	}
	respondJSON(w, http.StatusOK, patient)
}

func (h *Handler) updatePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patientUpdate
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
	patient, err := h.patients.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, lookupErr(err, "patient", id))
		return
	}
	respondJSON(w, http.StatusOK, patient)
}

func (h *Handler) deletePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.patients.Delete(r.Context(), id); err != nil {
		h.fail(w, r, lookupErr(err, "patient", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Patient deleted successfully"})
}
