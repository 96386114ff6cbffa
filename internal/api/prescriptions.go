package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// OPD prescription handlers

type prescriptionRequest struct {
	DoctorID          string   `json:"doctor_id" validate:"required"`
	PatientID         string   `json:"patient_id" validate:"required"`
	ConsultationFee   *float64 `json:"consultation_fee,omitempty" validate:"omitempty,gte=0"`
	PrescriptionNotes *string  `json:"prescription_notes,omitempty"`
	NextVisitDate     *string  `json:"next_visit_date,omitempty"`
}

// createPrescription records a consultation with an active doctor. Without
// an explicit fee the doctor's consultation fee is charged.
func (h *Handler) createPrescription(w http.ResponseWriter, r *http.Request) {
	var req prescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doctor, err := h.doctors.Get(r.Context(), req.DoctorID)
	if err == nil && !doctor.IsActive {
		err = store.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, lookupErr(err, "doctor", req.DoctorID))
		return
	}
	patient, err := h.patients.Get(r.Context(), req.PatientID)
	if err != nil {
		h.fail(w, r, lookupErr(err, "patient", req.PatientID))
		return
	}

	fee := req.ConsultationFee
	if fee == nil {
		f := doctor.ConsultationFee
		fee = &f
	}
	now := h.timestamp()
	p := domain.OPDPrescription{
		ID:                h.newID(),
		DoctorID:          doctor.ID,
		PatientID:         patient.ID,
		DoctorName:        doctor.Name,
		PatientName:       patient.Name,
		Date:              now,
		ConsultationFee:   fee,
		PrescriptionNotes: req.PrescriptionNotes,
		NextVisitDate:     req.NextVisitDate,
		CreatedAt:         now,
	}
	if err := h.prescriptions.Insert(r.Context(), p); err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	opts, err := pageOptions(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.findPrescriptions(w, r, store.Filter{}, opts...)
}

func (h *Handler) doctorPrescriptions(w http.ResponseWriter, r *http.Request) {
	h.findPrescriptions(w, r, store.Where(store.Eq("doctor_id", chi.URLParam(r, "id"))), store.SortBy("created_at", true))
}

func (h *Handler) patientPrescriptions(w http.ResponseWriter, r *http.Request) {
	h.findPrescriptions(w, r, store.Where(store.Eq("patient_id", chi.URLParam(r, "id"))), store.SortBy("created_at", true))
}

func (h *Handler) findPrescriptions(w http.ResponseWriter, r *http.Request, filter store.Filter, opts ...store.FindOption) {
	out, err := h.prescriptions.Find(r.Context(), filter, opts...)
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) getPrescription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.prescriptions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "prescription", id))
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePrescription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.prescriptions.Delete(r.Context(), id); err != nil {
		h.fail(w, r, lookupErr(err, "prescription", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Prescription deleted successfully"})
}
