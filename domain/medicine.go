package domain

// DefaultMinimumStockLevel applies when a medicine is created without a threshold.
const DefaultMinimumStockLevel = 10

type Medicine struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	GenericName       *string `json:"generic_name,omitempty"`
	Manufacturer      *string `json:"manufacturer,omitempty"`
	BatchNumber       *string `json:"batch_number,omitempty"`
	ExpiryDate        *string `json:"expiry_date,omitempty"`
	PurchasePrice     float64 `json:"purchase_price"`
	SellingPrice      float64 `json:"selling_price"`
	StockQuantity     int64   `json:"stock_quantity"`
	MinimumStockLevel int64   `json:"minimum_stock_level"`
	Description       *string `json:"description,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// LowStock reports whether the medicine has fallen under its reorder threshold.
func (m Medicine) LowStock() bool {
	return m.StockQuantity < m.MinimumStockLevel
}

type Patient struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Phone            *string `json:"phone,omitempty"`
	Email            *string `json:"email,omitempty"`
	Address          *string `json:"address,omitempty"`
	DateOfBirth      *string `json:"date_of_birth,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	EmergencyContact *string `json:"emergency_contact,omitempty"`
	MedicalHistory   *string `json:"medical_history,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type Doctor struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Specialization  string  `json:"specialization"`
	Qualification   *string `json:"qualification,omitempty"`
	LicenseNumber   *string `json:"license_number,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	Email           *string `json:"email,omitempty"`
	ClinicName      *string `json:"clinic_name,omitempty"`
	ClinicAddress   *string `json:"clinic_address,omitempty"`
	ConsultationFee float64 `json:"consultation_fee"`
	SignatureURL    *string `json:"signature_url,omitempty"`
	IsActive        bool    `json:"is_active"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type OPDPrescription struct {
	ID                string   `json:"id"`
	DoctorID          string   `json:"doctor_id"`
	PatientID         string   `json:"patient_id"`
	DoctorName        string   `json:"doctor_name"`
	PatientName       string   `json:"patient_name"`
	Date              string   `json:"date"`
	ConsultationFee   *float64 `json:"consultation_fee,omitempty"`
	PrescriptionNotes *string  `json:"prescription_notes,omitempty"`
	NextVisitDate     *string  `json:"next_visit_date,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

// Fee returns the consultation fee, zero when none was charged.
func (p OPDPrescription) Fee() float64 {
	if p.ConsultationFee == nil {
		return 0
	}
	return *p.ConsultationFee
}
