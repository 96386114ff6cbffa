package spreadsheet

import "medipos/m/internal/store"

type kind int

const (
	text kind = iota
	optionalText
	number
	integer
	boolean
	jsonValue
)

type column struct {
	header string
	field  string
	kind   kind
}

// sheet maps one collection onto one worksheet.
type sheet struct {
	collection string
	name       string
	columns    []column
	// importable sheets are read back by Import.
	importable bool
}

var sheets = []sheet{
	{
		collection: store.Medicines,
		name:       "Medicines",
		importable: true,
		columns: []column{
			{"ID", "id", text},
			{"Name", "name", text},
			{"Generic Name", "generic_name", optionalText},
			{"Manufacturer", "manufacturer", optionalText},
			{"Batch Number", "batch_number", optionalText},
			{"Expiry Date", "expiry_date", optionalText},
			{"Purchase Price", "purchase_price", number},
			{"Selling Price", "selling_price", number},
			{"Stock Quantity", "stock_quantity", integer},
			{"Minimum Stock Level", "minimum_stock_level", integer},
			{"Description", "description", optionalText},
			{"Created At", "created_at", text},
			{"Updated At", "updated_at", text},
		},
	},
	{
		collection: store.Patients,
		name:       "Patients",
		importable: true,
		columns: []column{
			{"ID", "id", text},
			{"Name", "name", text},
			{"Phone", "phone", optionalText},
			{"Email", "email", optionalText},
			{"Address", "address", optionalText},
			{"Date of Birth", "date_of_birth", optionalText},
			{"Gender", "gender", optionalText},
			{"Emergency Contact", "emergency_contact", optionalText},
			{"Medical History", "medical_history", optionalText},
			{"Created At", "created_at", text},
			{"Updated At", "updated_at", text},
		},
	},
	{
		collection: store.Doctors,
		name:       "Doctors",
		importable: true,
		columns: []column{
			{"ID", "id", text},
			{"Name", "name", text},
			{"Specialization", "specialization", text},
			{"Qualification", "qualification", optionalText},
			{"License Number", "license_number", optionalText},
			{"Phone", "phone", optionalText},
			{"Email", "email", optionalText},
			{"Clinic Name", "clinic_name", optionalText},
			{"Clinic Address", "clinic_address", optionalText},
			{"Consultation Fee", "consultation_fee", number},
			{"Is Active", "is_active", boolean},
			{"Created At", "created_at", text},
			{"Updated At", "updated_at", text},
		},
	},
	{
		collection: store.Sales,
		name:       "Sales",
		columns: []column{
			{"ID", "id", text},
			{"Patient ID", "patient_id", optionalText},
			{"Patient Name", "patient_name", optionalText},
			{"Items", "items", jsonValue},
			{"Subtotal", "subtotal", number},
			{"Tax Amount", "tax_amount", number},
			{"Discount Amount", "discount_amount", number},
			{"Total Amount", "total_amount", number},
			{"Payment Method", "payment_method", text},
			{"Created At", "created_at", text},
		},
	},
	{
		collection: store.Returns,
		name:       "Returns",
		columns: []column{
			{"ID", "id", text},
			{"Original Sale ID", "original_sale_id", text},
			{"Items", "items", jsonValue},
			{"Total Amount", "total_amount", number},
			{"Reason", "reason", optionalText},
			{"Refund Method", "refund_method", text},
			{"Created At", "created_at", text},
		},
	},
	{
		collection: store.OPDPrescriptions,
		name:       "OPD_Prescriptions",
		columns: []column{
			{"ID", "id", text},
			{"Doctor ID", "doctor_id", text},
			{"Doctor Name", "doctor_name", text},
			{"Patient ID", "patient_id", text},
			{"Patient Name", "patient_name", text},
			{"Date", "date", text},
			{"Consultation Fee", "consultation_fee", number},
			{"Prescription Notes", "prescription_notes", optionalText},
			{"Next Visit Date", "next_visit_date", optionalText},
			{"Created At", "created_at", text},
		},
	},
	{
		collection: store.StockMovements,
		name:       "Stock_Movements",
		columns: []column{
			{"ID", "id", text},
			{"Medicine ID", "medicine_id", text},
			{"Medicine Name", "medicine_name", text},
			{"Transaction Type", "transaction_type", text},
			{"Quantity", "quantity", integer},
			{"Unit Price", "unit_price", number},
			{"Total Value", "total_value", number},
			{"Reference ID", "reference_id", text},
			{"Notes", "notes", optionalText},
			{"Created At", "created_at", text},
		},
	},
}

func sheetFor(collection string) (sheet, bool) {
	for _, s := range sheets {
		if s.collection == collection {
			return s, true
		}
	}
	return sheet{}, false
}

func sheetNamed(name string) (sheet, bool) {
	for _, s := range sheets {
		if s.name == name {
			return s, true
		}
	}
	return sheet{}, false
}

// Exportable lists the collections Export accepts.
func Exportable() []string {
	out := make([]string, len(sheets))
	for i, s := range sheets {
		out[i] = s.collection
	}
	return out
}
