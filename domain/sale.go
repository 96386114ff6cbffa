package domain

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentCredit PaymentMethod = "credit"
)

type Sale struct {
	ID             string        `json:"id"`
	PatientID      *string       `json:"patient_id,omitempty"`
	PatientName    *string       `json:"patient_name,omitempty"`
	Items          []SaleItem    `json:"items"`
	Subtotal       float64       `json:"subtotal"`
	TaxAmount      float64       `json:"tax_amount"`
	DiscountAmount float64       `json:"discount_amount"`
	TotalAmount    float64       `json:"total_amount"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	CreatedAt      string        `json:"created_at"`
}

// MaxQuantity bounds a single line or adjustment.
const MaxQuantity int64 = 1_000_000

type SaleItem struct {
	MedicineID   string  `json:"medicine_id" validate:"required"`
	MedicineName string  `json:"medicine_name"`
	Quantity     int64   `json:"quantity" validate:"gt=0,max=1000000"`
	UnitPrice    float64 `json:"unit_price" validate:"gte=0"`
	TotalPrice   float64 `json:"total_price" validate:"gte=0"`
}

// Customer names the buyer for movement notes.
func (s Sale) Customer() string {
	if s.PatientName != nil && *s.PatientName != "" {
		return *s.PatientName
	}
	return "walk-in customer"
}

type Return struct {
	ID             string        `json:"id"`
	OriginalSaleID string        `json:"original_sale_id"`
	Items          []SaleItem    `json:"items"`
	Subtotal       float64       `json:"subtotal"`
	TaxAmount      float64       `json:"tax_amount"`
	DiscountAmount float64       `json:"discount_amount"`
	TotalAmount    float64       `json:"total_amount"`
	Reason         *string       `json:"reason,omitempty"`
	RefundMethod   PaymentMethod `json:"refund_method"`
	CreatedAt      string        `json:"created_at"`
}

type TransactionType string

const (
	MovementSale       TransactionType = "sale"
	MovementPurchase   TransactionType = "purchase"
	MovementReturn     TransactionType = "return"
	MovementAdjustment TransactionType = "adjustment"
)

type StockMovement struct {
	ID              string          `json:"id"`
	MedicineID      string          `json:"medicine_id"`
	MedicineName    string          `json:"medicine_name"`
	TransactionType TransactionType `json:"transaction_type"`
	Quantity        int64           `json:"quantity"`
	UnitPrice       float64         `json:"unit_price"`
	TotalValue      float64         `json:"total_value"`
	ReferenceID     string          `json:"reference_id"`
	Notes           *string         `json:"notes,omitempty"`
	CreatedAt       string          `json:"created_at"`
}
