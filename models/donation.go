package models

import (
	"time"
)

// Donation statuses. M-Pesa donations start as pending and are moved to
// completed or failed by the STK callback. Other donation channels record
// completed directly.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type Donation struct {
	ID          string  `gorm:"type:char(36);primaryKey" json:"id"`
	DonorName   string  `gorm:"size:100" json:"donor_name"`
	Email       string  `gorm:"size:100" json:"email"`
	PhoneNumber string  `gorm:"size:20" json:"phone_number"` // normalized 254XXXXXXXXX
	Amount      float64 `gorm:"type:decimal(12,2)" json:"amount"`
	Method      string  `gorm:"size:20" json:"method"` // M-PESA
	Status      string  `gorm:"size:20;index" json:"status"`

	// Correlation IDs assigned by Daraja in the STK push response. The
	// checkout request ID is unique per push attempt and is the lookup key
	// for the async callback; it stays NULL until Daraja assigns it.
	MerchantRequestID string  `gorm:"size:100;index" json:"merchant_request_id"`
	CheckoutRequestID *string `gorm:"size:100;uniqueIndex" json:"checkout_request_id"`

	// Populated by the callback.
	MpesaReceiptNumber string     `gorm:"size:50" json:"mpesa_receipt_number"`
	TransactionDate    *time.Time `json:"transaction_date"`
	ResultCode         *int       `json:"result_code"`
	ResultDesc         string     `gorm:"size:255" json:"result_desc"`

	ProjectID *string `gorm:"type:char(36);index" json:"project_id"` // nil for general donations

	Date      time.Time `json:"date"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
