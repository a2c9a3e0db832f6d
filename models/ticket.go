package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketRecord is the durable entity for one issued ticket. TicketID is
// the redemption key carried by the QR payload; PaymentID links back to
// the originating transaction and stays a secondary lookup index.
type TicketRecord struct {
	ID         string          `json:"id,omitempty"`
	TicketID   string          `json:"ticket_id"`
	PaymentID  string          `json:"payment_id"`
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone,omitempty"`
	EventName  string          `json:"event_name,omitempty"`
	EventDate  string          `json:"event_date,omitempty"`
	TicketType string          `json:"ticket_type,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Used       bool            `json:"used"`
	CreatedAt  time.Time       `json:"created_at"`
	UsedAt     *time.Time      `json:"used_at,omitempty"`
	ScannedBy  string          `json:"scanned_by,omitempty"`
}

// QRPayload is the claim embedded (encrypted) in a QR code. Ts is epoch
// milliseconds at generation time; it is an audit marker, not an expiry.
type QRPayload struct {
	TicketID string `json:"ticket_id"`
	Email    string `json:"email"`
	Ts       string `json:"ts"`
}

// IssuanceStatus tracks batch delivery per payment_id so re-runs only
// retry the unfinished subset.
type IssuanceStatus struct {
	PaymentID   string    `json:"payment_id"`
	TicketID    string    `json:"ticket_id"`
	Email       string    `json:"email"`
	QRGenerated bool      `json:"qr_generated"`
	EmailSent   bool      `json:"email_sent"`
	SentAt      time.Time `json:"sent_at"`
}

type ScanStatus string

const (
	StatusValid   ScanStatus = "valid"
	StatusUsed    ScanStatus = "used"
	StatusInvalid ScanStatus = "invalid"
	StatusError   ScanStatus = "error"
)

// VerifyResult is the verification engine's classification of one scan.
// Ticket is set for valid and used outcomes so the operator sees who is
// at the gate.
type VerifyResult struct {
	Status  ScanStatus    `json:"status"`
	Message string        `json:"message"`
	Ticket  *TicketRecord `json:"ticket,omitempty"`
}

// IssuanceReport summarizes one batch run.
type IssuanceReport struct {
	Processed int      `json:"processed"`
	Total     int      `json:"total"`
	Failures  []string `json:"failures,omitempty"`
}

type VerifyResponse struct {
	Success bool          `json:"success"`
	Status  ScanStatus    `json:"status"`
	Message string        `json:"message"`
	Ticket  *TicketRecord `json:"ticket,omitempty"`
}

type MarkUsedResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Ticket  *TicketRecord `json:"ticket,omitempty"`
}

type BulkInsertResponse struct {
	Success  bool     `json:"success"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Details  []string `json:"details"`
	Message  string   `json:"message,omitempty"`
}
