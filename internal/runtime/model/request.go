package model

// OutgoingRequest is the body POSTed to the downstream API. Optional fields
// are pointers without omitempty so an absent value is sent as an explicit
// null rather than a missing key.
type OutgoingRequest struct {
	TransactionID string            `json:"transaction_id"`
	EventName     string            `json:"event_name"`
	Customer      CustomerRecord    `json:"customer"`
	Transaction   TransactionRecord `json:"transaction"`
	Timestamp     string            `json:"timestamp"`
}

type CustomerRecord struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	IsActive     *bool  `json:"is_active"`
}

type TransactionRecord struct {
	Amount       *float64 `json:"amount"`
	CurrencyCode string   `json:"currency_code"`
	Notes        *string  `json:"notes"`
}

// APIResponse is the body the downstream API returns on success.
type APIResponse struct {
	Success       *bool  `json:"success,omitempty"`
	Message       string `json:"message,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	StatusCode    *int   `json:"status_code,omitempty"`
}
