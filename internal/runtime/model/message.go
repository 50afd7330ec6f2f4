package model

// IncomingMessage is the event consumed from the input stream. It is decoded
// once per pipeline pass and never mutated afterwards.
//
// The validate tags are evaluated by the constraints package; notblank and
// phone_e164 are registered there.
type IncomingMessage struct {
	MessageID string            `json:"messageId" validate:"required,notblank"`
	EventType string            `json:"eventType" validate:"required,notblank"`
	Timestamp *LocalDateTime    `json:"timestamp" validate:"required"`
	Payload   *Payload          `json:"payload" validate:"required"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Payload carries the business fields of an IncomingMessage.
type Payload struct {
	CustomerID   string   `json:"customerId" validate:"required,notblank"`
	CustomerName string   `json:"customerName" validate:"required,notblank,min=2,max=100"`
	Email        string   `json:"email" validate:"required,email"`
	Phone        string   `json:"phone" validate:"required,phone_e164"`
	Amount       *float64 `json:"amount" validate:"required,gt=0.01"`
	Currency     string   `json:"currency" validate:"required,len=3"`
	Description  *string  `json:"description,omitempty"`
	Active       *bool    `json:"active" validate:"required"`
}

// ID returns the message identifier, tolerating a nil receiver so log
// statements can use it before validation.
func (m *IncomingMessage) ID() string {
	if m == nil {
		return ""
	}
	return m.MessageID
}
