// Package transform maps a validated inbound message onto the downstream
// API's request shape.
package transform

import (
	"github.com/drblury/restbridge/internal/runtime/jsoncodec"
	"github.com/drblury/restbridge/internal/runtime/model"
)

// Transform builds a fresh OutgoingRequest from msg. It performs no I/O and
// has no failure path; a nil message or payload yields empty fields. Pointer
// fields are copied so the request never aliases the message.
func Transform(msg *model.IncomingMessage) model.OutgoingRequest {
	if msg == nil {
		return model.OutgoingRequest{}
	}

	req := model.OutgoingRequest{
		TransactionID: msg.MessageID,
		EventName:     msg.EventType,
	}
	if msg.Timestamp != nil {
		req.Timestamp = msg.Timestamp.String()
	}

	p := msg.Payload
	if p == nil {
		return req
	}

	req.Customer = model.CustomerRecord{
		ID:           p.CustomerID,
		FullName:     p.CustomerName,
		ContactEmail: p.Email,
		ContactPhone: p.Phone,
		IsActive:     clone(p.Active),
	}
	req.Transaction = model.TransactionRecord{
		Amount:       clone(p.Amount),
		CurrencyCode: p.Currency,
		Notes:        clone(p.Description),
	}
	return req
}

// Encode serialises req. The same request always encodes to the same bytes.
func Encode(req model.OutgoingRequest) ([]byte, error) {
	return jsoncodec.Marshal(req)
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
