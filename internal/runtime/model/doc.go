// Package model holds the value types that flow through the delivery
// pipeline: the inbound event, the request sent to the downstream API, the
// API's reply, and the record published to the dead-letter channel.
package model
