package model

import (
	"strconv"
	"time"
)

// Coordinates locate a message in its source stream. Transports without
// partitions report Partition and Offset as -1.
type Coordinates struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
}

// UnknownCoordinates is used when the transport supplied no position.
func UnknownCoordinates(topic string) Coordinates {
	return Coordinates{Topic: topic, Partition: -1, Offset: -1}
}

// DeadLetterRecord is published to the dead-letter channel for every message
// that could not be delivered.
type DeadLetterRecord struct {
	OriginalMessage string    `json:"originalMessage"`
	Topic           string    `json:"topic"`
	Partition       int32     `json:"partition"`
	Offset          int64     `json:"offset"`
	MessageID       string    `json:"messageId,omitempty"`
	CorrelationID   string    `json:"correlationId,omitempty"`
	ErrorType       string    `json:"errorType"`
	ErrorMessage    string    `json:"errorMessage"`
	StackTrace      string    `json:"stackTrace,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	RetryCount      int       `json:"retryCount"`
}

// String renders the position as topic[partition]@offset.
func (c Coordinates) String() string {
	return c.Topic + "[" + strconv.FormatInt(int64(c.Partition), 10) + "]@" + strconv.FormatInt(c.Offset, 10)
}
