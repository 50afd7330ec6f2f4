package metadata

import (
	"strconv"

	"github.com/drblury/restbridge/internal/runtime/model"
)

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

// Header keys written by the transports and middleware.
const (
	KeyCorrelationID = "correlation_id"
	KeyTopic         = "restbridge_topic"
	KeyPartition     = "restbridge_partition"
	KeyOffset        = "restbridge_offset"
	KeyMessageKey    = "restbridge_message_key"
	KeyErrorType     = "restbridge_error_type"
	KeyRetryCount    = "restbridge_retry_count"
)

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}
	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Coordinates reads the source position recorded by the transport. Missing or
// malformed partition and offset headers are reported as -1, and the topic
// falls back to fallbackTopic.
func (m Metadata) Coordinates(fallbackTopic string) model.Coordinates {
	coords := model.UnknownCoordinates(fallbackTopic)
	if topic := m[KeyTopic]; topic != "" {
		coords.Topic = topic
	}
	if p, err := strconv.ParseInt(m[KeyPartition], 10, 32); err == nil {
		coords.Partition = int32(p)
	}
	if o, err := strconv.ParseInt(m[KeyOffset], 10, 64); err == nil {
		coords.Offset = o
	}
	coords.Key = m[KeyMessageKey]
	return coords
}

// WithCoordinates returns a copy of m carrying coords.
func (m Metadata) WithCoordinates(coords model.Coordinates) Metadata {
	cloned := m.cloneWithExtra(4)
	cloned[KeyTopic] = coords.Topic
	cloned[KeyPartition] = strconv.FormatInt(int64(coords.Partition), 10)
	cloned[KeyOffset] = strconv.FormatInt(coords.Offset, 10)
	if coords.Key != "" {
		cloned[KeyMessageKey] = coords.Key
	}
	return cloned
}
