package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalDateTime(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"local layout", "2024-05-01T10:15:30", "2024-05-01T10:15:30"},
		{"fractional seconds truncated", "2024-05-01T10:15:30.987", "2024-05-01T10:15:30"},
		{"offset dropped, wall clock kept", "2024-05-01T10:15:30+02:00", "2024-05-01T10:15:30"},
		{"utc designator", "2024-05-01T10:15:30Z", "2024-05-01T10:15:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocalDateTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseLocalDateTimeRejectsGarbage(t *testing.T) {
	_, err := ParseLocalDateTime("yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid local date-time")
}

func TestLocalDateTimeJSON(t *testing.T) {
	ts := NewLocalDateTime(time.Date(2023, 12, 31, 23, 59, 58, 0, time.FixedZone("X", 3600)))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2023-12-31T23:59:58"`, string(data))

	var decoded LocalDateTime
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ts, decoded)

	require.Error(t, json.Unmarshal([]byte(`12345`), &decoded))
}

func TestIncomingMessageIDToleratesNil(t *testing.T) {
	var msg *IncomingMessage
	assert.Equal(t, "", msg.ID())
	assert.Equal(t, "m-1", (&IncomingMessage{MessageID: "m-1"}).ID())
}

func TestOutgoingRequestEmitsExplicitNulls(t *testing.T) {
	data, err := json.Marshal(OutgoingRequest{TransactionID: "t-1"})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"notes":null`)
	assert.Contains(t, string(data), `"is_active":null`)
	assert.Contains(t, string(data), `"amount":null`)
}

func TestUnknownCoordinates(t *testing.T) {
	c := UnknownCoordinates("events")
	assert.Equal(t, "events", c.Topic)
	assert.Equal(t, int32(-1), c.Partition)
	assert.Equal(t, int64(-1), c.Offset)
}
