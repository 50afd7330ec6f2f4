package model

import (
	"fmt"
	"strconv"
	"time"
)

// LocalDateTimeLayout is the wire format of a local date-time: no zone offset,
// second precision.
const LocalDateTimeLayout = "2006-01-02T15:04:05"

var acceptedLayouts = []string{
	LocalDateTimeLayout,
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// LocalDateTime is a wall-clock timestamp without a zone. Inputs carrying an
// offset keep their wall-clock reading and drop the offset.
type LocalDateTime struct {
	time.Time
}

// NewLocalDateTime drops the zone of t, keeping its wall-clock reading.
func NewLocalDateTime(t time.Time) LocalDateTime {
	return LocalDateTime{Time: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)}
}

// ParseLocalDateTime parses s using the accepted local date-time layouts.
func ParseLocalDateTime(s string) (LocalDateTime, error) {
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewLocalDateTime(t), nil
		}
	}
	return LocalDateTime{}, fmt.Errorf("invalid local date-time %q: expected %s", s, LocalDateTimeLayout)
}

// String formats the value as YYYY-MM-DDTHH:MM:SS.
func (t LocalDateTime) String() string {
	return t.Time.Format(LocalDateTimeLayout)
}

func (t LocalDateTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *LocalDateTime) UnmarshalJSON(data []byte) error {
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("local date-time must be a JSON string: %w", err)
	}
	parsed, err := ParseLocalDateTime(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
