package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/restbridge/internal/runtime/model"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"
	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatal("expected non-nil empty map")
	}
}

func TestWith(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if base["baz"] != "" {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched["baz"] != "qux" || enriched["foo"] != "bar" {
		t.Fatalf("unexpected enriched map %#v", enriched)
	}
}

func TestNewPairs(t *testing.T) {
	md := New("key", "value", "dangling")
	if md["key"] != "value" {
		t.Fatalf("expected key to be set")
	}
	if _, ok := md["dangling"]; ok {
		t.Fatalf("expected dangling key to be ignored")
	}
}

func TestCoordinatesRoundTrip(t *testing.T) {
	coords := model.Coordinates{Topic: "customer-events", Partition: 3, Offset: 1042, Key: "cust-9"}
	md := Metadata{}.WithCoordinates(coords)

	if got := md.Coordinates("ignored"); got != coords {
		t.Fatalf("expected %#v, got %#v", coords, got)
	}
}

func TestCoordinatesFallback(t *testing.T) {
	got := Metadata{KeyPartition: "not-a-number"}.Coordinates("input")
	want := model.UnknownCoordinates("input")
	if got != want {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	if wm["source"] != "api" {
		t.Fatalf("expected watermill metadata to copy entries")
	}
	wm["source"] = "mutation"
	if md["source"] != "api" {
		t.Fatalf("expected original metadata to be immutable to watermill changes")
	}

	roundTrip := FromWatermill(message.Metadata{KeyOffset: "7"})
	if roundTrip.Coordinates("t").Offset != 7 {
		t.Fatalf("expected watermill metadata to convert back")
	}
	if len(FromWatermill(nil)) != 0 || len(ToWatermill(nil)) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}
}
