package pricing

import (
	"errors"
	"testing"
	"time"
)

func TestNewWindow(t *testing.T) {
	if _, err := NewWindow(0, time.UTC); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("zero days should be rejected, got %v", err)
	}
	if _, err := NewWindow(-3, nil); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("negative days should be rejected, got %v", err)
	}
	w, err := NewWindow(30, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.LocationName() != "UTC" {
		t.Fatalf("nil location should default to UTC, got %s", w.LocationName())
	}
}

func TestWindowStartDateCrossesMonths(t *testing.T) {
	w := Window{Days: 30}
	latest := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	want := time.Date(2024, 1, 31, 8, 30, 0, 0, time.UTC)
	if got := w.StartDate(latest); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}
}
