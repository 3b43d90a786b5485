package ids

import (
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestNewAtEmbedsTime(t *testing.T) {
	at := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	id := NewAt(at)
	if !Valid(id) {
		t.Fatalf("expected %q to be valid", id)
	}
	got, ok := Time(id)
	if !ok || !got.Equal(at) {
		t.Fatalf("Time(%s)=%v ok=%v, want %v", id, got, ok, at)
	}
}

func TestValid(t *testing.T) {
	for _, bad := range []string{"", "not-an-id", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if Valid(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if _, ok := Time("garbage"); ok {
		t.Fatalf("expected Time to reject garbage")
	}
}
