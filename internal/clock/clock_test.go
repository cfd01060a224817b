package clock

import (
	"testing"
	"time"
)

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c := Fake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}

	c.Advance(90 * time.Minute)
	if want := start.Add(90 * time.Minute); !c.Now().Equal(want) {
		t.Errorf("expected %v after advance, got %v", want, c.Now())
	}
}

func TestFakeClock_Set(t *testing.T) {
	c := Fake(time.Time{})
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(target)

	if !c.Now().Equal(target) {
		t.Errorf("expected %v, got %v", target, c.Now())
	}
}

func TestReal_IsUTC(t *testing.T) {
	if loc := Real().Now().Location(); loc != time.UTC {
		t.Errorf("expected UTC, got %v", loc)
	}
}
