package domain

import (
	"testing"
	"time"
)

func TestFrequencyRoundTrip(t *testing.T) {
	for _, f := range []Frequency{Day, Hour, Minutes15, Minutes5, Minute, Seconds10, Second} {
		parsed, err := ParseFrequency(f.String())
		if err != nil {
			t.Fatalf("ParseFrequency(%q): %v", f.String(), err)
		}
		if parsed != f {
			t.Errorf("round trip %s -> %s", f, parsed)
		}
	}
	if _, err := ParseFrequency("fortnight"); err == nil {
		t.Error("ParseFrequency accepted unknown spelling")
	}
}

func TestBarSpecTable(t *testing.T) {
	spec, err := Day.Spec()
	if err != nil {
		t.Fatalf("Day.Spec(): %v", err)
	}
	if spec.BarSize != "1 day" || spec.MaxSpanStr != "1 Y" {
		t.Errorf("Day spec = %+v", spec)
	}
	if spec.MaxSpan != 365*24*time.Hour {
		t.Errorf("Day max span = %s", spec.MaxSpan)
	}

	spec, err = Hour.Spec()
	if err != nil {
		t.Fatalf("Hour.Spec(): %v", err)
	}
	if spec.BarPeriod != time.Hour || spec.MaxSpanStr != "1 M" {
		t.Errorf("Hour spec = %+v", spec)
	}
}

func TestIsIntraday(t *testing.T) {
	if Day.IsIntraday() {
		t.Error("Day should not be intraday")
	}
	if !Hour.IsIntraday() {
		t.Error("Hour should be intraday")
	}
}

func TestContractExpiry(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	expired := NewContract("GOLD", "20260600")
	if !expired.IsExpired(now) {
		t.Error("June 2026 contract should be expired in August 2026")
	}

	current := NewContract("GOLD", "20260800")
	if current.IsExpired(now) {
		t.Error("August 2026 contract should not be expired mid-August 2026")
	}

	future := NewContract("GOLD", "20261200")
	if future.IsExpired(now) {
		t.Error("December 2026 contract should not be expired")
	}

	virtual := VirtualContract("V_BITCOIN")
	if virtual.IsExpired(now) {
		t.Error("virtual proxy contract should never expire")
	}
	if !virtual.IsVirtual() {
		t.Error("V_ instrument should be virtual")
	}
}

func TestContractMonthLetter(t *testing.T) {
	c := NewContract("GOLD", "20261200")
	letter, err := c.MonthLetter()
	if err != nil {
		t.Fatalf("MonthLetter: %v", err)
	}
	if letter != "Z" {
		t.Errorf("December letter = %q, want Z", letter)
	}
}
