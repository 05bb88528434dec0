package money

import (
	"encoding/json"
	"testing"
)

func TestNewRejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		amount float64
		cur    Currency
	}{
		{"negative", -5, USD},
		{"nan", nanValue(), USD},
		{"unknown currency", 5, "ZZZ"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.amount, tc.cur); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestAddRejectsCrossCurrency(t *testing.T) {
	a, _ := New(10, USD)
	b, _ := New(5, EUR)
	if _, err := a.Add(b); err == nil {
		t.Fatal("expected cross-currency error")
	}
}

func TestArithmeticIsExact(t *testing.T) {
	a, _ := New(10.10, USD)
	b, _ := New(0.05, USD)
	sum, err := a.Add(b)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Float64() != 10.15 {
		t.Fatalf("expected 10.15, got %v", sum.Float64())
	}
}

func TestRoundTripJSON(t *testing.T) {
	m, _ := New(100, USD)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var out Money
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Equal(m) {
		t.Fatalf("round trip mismatch: %v vs %v", out, m)
	}
}

func TestMulPercent(t *testing.T) {
	m, _ := New(1000, USD)
	fee := m.MulPercent(0.015)
	if fee.Float64() != 15 {
		t.Fatalf("expected 15.00 fee, got %v", fee.Float64())
	}
}
