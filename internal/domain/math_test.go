package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSafeParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid integer", "100", "100"},
		{"valid decimal", "3.14", "3.14"},
		{"zero", "0", "0"},
		{"negative", "-5.5", "-5.5"},
		{"empty string", "", "0"},
		{"invalid string", "abc", "0"},
		{"whitespace", "  ", "0"},
		{"padded", " 42.5 ", "42.5"},
		{"small fraction", "0.0000001", "0.0000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeParse(tt.input)
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("SafeParse(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestDiv(t *testing.T) {
	if got := Div(decimal.NewFromInt(1010), decimal.RequireFromString("1.01")); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Div(1010, 1.01) = %s, want 1000", got)
	}
	if got := Div(decimal.NewFromInt(5), decimal.Zero); !got.IsZero() {
		t.Errorf("Div by zero = %s, want 0", got)
	}
}

func TestBelowTolerance(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", false},
		{"-0.0000000001", false},
		{"-0.000000001", false},
		{"-0.00000001", true},
		{"5", false},
	}
	for _, tt := range tests {
		if got := BelowTolerance(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("BelowTolerance(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsDust(t *testing.T) {
	if !IsDust(decimal.RequireFromString("0.000000001")) {
		t.Error("1e-9 should be dust")
	}
	if IsDust(decimal.RequireFromString("0.00000001")) {
		t.Error("1e-8 should not be dust")
	}
	if !IsDust(decimal.RequireFromString("-0.000000005")) {
		t.Error("-5e-9 should be dust")
	}
}
