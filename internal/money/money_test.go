package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "0", true},
		{"0", "0", true},
		{"1000000", "1000000", true},
		{"999999999999999999999", "999999999999999999999", true},
		{"-5", "", false},
		{"+5", "", false},
		{"1.5", "", false},
		{"0x10", "", false},
		{" 100", "", false},
		{"1e6", "", false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFraction(t *testing.T) {
	total := big.NewInt(1_000_000)

	if got := Fraction(total, 3000); got.Int64() != 300_000 {
		t.Errorf("Fraction(1000000, 3000) = %d, want 300000", got.Int64())
	}
	if got := Fraction(total, 10_000); got.Int64() != 1_000_000 {
		t.Errorf("Fraction(1000000, 10000) = %d, want 1000000", got.Int64())
	}
	// Rounds down.
	if got := Fraction(big.NewInt(3), 3000); got.Int64() != 0 {
		t.Errorf("Fraction(3, 3000) = %d, want 0", got.Int64())
	}
	if got := Fraction(nil, 3000); got.Sign() != 0 {
		t.Errorf("Fraction(nil, 3000) = %s, want 0", got)
	}
}

func TestClampSub(t *testing.T) {
	if got := ClampSub(big.NewInt(10), big.NewInt(3)); got.Int64() != 7 {
		t.Errorf("ClampSub(10, 3) = %d, want 7", got.Int64())
	}
	if got := ClampSub(big.NewInt(3), big.NewInt(10)); got.Sign() != 0 {
		t.Errorf("ClampSub(3, 10) = %s, want 0", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(nil); got != "0" {
		t.Errorf("Format(nil) = %q, want \"0\"", got)
	}
	if got := Format(big.NewInt(42)); got != "42" {
		t.Errorf("Format(42) = %q", got)
	}
}
