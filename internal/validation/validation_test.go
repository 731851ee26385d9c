package validation

import "testing"

func TestIsValidKey(t *testing.T) {
	valid := []string{
		"0x1234567890abcdef1234567890abcdef12345678",
		"0xABCDEF1234567890abcdef1234567890ABCDEF12",
	}
	for _, k := range valid {
		if !IsValidKey(k) {
			t.Errorf("expected %q to be valid", k)
		}
	}

	invalid := []string{
		"",
		"0x123",
		"1234567890abcdef1234567890abcdef12345678",
		"0x1234567890abcdef1234567890abcdef1234567g",
		"0x1234567890abcdef1234567890abcdef123456789",
	}
	for _, k := range invalid {
		if IsValidKey(k) {
			t.Errorf("expected %q to be invalid", k)
		}
	}
}

func TestIsValidCourseID(t *testing.T) {
	if !IsValidCourseID("go-concurrency-101") {
		t.Error("expected slug to be valid")
	}
	if IsValidCourseID("") {
		t.Error("expected empty to be invalid")
	}
	if IsValidCourseID("-leading-dash") {
		t.Error("expected leading dash to be invalid")
	}
	if IsValidCourseID("has spaces") {
		t.Error("expected spaces to be invalid")
	}
}

func TestValidAmount(t *testing.T) {
	if err := ValidAmount("amount", "1000000")(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidAmount("amount", "")(); err != nil {
		t.Errorf("empty should pass (use Required): %v", err)
	}

	for _, bad := range []string{"0", "000", "-5", "1.5", "1e6", "abc"} {
		if err := ValidAmount("amount", bad)(); err == nil {
			t.Errorf("expected %q to fail", bad)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("courseId", ""),
		ValidKey("payoutKey", "nope"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs.Error() != "courseId: is required" {
		t.Errorf("unexpected Error(): %q", errs.Error())
	}
}

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("  hello\x00world  ", 100)
	if got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
}
