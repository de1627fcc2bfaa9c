package validation

import "testing"

func TestIsValidID(t *testing.T) {
	valid := []string{"usr_1", "auc_abc123", "a", "user-42", "A_B-c"}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "über", string(make([]byte, 65))}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestValidAmount(t *testing.T) {
	for _, v := range []string{"1", "0.01", "120.50", "999999.99"} {
		if errs := Validate(ValidAmount("amount", v)); len(errs) != 0 {
			t.Errorf("expected %q to be a valid amount: %v", v, errs)
		}
	}

	for _, v := range []string{"0", "0.00", "-1", "1.2.3", "abc", ".", "1."} {
		if errs := Validate(ValidAmount("amount", v)); len(errs) == 0 {
			t.Errorf("expected %q to be an invalid amount", v)
		}
	}
}

func TestValidFraction(t *testing.T) {
	for _, v := range []string{"0.3", "0.25", ".5", "0.999"} {
		if errs := Validate(ValidFraction("fraction", v)); len(errs) != 0 {
			t.Errorf("expected %q to be a valid fraction: %v", v, errs)
		}
	}

	for _, v := range []string{"0", "1", "1.0", "0.0", "-0.3", "1.5", "abc"} {
		if errs := Validate(ValidFraction("fraction", v)); len(errs) == 0 {
			t.Errorf("expected %q to be an invalid fraction", v)
		}
	}
}

func TestValidateCollectsAll(t *testing.T) {
	errs := Validate(
		Required("a", ""),
		Required("b", "present"),
		ValidAmount("c", "-1"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "a: is required" {
		t.Errorf("unexpected first error: %s", errs.Error())
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("unexpected sanitized value: %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncation, got %q", got)
	}
}
