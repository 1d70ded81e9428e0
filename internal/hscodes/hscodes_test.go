package hscodes

import "testing"

func TestIsAllowedCodeExactOnly(t *testing.T) {
	v := Default()
	if !v.IsAllowedCode("9405.10") {
		t.Fatal("9405.10 should be allowed")
	}
	if v.IsAllowedCode("9405.1") {
		t.Fatal("9405.1 is not a member, prefix matching must not apply")
	}
	if !v.IsAllowedCode(" 9405 ") {
		t.Fatal("membership should trim surrounding whitespace")
	}
	if v.IsAllowedCode("9405.11") {
		t.Fatal("9405.11 is not in the allow-list")
	}
}

func TestIsExcludedCode(t *testing.T) {
	v := Default()
	for _, code := range []string{"", "EXCLUDE", "exclude", "0000.00", "0000", "0000.10", "9999.99"} {
		if !v.IsExcludedCode(code) {
			t.Fatalf("%q should be excluded", code)
		}
	}
	if v.IsExcludedCode("9999") {
		t.Fatal("9999 is the review sentinel, not an exclusion code")
	}
	if v.IsExcludedCode("9405") {
		t.Fatal("9405 is a valid code")
	}
}

func TestIsNonItemCategory(t *testing.T) {
	v := Default()
	if !v.IsNonItemCategory("Header") {
		t.Fatal("Header is a non-item category")
	}
	if !v.IsNonItemCategory("document header row") {
		t.Fatal("substring match should apply")
	}
	if v.IsNonItemCategory("Lighting equipment") {
		t.Fatal("Lighting equipment is a real category")
	}
	if v.IsNonItemCategory("") {
		t.Fatal("empty category is not a non-item marker")
	}
}

func TestValidatePrecedence(t *testing.T) {
	v := Default()

	// Category gate wins even when the code itself is valid.
	out := v.Validate("9405", "Header")
	if out.Status != StatusExclude || out.HsCode != "EXCLUDE" {
		t.Fatalf("category gate should override valid code: %+v", out)
	}

	out = v.Validate("9999.42", "Lighting equipment")
	if out.Status != StatusReview || out.HsCode != "9999" {
		t.Fatalf("dotted unknown variant should collapse to review: %+v", out)
	}

	out = v.Validate(" 9405.10 ", "Lighting equipment")
	if out.Status != StatusValid || out.HsCode != "9405.10" {
		t.Fatalf("allowed code should be valid and trimmed: %+v", out)
	}

	// A hallucinated code is demoted, never trusted.
	out = v.Validate("9405.13", "Lighting equipment")
	if out.Status != StatusReview || out.HsCode != "9999" {
		t.Fatalf("unrecognized code should demote to review: %+v", out)
	}
}

func TestNormalizeUnknown(t *testing.T) {
	v := Default()
	for _, code := range []string{"9999", "9999.00", "9999.42", "9999.99"} {
		if got := v.NormalizeUnknown(code); got != "9999" {
			t.Fatalf("NormalizeUnknown(%q)=%q", code, got)
		}
	}
	if got := v.NormalizeUnknown("9405"); got != "9405" {
		t.Fatalf("valid code must pass through: %q", got)
	}
}

func TestAlternateVocabulary(t *testing.T) {
	v := New([]string{"1234"}, "9999", "EXCLUDE", "NEED_INFO", []string{"EXCLUDE"}, []string{"Noise"})
	if !v.IsAllowedCode("1234") {
		t.Fatal("injected code should be allowed")
	}
	if v.IsAllowedCode("9405") {
		t.Fatal("default codes must not leak into an injected vocabulary")
	}
}
