package permission

import (
	"testing"
)

func TestNormalizeStringProducesCanonicalOrder(t *testing.T) {
	cases := map[string]string{
		"DUCR":   "CRUD",
		"rc":     "CR",
		" u d ":  "UD",
		"":       "",
		"CRUD":   "CRUD",
		"RRRR":   "R",
		"cRuDcR": "CRUD",
		"D\tC":   "CD",
	}
	for input, expected := range cases {
		normalized, err := NormalizeString(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if normalized != expected {
			t.Fatalf("expected %q to normalize to %q, got %q", input, expected, normalized)
		}
	}
}

func TestNormalizeStringIsIdempotent(t *testing.T) {
	first, err := NormalizeString("durc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NormalizeString(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("normalization not idempotent: %q then %q", first, second)
	}
}

func TestNormalizeStringRejectsUnknownLetters(t *testing.T) {
	for _, input := range []string{"X", "CRX", "cr!", "C R 1"} {
		if _, err := NormalizeString(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestActionFromLetter(t *testing.T) {
	action, ok := ActionFromLetter(" r ")
	if !ok || action != ActionRead {
		t.Fatalf("expected read action, got %q ok=%v", string(action), ok)
	}
	if _, ok := ActionFromLetter("CR"); ok {
		t.Fatalf("expected multi-letter input to be rejected")
	}
	if _, ok := ActionFromLetter("z"); ok {
		t.Fatalf("expected unknown letter to be rejected")
	}
}

func TestValidateMapRejectsUnknownIdentity(t *testing.T) {
	raw := map[int64]string{0: "r", 42: "crud"}
	_, err := ValidateMap(raw, func(id int64) (bool, error) { return false, nil })
	if err == nil {
		t.Fatalf("expected unknown identity to be rejected")
	}
}

func TestValidateMapRejectsNegativeIdentity(t *testing.T) {
	raw := map[int64]string{-1: "r"}
	_, err := ValidateMap(raw, func(id int64) (bool, error) { return true, nil })
	if err == nil {
		t.Fatalf("expected negative identity to be rejected")
	}
}

func TestValidateMapNormalizesValues(t *testing.T) {
	raw := map[int64]string{0: "r", 7: "ducr"}
	normalized, err := ValidateMap(raw, func(id int64) (bool, error) { return id == 7, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalized[0] != "R" {
		t.Fatalf("expected everyone entry to normalize to R, got %q", normalized[0])
	}
	if normalized[7] != "CRUD" {
		t.Fatalf("expected identity 7 to normalize to CRUD, got %q", normalized[7])
	}
}

func TestStringHas(t *testing.T) {
	if !StringHas("CRUD", ActionDelete) {
		t.Fatalf("expected delete bit present")
	}
	if StringHas("CR", ActionUpdate) {
		t.Fatalf("expected update bit absent")
	}
	if StringHas("", ActionRead) {
		t.Fatalf("expected empty string to carry no bits")
	}
}
