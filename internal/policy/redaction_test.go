package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Reach me at alex@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIKeepsPlainFacts(t *testing.T) {
	input := "user's name is Alex and they like hiking"
	out, changed := RedactPII(input)
	if changed {
		t.Fatalf("changed = true for a plain fact: %q", out)
	}
	if out != input {
		t.Fatalf("output = %q, want unchanged input", out)
	}
}
