package phone

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	n := NewNormalizer("fr")

	cases := []struct {
		in   string
		want string
		err  error
	}{
		{"06 12 34 56 78", "+33612345678", nil},
		{"+33 6 12 34 56 78", "+33612345678", nil},
		{"0033612345678", "+33612345678", nil},
		{"+1 415 555 2671", "+14155552671", nil},
		{"   ", "", ErrMissingPhone},
		{"hello", "", ErrInvalidPhone},
		{"+33 1", "", ErrInvalidPhone},
	}
	for _, tc := range cases {
		got, err := n.Parse(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("Parse(%q) error = %v, want %v", tc.in, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Parse(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestNormalizeFallsBackToTrimmedInput(t *testing.T) {
	n := NewNormalizer("")
	if n.Region() != "FR" {
		t.Fatalf("expected FR default region, got %s", n.Region())
	}
	if got := n.Normalize(" 06 12 34 56 78 "); got != "+33612345678" {
		t.Fatalf("unexpected normalized value %q", got)
	}
	if got := n.Normalize(" 12345 "); got != "12345" {
		t.Fatalf("expected trimmed fallback, got %q", got)
	}
}
