package identity

import (
	"errors"
	"reflect"
	"testing"
)

const (
	u1 = "e4953e0c-eaff-4aaf-a597-d2a7794b1684"
	u2 = "6979bcf4-a0da-46fc-89ed-24c40d3b0ab0"
	u3 = "f5494a6b-f86a-43bc-a180-144c24f408b8"
)

func TestCanonicalize_OrderAndDuplicatesIrrelevant(t *testing.T) {
	a, err := Canonicalize([]string{u1, u2, u3})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	b, err := Canonicalize([]string{u3, u1, u2, u1, "6979BCF4A0DA46FC89ED24C40D3B0AB0"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("not canonical: %v vs %v", a, b)
	}
	want := []string{u2, u1, u3}
	if got := a.Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sort order: got %v want %v", got, want)
	}
}

func TestCanonicalize_RejectsMalformed(t *testing.T) {
	for _, bad := range []string{"nope", "", "urn:uuid:" + u1, "{" + u1 + "}", u1 + "0"} {
		_, err := Canonicalize([]string{u1, bad})
		if !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("%q: expected ErrInvalidIdentity, got %v", bad, err)
		}
	}
}

func TestParse_EmptyMeansNoRestriction(t *testing.T) {
	s, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s) != 0 {
		t.Fatalf("expected empty set, got %v", s)
	}
}

func TestHexAndBytes(t *testing.T) {
	s, err := Parse(u1)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := s.Hex(); !reflect.DeepEqual(got, []string{"e4953e0ceaff4aafa597d2a7794b1684"}) {
		t.Fatalf("hex: %v", got)
	}
	b := s.Bytes()
	if len(b) != 1 || len(b[0]) != 16 || b[0][0] != 0xe4 || b[0][15] != 0x84 {
		t.Fatalf("bytes: %x", b)
	}
}
