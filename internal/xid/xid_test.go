package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("ord")
	b := New("ord")
	if !strings.HasPrefix(a, "ord-") {
		t.Fatalf("expected ord- prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
}
