package checkout

import (
	"regexp"
	"testing"
	"time"
)

func TestNewOrderNumberFormat(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^ORD-\d{6}-\d{4}$`)
	now := time.Now()
	for i := 0; i < 50; i++ {
		ref := newOrderNumber(now)
		if !pattern.MatchString(ref) {
			t.Fatalf("order number %q does not match ORD-NNNNNN-NNNN", ref)
		}
	}
}

func TestNewOrderNumberVariesWithinSameSecond(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[newOrderNumber(now)] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected random tail to produce distinct references in one second")
	}
}
