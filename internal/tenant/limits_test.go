package tenant

import (
	"context"
	"testing"
)

func TestConfigLimitsFallsBackToDefault(t *testing.T) {
	l := NewConfigLimits(5, map[string]int{"acme": 20})

	got, err := l.ConcurrencyLimit(context.Background(), "other-tenant")
	if err != nil || got != 5 {
		t.Fatalf("expected default 5, got %d (err=%v)", got, err)
	}

	got, err = l.ConcurrencyLimit(context.Background(), "acme")
	if err != nil || got != 20 {
		t.Fatalf("expected override 20, got %d (err=%v)", got, err)
	}
}
