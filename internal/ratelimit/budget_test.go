package ratelimit

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestTryAcquire_WithinBurst_Allows(t *testing.T) {
	g := NewGuard(Budget{Rate: rate.Limit(1), Burst: 3})
	defer g.Stop()

	for i := 0; i < 3; i++ {
		if !g.TryAcquire("news:bloomberg") {
			t.Fatalf("call %d should be within burst", i+1)
		}
	}
}

func TestTryAcquire_ExhaustedBudget_Denies(t *testing.T) {
	g := NewGuard(Budget{Rate: rate.Limit(0.001), Burst: 1})
	defer g.Stop()

	if !g.TryAcquire("email:gmail") {
		t.Fatal("first call should be allowed")
	}
	if g.TryAcquire("email:gmail") {
		t.Error("second call should be denied until refill")
	}
}

func TestTryAcquire_SourcesAreIndependent(t *testing.T) {
	g := NewGuard(Budget{Rate: rate.Limit(0.001), Burst: 1})
	defer g.Stop()

	if !g.TryAcquire("news:a") {
		t.Fatal("first source should be allowed")
	}
	if !g.TryAcquire("news:b") {
		t.Error("second source has its own budget and should be allowed")
	}
	if g.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", g.LimiterCount())
	}
}

func TestNewGuard_InvalidBudgetFallsBackToDefault(t *testing.T) {
	g := NewGuard(Budget{})
	defer g.Stop()

	if !g.TryAcquire("any") {
		t.Error("default budget should allow the first call")
	}
}
