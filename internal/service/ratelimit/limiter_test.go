package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowExhaustsBurst(t *testing.T) {
	// Near-zero refill so the test only observes burst consumption.
	l := New(Rule{RPS: 0.001, Burst: 3}, nil)

	for i := 0; i < 3; i++ {
		if !l.Allow("gamma/markets") {
			t.Fatalf("allow %d = false, want true", i)
		}
	}
	if l.Allow("gamma/markets") {
		t.Error("allow after burst = true, want false")
	}
}

func TestKeysAreIsolated(t *testing.T) {
	l := New(Rule{RPS: 0.001, Burst: 1}, nil)

	if !l.Allow("gamma/markets") {
		t.Fatal("first key: allow = false, want true")
	}
	if l.Allow("gamma/markets") {
		t.Error("first key exhausted: allow = true, want false")
	}
	if !l.Allow("gamma/bars") {
		t.Error("second key: allow = false, want true")
	}
}

func TestEndpointRuleOverridesDefault(t *testing.T) {
	l := New(Rule{RPS: 0.001, Burst: 1}, map[string]Rule{
		"gamma/bars": {RPS: 0.001, Burst: 4},
	})

	got := 0
	for i := 0; i < 10; i++ {
		if l.Allow("gamma/bars") {
			got++
		}
	}
	if got != 4 {
		t.Errorf("overridden burst allowed %d, want 4", got)
	}

	got = 0
	for i := 0; i < 10; i++ {
		if l.Allow("gamma/markets") {
			got++
		}
	}
	if got != 1 {
		t.Errorf("default burst allowed %d, want 1", got)
	}
}

func TestRuleNormalization(t *testing.T) {
	tests := []struct {
		name      string
		in        Rule
		wantRPS   float64
		wantBurst int
	}{
		{"zero_value", Rule{}, 5, 5},
		{"missing_burst", Rule{RPS: 10}, 10, 10},
		{"fractional_rps", Rule{RPS: 0.5}, 0.5, 1},
		{"explicit", Rule{RPS: 2, Burst: 7}, 2, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.normalized()
			if got.RPS != tt.wantRPS || got.Burst != tt.wantBurst {
				t.Errorf("normalized() = {%v %d}, want {%v %d}",
					got.RPS, got.Burst, tt.wantRPS, tt.wantBurst)
			}
		})
	}
}

func TestWaitReturnsWhenTokenAvailable(t *testing.T) {
	l := New(Rule{RPS: 100, Burst: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Wait(ctx, "gamma/trades"); err != nil {
		t.Fatalf("wait with token available: %v", err)
	}
}

func TestWaitHonorsCancelledContext(t *testing.T) {
	l := New(Rule{RPS: 0.001, Burst: 1}, nil)

	// Drain the only token so Wait has to block.
	if !l.Allow("gamma/trades") {
		t.Fatal("drain: allow = false, want true")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "gamma/trades"); err == nil {
		t.Error("wait on cancelled context = nil, want error")
	}
}

func TestUsageReportsCounters(t *testing.T) {
	l := New(Rule{RPS: 0.001, Burst: 2}, nil)

	l.Allow("gamma/markets")
	l.Allow("gamma/markets")
	l.Allow("gamma/markets") // blocked
	l.Allow("gamma/bars")

	u := l.Usage()
	if len(u) != 2 {
		t.Fatalf("usage entries = %d, want 2", len(u))
	}
	// Sorted by key.
	if u[0].Key != "gamma/bars" || u[1].Key != "gamma/markets" {
		t.Fatalf("usage order = [%s %s], want [gamma/bars gamma/markets]", u[0].Key, u[1].Key)
	}
	if u[1].Allowed != 2 || u[1].Blocked != 1 {
		t.Errorf("markets counters = allowed %d blocked %d, want 2/1", u[1].Allowed, u[1].Blocked)
	}
	if u[0].Allowed != 1 || u[0].Blocked != 0 {
		t.Errorf("bars counters = allowed %d blocked %d, want 1/0", u[0].Allowed, u[0].Blocked)
	}
	if u[1].Burst != 2 {
		t.Errorf("burst = %d, want 2", u[1].Burst)
	}
}
