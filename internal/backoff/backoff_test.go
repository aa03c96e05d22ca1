package backoff

import "testing"

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(0, 0, 0, 0)
	if p.Initial != DefaultInitial || p.Multiplier != DefaultMultiplier || p.Max != DefaultMax {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestExhausted(t *testing.T) {
	p := NewPolicy(0, 0, 0, 3)
	if p.Exhausted(3) {
		t.Fatal("attempt 3 should not be exhausted with MaxAttempts=3")
	}
	if !p.Exhausted(4) {
		t.Fatal("attempt 4 should be exhausted with MaxAttempts=3")
	}
	unbounded := NewPolicy(0, 0, 0, 0)
	if unbounded.Exhausted(1000) {
		t.Fatal("unbounded policy should never be exhausted")
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := NewPolicy(0, 0, 0, 0)
	d1 := p.Delay(1)
	d5 := p.Delay(5)
	if d1 <= 0 {
		t.Fatal("expected positive delay")
	}
	// Jitter is at most ±20%, so d1 lies in [0.8s, 1.2s] and d5 (1s × 1.5⁴ ≈
	// 5.06s before jitter) in [4.05s, 6.08s]: d5 always exceeds d1, and no
	// delay may exceed the cap plus its jitter margin.
	if d5 <= d1 {
		t.Fatalf("expected delay to grow: d1=%v, d5=%v", d1, d5)
	}
	if d5 > p.Max+p.Max/5 {
		t.Fatalf("delay exceeded cap with jitter margin: %v > %v", d5, p.Max)
	}
}
