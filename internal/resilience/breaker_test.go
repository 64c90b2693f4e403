package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock drives a breaker's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, window, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBreaker(maxFailures, window, cooldown)
	b.now = clock.now
	return b, clock
}

func fail(b *Breaker) error { return b.Execute(func() error { return errBoom }) }
func ok(b *Breaker) error   { return b.Execute(func() error { return nil }) }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 30*time.Second)

	for i := 0; i < 3; i++ {
		if err := fail(b); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: got %v, want errBoom", i+1, err)
		}
	}
	if err := ok(b); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call on open circuit = %v, want ErrCircuitOpen", err)
	}
	if got := b.Snapshot("dep").State; got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}

func TestBreakerWindowAgesFailuresOut(t *testing.T) {
	b, clock := newTestBreaker(3, time.Minute, 30*time.Second)

	_ = fail(b)
	_ = fail(b)
	// The earlier failures fall outside the window; this one starts a
	// fresh count.
	clock.advance(2 * time.Minute)
	_ = fail(b)

	if got := b.Snapshot("dep").State; got != StateClosed {
		t.Fatalf("state = %s, want closed after window expiry", got)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	_ = fail(b)
	if err := ok(b); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("during cooldown: got %v, want ErrCircuitOpen", err)
	}

	clock.advance(30 * time.Second)

	// Only one probe runs; a concurrent second call is rejected while the
	// probe is in flight.
	probeRan := false
	err := b.Execute(func() error {
		probeRan = true
		if err := ok(b); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
		}
		return nil
	})
	if err != nil || !probeRan {
		t.Fatalf("probe: err=%v ran=%v", err, probeRan)
	}
	if got := b.Snapshot("dep").State; got != StateClosed {
		t.Fatalf("state after successful probe = %s, want closed", got)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	_ = fail(b)
	clock.advance(30 * time.Second)
	if err := fail(b); !errors.Is(err, errBoom) {
		t.Fatalf("probe failure: got %v, want errBoom", err)
	}

	// Reopened with a fresh cooldown.
	if err := ok(b); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("after failed probe = %v, want ErrCircuitOpen", err)
	}
	clock.advance(30 * time.Second)
	if err := ok(b); err != nil {
		t.Fatalf("probe after second cooldown = %v, want nil", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 30*time.Second)

	_ = fail(b)
	_ = fail(b)
	_ = ok(b)
	_ = fail(b)
	_ = fail(b)

	if got := b.Snapshot("dep").State; got != StateClosed {
		t.Fatalf("state = %s, want closed (success reset the count)", got)
	}
}

func TestRegistryReusesBreaker(t *testing.T) {
	r := NewRegistry(2, time.Minute, 30*time.Second)

	b1 := r.For("marketdata")
	b2 := r.For("marketdata")
	if b1 != b2 {
		t.Fatal("For returned different breakers for the same dependency")
	}

	_ = fail(b1)
	snaps := r.Snapshot()
	if len(snaps) != 1 || snaps[0].Dependency != "marketdata" || snaps[0].Failures != 1 {
		t.Fatalf("Snapshot = %+v", snaps)
	}
}
