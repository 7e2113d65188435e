package circuit

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("closed breaker must allow call %d", i)
		}
		b.Record(false)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s before threshold", b.State())
	}

	b.Record(false)
	if b.State() != StateOpen {
		t.Fatalf("state = %s after threshold", b.State())
	}
	if b.Allow() {
		t.Error("open breaker must fail fast")
	}
}

func TestSuccessResetsFailureRun(t *testing.T) {
	b := New(3, time.Minute)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	if b.State() != StateClosed {
		t.Errorf("interleaved successes must reset the run, state = %s", b.State())
	}
}

func TestProbeAfterCooldown(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.Record(false)
	if b.Allow() {
		t.Fatal("must be open immediately after trip")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, probe must be allowed")
	}
	if b.Allow() {
		t.Error("only one probe at a time")
	}

	b.Record(true)
	if b.State() != StateClosed {
		t.Errorf("successful probe must close, state = %s", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker must allow")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.Record(false)
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe must be allowed")
	}
	b.Record(false)
	if b.State() != StateOpen {
		t.Errorf("failed probe must reopen, state = %s", b.State())
	}
	if b.Allow() {
		t.Error("reopened breaker must fail fast")
	}
}
