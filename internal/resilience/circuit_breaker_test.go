package resilience

import (
	"errors"
	"testing"
	"time"
)

type manualNow struct {
	t time.Time
}

func (m *manualNow) now() time.Time          { return m.t }
func (m *manualNow) advance(d time.Duration) { m.t = m.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *manualNow) {
	clock := &manualNow{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("test", maxFailures, reset)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}

	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}

	if cb.allowRequest() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit Closed")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}

	clock.advance(29 * time.Second)
	if cb.allowRequest() {
		t.Fatal("Expected Open circuit to reject before reset timeout")
	}

	clock.advance(time.Second)
	if !cb.allowRequest() {
		t.Fatal("Expected to allow a trial request after reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state HalfOpen, got %s", cb.GetState())
	}

	// Only one trial at a time.
	if cb.allowRequest() {
		t.Error("Expected second concurrent trial to be rejected")
	}
}

func TestCircuitBreaker_CloseAfterTrialSuccess(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)

	cb.RecordResult(false)
	clock.advance(time.Second)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected trial call to pass, got %v", err)
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after trial success, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopenAfterTrialFailure(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)

	cb.RecordResult(false)
	clock.advance(time.Second)

	_ = cb.Call(func() error { return errors.New("still down") })

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open after failed trial, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while Open")
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)

	var transitions []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordResult(false)
	clock.advance(time.Second)
	_ = cb.Call(func() error { return nil })

	expected := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, transitions)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, expected[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()

	state, requestCount, failureCount, _ := cb.GetStats()
	if state != StateClosed || requestCount != 0 || failureCount != 0 {
		t.Error("Expected stats to be reset")
	}
}
