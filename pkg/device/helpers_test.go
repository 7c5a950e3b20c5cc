package device

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type message struct {
	Topic   string
	Key     string
	Payload []byte
}

// recorder is an in-memory Publisher that keeps messages in arrival order.
type recorder struct {
	mu   sync.Mutex
	msgs []message
	fail atomic.Bool
}

func (r *recorder) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if r.fail.Load() {
		return errBrokerDown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{Topic: topic, Key: key, Payload: append([]byte(nil), payload...)})
	return nil
}

func (r *recorder) messages() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.msgs...)
}

func (r *recorder) onTopic(topic string) []message {
	var out []message
	for _, m := range r.messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) count(topic string) int {
	return len(r.onTopic(topic))
}

type brokerError string

func (e brokerError) Error() string { return string(e) }

const errBrokerDown = brokerError("broker down")

func decode(t *testing.T, m message) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		t.Fatalf("decoding %s payload: %v", m.Topic, err)
	}
	return out
}

// manualClock hands out tickers that only fire when a test advances them.
type manualClock struct {
	tickers chan *manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{tickers: make(chan *manualTicker, 8)}
}

func (c *manualClock) Now() time.Time { return time.Unix(1700000000, 0) }

func (c *manualClock) NewTicker(time.Duration) Ticker {
	tk := &manualTicker{ch: make(chan time.Time)}
	c.tickers <- tk
	return tk
}

func (c *manualClock) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-c.tickers:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("stream never created its ticker")
		return nil
	}
}

type manualTicker struct {
	ch chan time.Time
}

func (tk *manualTicker) C() <-chan time.Time { return tk.ch }
func (tk *manualTicker) Stop()               {}

// advance delivers n ticks. Each send returns once the loop has taken it.
func (tk *manualTicker) advance(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case tk.ch <- time.Time{}:
		case <-time.After(2 * time.Second):
			t.Fatalf("loop did not accept tick %d", i+1)
		}
	}
}

func testSinks(rec *recorder) Sinks {
	return Sinks{Control: rec, Data: rec}
}

func testPatient() *PatientContext {
	return &PatientContext{
		PatientID:   "SIM-PAT-0001",
		FacilityID:  DefaultFacilityID,
		AdmissionID: "ADM-000001",
		Name:        "Simulated Patient 101",
		Gender:      "Female",
		Age:         52,
	}
}

// countingStream counts Stop calls made on the wrapped stream.
type countingStream struct {
	Stream
	stops atomic.Int32
}

func (c *countingStream) Stop(ctx context.Context) error {
	c.stops.Add(1)
	return c.Stream.Stop(ctx)
}
