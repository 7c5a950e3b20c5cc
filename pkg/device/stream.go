package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/observability/metrics"
)

const (
	DefaultCadence        = time.Second
	DefaultPublishTimeout = 10 * time.Second
)

// Stream is one simulated device producer.
type Stream interface {
	Identity() Identity
	Patient() *PatientContext
	State() RunState
	// Start spawns the execution loop. It may be called once.
	Start() error
	// Stop requests cancellation and blocks until the loop has exited or ctx
	// is done. Repeated calls only wait.
	Stop(ctx context.Context) error
	Done() <-chan struct{}
	// Err is the reason the loop exited on its own, nil after a clean stop.
	Err() error
}

type StreamConfig struct {
	Sinks          Sinks
	Cadence        time.Duration
	PublishTimeout time.Duration
	Clock          Clock
	Generator      *Generator
	// NewID overrides device id generation.
	NewID func(Kind) string
}

func (c StreamConfig) withDefaults() StreamConfig {
	c.Sinks = c.Sinks.withDefaults()
	if c.Cadence <= 0 {
		c.Cadence = DefaultCadence
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
	if c.Generator == nil {
		c.Generator = defaultGenerator
	}
	if c.NewID == nil {
		c.NewID = NewDeviceID
	}
	return c
}

// runner carries the state shared by both stream kinds. The execution loop
// owns everything below the mutex except state, which is read concurrently.
type runner struct {
	identity Identity
	patient  *PatientContext
	cfg      StreamConfig
	log      *logrus.Entry

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	err      error

	state atomic.Int32
}

func newRunner(kind Kind, patient *PatientContext, cfg StreamConfig) *runner {
	cfg = cfg.withDefaults()
	id := cfg.NewID(kind)
	var patientID string
	if patient != nil {
		patientID = patient.PatientID
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &runner{
		identity: Identity{ID: id, Kind: kind},
		patient:  patient,
		cfg:      cfg,
		log:      logger.WithDevice(id, string(kind), patientID),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (r *runner) Identity() Identity       { return r.identity }
func (r *runner) Patient() *PatientContext { return r.patient }
func (r *runner) State() RunState          { return RunState(r.state.Load()) }
func (r *runner) Done() <-chan struct{}    { return r.done }

func (r *runner) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *runner) start(loop func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != StateCreated {
		return deviceErr("start", r.identity.ID, ErrAlreadyStarted)
	}
	r.state.Store(int32(StateRunning))
	r.log.Info("stream started")

	go func() {
		err := loop(r.ctx)
		r.err = err
		r.state.Store(int32(StateStopped))
		if err != nil {
			metrics.ObserveTermination(string(r.identity.Kind), true)
			r.log.WithError(err).Error("stream terminated")
		} else {
			metrics.ObserveTermination(string(r.identity.Kind), false)
			r.log.Info("stream stopped")
		}
		close(r.done)
	}()
	return nil
}

// halt moves the stream towards Stopped and sets the cancellation signal.
func (r *runner) halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		r.cancel()
		close(r.done)
		return
	}
	// The loop may have stopped on its own already; never move it backwards.
	r.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested))
	r.cancel()
}

// stop runs beforeCancel at most once, and only for a stream that was
// started, then cancels the loop and waits for it.
func (r *runner) stop(ctx context.Context, beforeCancel func() error) error {
	var err error
	r.stopOnce.Do(func() {
		if beforeCancel != nil && r.State() != StateCreated {
			err = beforeCancel()
		}
		r.halt()
	})
	if werr := r.wait(ctx); werr != nil {
		return werr
	}
	return err
}

func (r *runner) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return deviceErr("stop", r.identity.ID, ctx.Err())
	}
}

// sleep waits one cadence interval. It reports false when the stream was
// cancelled in the meantime.
func (r *runner) sleep(ctx context.Context, ticker Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C():
		return ctx.Err() == nil
	}
}

func (r *runner) publish(plane string, p Publisher, topic, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return deviceErr("encode", r.identity.ID, err)
	}

	// Publishes are not tied to the stream context: a stop never aborts a
	// message that is already in flight.
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PublishTimeout)
	defer cancel()

	err = p.Publish(ctx, topic, key, body)
	metrics.ObservePublish(plane, string(r.identity.Kind), err)
	if err != nil {
		return deviceErr("publish "+topic, r.identity.ID, fmt.Errorf("%w: %w", ErrSinkUnavailable, err))
	}
	return nil
}
