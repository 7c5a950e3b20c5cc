package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

func TestECGStreamStartCommandPrecedesData(t *testing.T) {
	rec := &recorder{}
	clock := newManualClock()
	s := NewECGStream(testPatient(), StreamConfig{Sinks: testSinks(rec), Clock: clock})

	require.NoError(t, s.Start())
	tk := clock.next(t)
	tk.advance(t, 4)
	require.Eventually(t, func() bool { return rec.count(DefaultDataTopic) == 5 }, waitFor, pollEvery)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())

	msgs := rec.messages()
	require.GreaterOrEqual(t, len(msgs), 7)
	assert.Equal(t, DefaultStartTopic, msgs[0].Topic)
	assert.Equal(t, DefaultActionTopic, msgs[len(msgs)-1].Topic)

	start := decode(t, msgs[0])
	assert.Equal(t, s.Identity().ID, start["patchId"])
	assert.Equal(t, "arrhythmia", start["serviceId"])
	assert.Equal(t, "SIM-PAT-0001", start["patientId"])

	stop := decode(t, msgs[len(msgs)-1])
	assert.Equal(t, s.Identity().ID, stop["patchId"])
	assert.Equal(t, "stop", stop["action"])
}

func TestECGStreamPacketNumbersStrictlyIncrease(t *testing.T) {
	rec := &recorder{}
	clock := newManualClock()
	s := NewECGStream(testPatient(), StreamConfig{Sinks: testSinks(rec), Clock: clock})
	require.NoError(t, s.Start())

	clock.next(t).advance(t, 30)
	require.Eventually(t, func() bool { return rec.count(DefaultDataTopic) == 31 }, waitFor, pollEvery)
	require.NoError(t, s.Stop(context.Background()))

	data := rec.onTopic(DefaultDataTopic)
	for i, m := range data {
		payload := decode(t, m)
		assert.Equal(t, float64(i+1), payload["packetNo"], "packet %d", i)
		assert.Equal(t, "SIM-PAT-0001", m.Key)
		assert.Equal(t, "Belt", payload["deviceType"])
		assert.NotContains(t, payload, "spo2")
		assert.Len(t, payload["ECG_CH_A"], ECGSampleCount)
	}
	assert.Equal(t, int64(len(data)), s.PacketsSent())
}

func TestVitalsStreamCadenceOverFirst180Ticks(t *testing.T) {
	rec := &recorder{}
	clock := newManualClock()
	s := NewVitalsStream(testPatient(), StreamConfig{Sinks: testSinks(rec), Clock: clock})
	require.NoError(t, s.Start())

	clock.next(t).advance(t, 180)
	require.Eventually(t, func() bool { return rec.count(DefaultDataTopic) == 7 }, waitFor, pollEvery)
	require.NoError(t, s.Stop(context.Background()))

	msgs := rec.messages()
	require.Len(t, msgs, 7, "vitals streams never touch the control plane")

	var full, spo2Only int
	for _, m := range msgs {
		payload := decode(t, m)
		assert.Contains(t, payload, "spo2")
		if _, ok := payload["bp"]; ok {
			full++
		} else {
			spo2Only++
		}
	}
	assert.Equal(t, 2, full)
	assert.Equal(t, 5, spo2Only)
	assert.Contains(t, decode(t, msgs[0]), "bp")
	assert.Contains(t, decode(t, msgs[6]), "bp")
	assert.Equal(t, int64(7), s.ReadingsSent())
}

func TestVitalsStreamFirstSpO2ReadingAtTick30(t *testing.T) {
	rec := &recorder{}
	clock := newManualClock()
	s := NewVitalsStream(testPatient(), StreamConfig{Sinks: testSinks(rec), Clock: clock})
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	// The ticker only exists once the initial reading went out.
	tk := clock.next(t)
	tk.advance(t, 29)
	assert.Equal(t, 1, rec.count(DefaultDataTopic))

	tk.advance(t, 1)
	require.Eventually(t, func() bool { return rec.count(DefaultDataTopic) == 2 }, waitFor, pollEvery)

	msgs := rec.messages()
	assert.Contains(t, decode(t, msgs[0]), "bp")
	assert.NotContains(t, decode(t, msgs[1]), "bp")
}

func TestReadingDue(t *testing.T) {
	cases := []struct {
		tick      int
		due, full bool
	}{
		{1, false, false},
		{29, false, false},
		{30, true, false},
		{150, true, false},
		{180, true, true},
		{210, true, false},
		{360, true, true},
	}
	for _, tc := range cases {
		due, full := ReadingDue(tc.tick)
		assert.Equal(t, tc.due, due, "tick %d", tc.tick)
		assert.Equal(t, tc.full, full, "tick %d", tc.tick)
	}
}

func TestStreamPublishFailureTerminatesLoop(t *testing.T) {
	rec := &recorder{}
	rec.fail.Store(true)
	s := NewVitalsStream(testPatient(), StreamConfig{Sinks: testSinks(rec), Cadence: time.Millisecond})
	require.NoError(t, s.Start())

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("stream kept running after sink failure")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.True(t, errors.Is(s.Err(), ErrSinkUnavailable))
	assert.True(t, errors.Is(s.Err(), errBrokerDown))
}

func TestECGStopCommandSentEvenWhenDataPlaneDied(t *testing.T) {
	control := &recorder{}
	data := &recorder{}
	data.fail.Store(true)
	s := NewECGStream(testPatient(), StreamConfig{Sinks: Sinks{Control: control, Data: data}, Cadence: time.Millisecond})
	require.NoError(t, s.Start())
	<-s.Done()

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, control.count(DefaultStartTopic))
	assert.Equal(t, 1, control.count(DefaultActionTopic))
}

func TestStreamStopIsIdempotent(t *testing.T) {
	rec := &recorder{}
	s := NewECGStream(testPatient(), StreamConfig{Sinks: testSinks(rec), Cadence: time.Millisecond})
	require.NoError(t, s.Start())

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, rec.count(DefaultActionTopic))
}

func TestStreamStopBeforeStart(t *testing.T) {
	rec := &recorder{}
	s := NewECGStream(testPatient(), StreamConfig{Sinks: testSinks(rec)})

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Empty(t, rec.messages(), "a stream that never ran has nothing to announce")
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
}

func TestStreamStopHonoursContext(t *testing.T) {
	entered := make(chan struct{}, 1)
	block := make(chan struct{})
	defer close(block)
	slow := PublisherFunc(func(ctx context.Context, topic, key string, payload []byte) error {
		if topic == DefaultDataTopic {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-block
		}
		return nil
	})
	s := NewECGStream(testPatient(), StreamConfig{Sinks: Sinks{Control: slow, Data: slow}})
	require.NoError(t, s.Start())
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopRequested, s.State())
}
