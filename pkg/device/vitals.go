package device

import (
	"context"
	"sync/atomic"
)

const (
	FullReadingEvery = 180
	SpO2ReadingEvery = 30
)

// ReadingDue reports what a vitals monitor emits on a given tick. A tick that
// is a multiple of both periods yields a single full reading.
func ReadingDue(tick int) (due, full bool) {
	switch {
	case tick%FullReadingEvery == 0:
		return true, true
	case tick%SpO2ReadingEvery == 0:
		return true, false
	default:
		return false, false
	}
}

// VitalsStream simulates a BP/SpO2 monitor. It has no control-plane traffic
// and knows nothing about pairing.
type VitalsStream struct {
	*runner
	readings atomic.Int64
}

func NewVitalsStream(patient *PatientContext, cfg StreamConfig) *VitalsStream {
	return &VitalsStream{runner: newRunner(KindVitals, patient, cfg)}
}

func (s *VitalsStream) Start() error {
	return s.start(s.run)
}

func (s *VitalsStream) Stop(ctx context.Context) error {
	return s.stop(ctx, nil)
}

// ReadingsSent counts payloads handed to the data plane, initial one included.
func (s *VitalsStream) ReadingsSent() int64 {
	return s.readings.Load()
}

func (s *VitalsStream) run(ctx context.Context) error {
	// The initial full reading is not part of the tick schedule.
	if err := s.sendReading(true); err != nil {
		return err
	}

	ticker := s.cfg.Clock.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	tick := 0
	for s.sleep(ctx, ticker) {
		tick++
		due, full := ReadingDue(tick)
		if !due {
			continue
		}
		if err := s.sendReading(full); err != nil {
			return err
		}
	}
	return nil
}

func (s *VitalsStream) sendReading(full bool) error {
	payload := s.cfg.Generator.Vitals(s.patient, s.identity.ID, full, s.cfg.Clock.Now())
	sinks := s.cfg.Sinks
	if err := s.publish(PlaneData, sinks.Data, sinks.DataTopic, s.patient.PatientID, payload); err != nil {
		return err
	}
	s.readings.Add(1)
	if full {
		s.log.Debug("sent bp and spo2 reading")
	} else {
		s.log.Debug("sent spo2 reading")
	}
	return nil
}
