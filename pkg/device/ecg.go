package device

import (
	"context"
	"sync/atomic"
)

// ECGStream simulates an ECG belt. It announces itself on the control plane,
// then streams one waveform packet per cadence interval.
type ECGStream struct {
	*runner
	packetNo atomic.Int64
}

// NewECGStream builds a stream for patient. A stream without a patient is
// rejected by the registry.
func NewECGStream(patient *PatientContext, cfg StreamConfig) *ECGStream {
	return &ECGStream{runner: newRunner(KindECG, patient, cfg)}
}

func (s *ECGStream) Start() error {
	return s.start(s.run)
}

// Stop sends the stop command before cancelling the loop, so the control
// plane hears about it even when the loop is mid-cycle.
func (s *ECGStream) Stop(ctx context.Context) error {
	return s.stop(ctx, s.sendStopCommand)
}

// PacketsSent is the number of the last packet handed to the data plane.
func (s *ECGStream) PacketsSent() int64 {
	return s.packetNo.Load()
}

func (s *ECGStream) run(ctx context.Context) error {
	if err := s.sendStartCommand(); err != nil {
		return err
	}

	ticker := s.cfg.Clock.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.sendPacket(); err != nil {
			return err
		}
		if !s.sleep(ctx, ticker) {
			return nil
		}
	}
}

func (s *ECGStream) sendPacket() error {
	next := s.packetNo.Load() + 1
	payload := s.cfg.Generator.ECG(s.patient, s.identity.ID, next, s.cfg.Clock.Now())
	sinks := s.cfg.Sinks
	if err := s.publish(PlaneData, sinks.Data, sinks.DataTopic, s.patient.PatientID, payload); err != nil {
		return err
	}
	s.packetNo.Store(next)
	return nil
}

func (s *ECGStream) sendStartCommand() error {
	sinks := s.cfg.Sinks
	if err := s.publish(PlaneControl, sinks.Control, sinks.StartTopic, "", NewStartCommand(s.identity.ID, s.patient)); err != nil {
		return err
	}
	s.log.WithField("topic", sinks.StartTopic).Info("sent start command")
	return nil
}

func (s *ECGStream) sendStopCommand() error {
	sinks := s.cfg.Sinks
	if err := s.publish(PlaneControl, sinks.Control, sinks.ActionTopic, "", NewStopCommand(s.identity.ID)); err != nil {
		s.log.WithError(err).Warn("failed to send stop command")
		return err
	}
	s.log.WithField("topic", sinks.ActionTopic).Info("sent stop command")
	return nil
}
