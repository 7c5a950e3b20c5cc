package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
)

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrCancelled        = errors.New("selection cancelled")
	ErrNotECG           = errors.New("device is not an ECG stream")
)

// Service turns operator intents into registry operations. It owns patient
// generation so that a paired vitals stream always reuses its ECG's context.
type Service struct {
	registry  *device.Registry
	streamCfg device.StreamConfig
	generator *device.Generator
}

func NewService(registry *device.Registry, streamCfg device.StreamConfig) *Service {
	gen := streamCfg.Generator
	if gen == nil {
		gen = device.NewGenerator(time.Now().UnixNano())
		streamCfg.Generator = gen
	}
	return &Service{registry: registry, streamCfg: streamCfg, generator: gen}
}

// StartECG starts an ECG stream for a freshly generated patient.
func (s *Service) StartECG(ctx context.Context) (device.Entry, error) {
	patient := s.generator.NewPatient(device.PairedPatientPrefix)
	stream := device.NewECGStream(patient, s.streamCfg)
	id, err := s.registry.RegisterECG(stream)
	if err != nil {
		return device.Entry{}, fmt.Errorf("starting ECG stream: %w", err)
	}
	return s.lookup(id)
}

// AddVitals starts a vitals stream sharing the patient of the given ECG
// stream.
func (s *Service) AddVitals(ctx context.Context, ecgID string) (device.Entry, error) {
	ecg, ok := s.registry.Lookup(ecgID)
	if !ok {
		return device.Entry{}, &device.DeviceError{Op: "add vitals", DeviceID: ecgID, Err: device.ErrUnknownDevice}
	}
	if ecg.Category != device.CategoryECG {
		return device.Entry{}, &device.DeviceError{Op: "add vitals", DeviceID: ecgID, Err: ErrNotECG}
	}
	if ecg.PairedWith != "" {
		return device.Entry{}, &device.DeviceError{Op: "add vitals", DeviceID: ecgID, Err: device.ErrAlreadyPaired}
	}

	stream := device.NewVitalsStream(ecg.Patient(), s.streamCfg)
	if err := s.registry.Associate(ecgID, stream); err != nil {
		return device.Entry{}, fmt.Errorf("pairing vitals stream: %w", err)
	}
	return s.lookup(stream.Identity().ID)
}

// StartLonelyVitals starts an unpaired vitals stream for its own patient.
func (s *Service) StartLonelyVitals(ctx context.Context) (device.Entry, error) {
	patient := s.generator.NewPatient(device.LonelyPatientPrefix)
	stream := device.NewVitalsStream(patient, s.streamCfg)
	if err := s.registry.RegisterVitals(stream, ""); err != nil {
		return device.Entry{}, fmt.Errorf("starting vitals stream: %w", err)
	}
	return s.lookup(stream.Identity().ID)
}

// RemoveVitals stops the vitals stream paired with ecgID and leaves the ECG
// stream running.
func (s *Service) RemoveVitals(ctx context.Context, ecgID string) error {
	if err := s.registry.Disassociate(ctx, ecgID); err != nil {
		return fmt.Errorf("removing vitals stream: %w", err)
	}
	return nil
}

func (s *Service) Stop(ctx context.Context, id string) error {
	if err := s.registry.Stop(ctx, id); err != nil {
		return fmt.Errorf("stopping stream: %w", err)
	}
	return nil
}

func (s *Service) List() []device.Entry {
	return s.registry.List()
}

func (s *Service) Lookup(id string) (device.Entry, bool) {
	return s.registry.Lookup(id)
}

func (s *Service) Shutdown(ctx context.Context) error {
	logger.Log.WithField("streams", s.registry.Len()).Info("stopping all streams")
	return s.registry.Shutdown(ctx)
}

// PairableECG lists ECG streams that have no vitals stream yet.
func (s *Service) PairableECG() []device.Entry {
	return s.filter(func(e device.Entry) bool {
		return e.Category == device.CategoryECG && e.PairedWith == ""
	})
}

// PairedECG lists ECG streams that have a vitals stream.
func (s *Service) PairedECG() []device.Entry {
	return s.filter(func(e device.Entry) bool {
		return e.Category == device.CategoryECG && e.PairedWith != ""
	})
}

// StoppableStreams lists the streams an operator may stop directly: ECG
// streams and lonely vitals streams.
func (s *Service) StoppableStreams() []device.Entry {
	return s.filter(func(e device.Entry) bool {
		return e.Category == device.CategoryECG || e.Category == device.CategoryLonely
	})
}

func (s *Service) filter(keep func(device.Entry) bool) []device.Entry {
	var out []device.Entry
	for _, e := range s.registry.List() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Service) lookup(id string) (device.Entry, error) {
	entry, ok := s.registry.Lookup(id)
	if !ok {
		// The stream died between registration and lookup.
		return device.Entry{}, &device.DeviceError{Op: "lookup", DeviceID: id, Err: device.ErrUnknownDevice}
	}
	return entry, nil
}

// Select resolves a 1-based menu choice. Zero cancels.
func Select(options []device.Entry, choice int) (device.Entry, error) {
	if choice == 0 {
		return device.Entry{}, ErrCancelled
	}
	if choice < 0 || choice > len(options) {
		return device.Entry{}, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidSelection, choice, len(options))
	}
	return options[choice-1], nil
}
