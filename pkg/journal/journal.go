package journal

import (
	"context"
	"time"

	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
	"gorm.io/datatypes"
)

const writeTimeout = 5 * time.Second

type Store interface {
	Create(ctx context.Context, rec *Record) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Record, error)
}

// Journal records registry events. Write failures are logged and never
// reach the registry.
type Journal struct {
	store Store
}

func New(store Store) *Journal {
	return &Journal{store: store}
}

func (j *Journal) Observe(ev device.Event) {
	rec := FromEvent(ev)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.store.Create(ctx, rec); err != nil {
		logger.Log.WithError(err).WithField("device_id", rec.DeviceID).Warn("failed to journal lifecycle event")
	}
}

func (j *Journal) History(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	return j.store.ListByDevice(ctx, deviceID, limit)
}

func FromEvent(ev device.Event) *Record {
	rec := &Record{
		DeviceID:    ev.Entry.DeviceID,
		DeviceKind:  string(ev.Entry.Kind),
		Category:    string(ev.Entry.Category),
		PatientID:   ev.Entry.PatientID,
		AdmissionID: ev.Entry.AdmissionID,
		Event:       string(ev.Type),
		OccurredAt:  ev.At.UTC(),
		Details: datatypes.JSONMap{
			"facility_id": ev.Entry.FacilityID,
			"state":       ev.Entry.State.String(),
		},
	}
	if ev.Entry.PairedWith != "" {
		rec.Details["paired_with"] = ev.Entry.PairedWith
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}
