package tap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
	"github.com/synaptica-ai/bedside-sim/pkg/observability/metrics"
)

const (
	FindingMalformed   = "malformed"
	FindingKeyMismatch = "key_mismatch"
	FindingPacketGap   = "packet_gap"
	FindingRegression  = "packet_regression"
	FindingCadence     = "vitals_cadence"
)

type Finding struct {
	Kind     string `json:"kind"`
	DeviceID string `json:"deviceId,omitempty"`
	Detail   string `json:"detail"`
}

// DeviceStats accumulates what one device has put on the data topic.
type DeviceStats struct {
	Kind         device.Kind `json:"deviceKind"`
	PatientID    string      `json:"patientId"`
	Messages     int         `json:"messages"`
	LastPacketNo int64       `json:"lastPacketNo,omitempty"`
	FullReadings int         `json:"fullReadings,omitempty"`
	SpO2Readings int         `json:"spo2Readings,omitempty"`
	Gaps         int         `json:"gaps,omitempty"`
	Regressions  int         `json:"regressions,omitempty"`
	CadenceDrift int         `json:"cadenceDrift,omitempty"`

	lastReading int64
	lastFull    int64
}

type Stats struct {
	Messages int                    `json:"messages"`
	Findings map[string]int         `json:"findings"`
	Devices  map[string]DeviceStats `json:"devices"`
}

// envelope holds just enough of a record to tell ECG packets from vitals
// readings.
type envelope struct {
	PatientID string          `json:"patientId"`
	PacketNo  *int64          `json:"packetNo"`
	SpO2      json.RawMessage `json:"spo2"`
}

// Verifier checks records on the vitals topic: ECG packet numbers must climb
// by one per device, vitals readings must follow the monitor schedule and
// every record must be keyed by its patient id.
type Verifier struct {
	mu       sync.Mutex
	cadence  time.Duration
	messages int
	findings map[string]int
	devices  map[string]*DeviceStats
}

// NewVerifier builds a verifier for streams ticking at cadence. A
// non-positive cadence disables the vitals schedule check.
func NewVerifier(cadence time.Duration) *Verifier {
	return &Verifier{
		cadence:  cadence,
		findings: make(map[string]int),
		devices:  make(map[string]*DeviceStats),
	}
}

// Inspect records one message and returns what was wrong with it, if
// anything.
func (v *Verifier) Inspect(key, value []byte) []Finding {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages++

	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return v.report(Finding{Kind: FindingMalformed, Detail: err.Error()})
	}

	var findings []Finding
	switch {
	case env.PacketNo != nil:
		var p device.ECGPayload
		if err := json.Unmarshal(value, &p); err != nil {
			return v.report(Finding{Kind: FindingMalformed, Detail: err.Error()})
		}
		findings = v.inspectECG(p)
	case len(env.SpO2) > 0:
		var p device.VitalsPayload
		if err := json.Unmarshal(value, &p); err != nil {
			return v.report(Finding{Kind: FindingMalformed, Detail: err.Error()})
		}
		findings = v.inspectVitals(p)
	default:
		return v.report(Finding{Kind: FindingMalformed, Detail: "neither an ECG packet nor a vitals reading"})
	}

	if string(key) != env.PatientID {
		findings = append(findings, Finding{
			Kind:   FindingKeyMismatch,
			Detail: fmt.Sprintf("key %q, patientId %q", key, env.PatientID),
		})
	}
	return v.report(findings...)
}

func (v *Verifier) inspectECG(p device.ECGPayload) []Finding {
	st, seen := v.deviceLocked(p.DeviceID, device.KindECG, p.PatientID)
	st.Messages++
	if !seen {
		// The tap may join a stream that is already running.
		st.LastPacketNo = p.PacketNo
		return nil
	}

	var findings []Finding
	last := st.LastPacketNo
	switch {
	case p.PacketNo <= last:
		st.Regressions++
		findings = append(findings, Finding{
			Kind:     FindingRegression,
			DeviceID: p.DeviceID,
			Detail:   fmt.Sprintf("packetNo %d after %d", p.PacketNo, last),
		})
	case p.PacketNo > last+1:
		st.Gaps++
		findings = append(findings, Finding{
			Kind:     FindingPacketGap,
			DeviceID: p.DeviceID,
			Detail:   fmt.Sprintf("packetNo %d after %d", p.PacketNo, last),
		})
	}
	if p.PacketNo > last {
		st.LastPacketNo = p.PacketNo
	}
	return findings
}

func (v *Verifier) inspectVitals(p device.VitalsPayload) []Finding {
	st, seen := v.deviceLocked(p.DeviceID, device.KindVitals, p.PatientID)
	st.Messages++
	full := p.BP != nil
	if full {
		st.FullReadings++
	} else {
		st.SpO2Readings++
	}

	var findings []Finding
	if seen && v.cadence > 0 {
		if f, ok := v.checkSpacing(p, st.lastReading, device.SpO2ReadingEvery, "reading"); ok {
			findings = append(findings, f)
		}
		if full && st.lastFull != 0 {
			if f, ok := v.checkSpacing(p, st.lastFull, device.FullReadingEvery, "full reading"); ok {
				findings = append(findings, f)
			}
		}
	}
	st.CadenceDrift += len(findings)

	st.lastReading = p.EpochTime
	if full {
		st.lastFull = p.EpochTime
	}
	return findings
}

// checkSpacing compares the time since the previous reading with ticks
// cadence intervals. epochTime has one second resolution, so the allowed
// drift is one cadence interval plus a second.
func (v *Verifier) checkSpacing(p device.VitalsPayload, previous int64, ticks int, what string) (Finding, bool) {
	want := time.Duration(ticks) * v.cadence
	got := time.Duration(p.EpochTime-previous) * time.Second
	drift := got - want
	if drift < 0 {
		drift = -drift
	}
	if drift <= v.cadence+time.Second {
		return Finding{}, false
	}
	return Finding{
		Kind:     FindingCadence,
		DeviceID: p.DeviceID,
		Detail:   fmt.Sprintf("%s after %s, expected %s", what, got, want),
	}, true
}

// deviceLocked returns the stats for id and whether the device was seen
// before.
func (v *Verifier) deviceLocked(id string, kind device.Kind, patientID string) (*DeviceStats, bool) {
	st, ok := v.devices[id]
	if !ok {
		st = &DeviceStats{Kind: kind, PatientID: patientID}
		v.devices[id] = st
	}
	return st, ok
}

func (v *Verifier) report(findings ...Finding) []Finding {
	for _, f := range findings {
		v.findings[f.Kind]++
		metrics.ObserveFinding(f.Kind)
	}
	return findings
}

// Handle adapts the verifier to a Kafka message handler. Findings are
// logged, never returned, so the consumer keeps committing.
func (v *Verifier) Handle(ctx context.Context, key, value []byte) error {
	for _, f := range v.Inspect(key, value) {
		logger.Log.WithFields(logrus.Fields{
			"finding":   f.Kind,
			"device_id": f.DeviceID,
			"key":       string(key),
		}).Warn(f.Detail)
	}
	return nil
}

// Stats returns a copy of the counters collected so far.
func (v *Verifier) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := Stats{
		Messages: v.messages,
		Findings: make(map[string]int, len(v.findings)),
		Devices:  make(map[string]DeviceStats, len(v.devices)),
	}
	for k, n := range v.findings {
		out.Findings[k] = n
	}
	for id, st := range v.devices {
		out.Devices[id] = *st
	}
	return out
}
