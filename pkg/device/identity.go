package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindECG    Kind = "ECG"
	KindVitals Kind = "Vitals"
)

const (
	ecgIDPrefix    = "SIM-BELT-"
	vitalsIDPrefix = "SIM-LEPU-"

	DefaultFacilityID = "SIM-HOSP"
)

// Identity is the registry key of a stream. It never changes after creation.
type Identity struct {
	ID   string `json:"deviceId"`
	Kind Kind   `json:"deviceKind"`
}

// NewDeviceID returns a prefixed id with a random uuid-derived suffix.
func NewDeviceID(kind Kind) string {
	prefix := vitalsIDPrefix
	if kind == KindECG {
		prefix = ecgIDPrefix
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + strings.ToUpper(suffix)
}

// PatientContext is shared by pointer between an ECG stream and the vitals
// stream paired with it. Treat it as read-only once built.
type PatientContext struct {
	PatientID   string `json:"patientId"`
	FacilityID  string `json:"facilityId"`
	AdmissionID string `json:"admissionId"`
	Name        string `json:"patientName,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Age         int    `json:"age,omitempty"`
}

// SamePatient reports whether both contexts point at the same admission.
func (p *PatientContext) SamePatient(other *PatientContext) bool {
	if p == nil || other == nil {
		return false
	}
	return p.PatientID == other.PatientID &&
		p.FacilityID == other.FacilityID &&
		p.AdmissionID == other.AdmissionID
}

type RunState int32

const (
	StateCreated RunState = iota
	StateRunning
	StateStopRequested
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(text []byte) error {
	for _, candidate := range []RunState{StateCreated, StateRunning, StateStopRequested, StateStopped} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}
