package device

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	ECGSampleCount = 125

	ecgDeviceType       = "Belt"
	ecgRhythmType       = "SR"
	controlServiceID    = "arrhythmia"
	controlProviderID   = "presense"
	controlDeviceType   = "BIOSENSOR_NEXUS"
	controlActionStop   = "stop"
	patientNamePrefix   = "Simulated Patient"
	admissionIDPrefix   = "ADM-"
	PairedPatientPrefix = "SIM-PAT-"
	LonelyPatientPrefix = "SIM-LONE-"
)

type ECGPayload struct {
	FacilityID       string    `json:"facilityId"`
	PatientID        string    `json:"patientId"`
	AdmissionID      string    `json:"admissionId"`
	DeviceID         string    `json:"deviceId"`
	DeviceType       string    `json:"deviceType"`
	PatientName      string    `json:"patientName"`
	Gender           string    `json:"gender"`
	Age              int       `json:"age"`
	CurrentTimestamp int64     `json:"currentTimestamp"`
	PacketNo         int64     `json:"packetNo"`
	ECGChannelA      []float64 `json:"ECG_CH_A"`
	HR               int       `json:"HR"`
	RR               int       `json:"RR"`
	RhythmType       string    `json:"rhythmType"`
}

type SpO2Reading struct {
	SpO2      int `json:"spo2"`
	PulseRate int `json:"pulseRate"`
}

type BloodPressure struct {
	Systolic  int `json:"bpSystolic"`
	Diastolic int `json:"bpDiastolic"`
}

type VitalsPayload struct {
	PatientID   string         `json:"patientId"`
	FacilityID  string         `json:"facilityId"`
	AdmissionID string         `json:"admissionId"`
	DeviceID    string         `json:"deviceID"`
	EpochTime   int64          `json:"epochTime"`
	SpO2        SpO2Reading    `json:"spo2"`
	BP          *BloodPressure `json:"bp,omitempty"`
}

type StartCommand struct {
	PatchID    string `json:"patchId"`
	FacilityID string `json:"facilityId"`
	ServiceID  string `json:"serviceId"`
	ProviderID string `json:"providerId"`
	PatientID  string `json:"patientId"`
	DeviceType string `json:"deviceType"`
}

type StopCommand struct {
	PatchID string `json:"patchId"`
	Action  string `json:"action"`
}

func NewStartCommand(deviceID string, p *PatientContext) StartCommand {
	return StartCommand{
		PatchID:    deviceID,
		FacilityID: p.FacilityID,
		ServiceID:  controlServiceID,
		ProviderID: controlProviderID,
		PatientID:  p.PatientID,
		DeviceType: controlDeviceType,
	}
}

func NewStopCommand(deviceID string) StopCommand {
	return StopCommand{PatchID: deviceID, Action: controlActionStop}
}

// Generator draws uniform random telemetry. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

var defaultGenerator = NewGenerator(time.Now().UnixNano())

// between returns a uniform int in [min, max].
func (g *Generator) between(min, max int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return min + g.rnd.Intn(max-min+1)
}

func (g *Generator) digits(n int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + g.rnd.Intn(10)))
	}
	return b.String()
}

func (g *Generator) samples(n int) []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		v := g.rnd.Float64() - 0.5
		out[i] = math.Round(v*1e4) / 1e4
	}
	return out
}

// NewPatient builds a patient admitted to the simulated facility. prefix is
// PairedPatientPrefix for belt patients and LonelyPatientPrefix otherwise.
func (g *Generator) NewPatient(prefix string) *PatientContext {
	gender := "Male"
	if g.between(0, 1) == 1 {
		gender = "Female"
	}
	return &PatientContext{
		PatientID:   prefix + g.digits(4),
		FacilityID:  DefaultFacilityID,
		AdmissionID: admissionIDPrefix + g.digits(6),
		Name:        fmt.Sprintf("%s %d", patientNamePrefix, g.between(100, 999)),
		Gender:      gender,
		Age:         g.between(30, 80),
	}
}

func (g *Generator) ECG(p *PatientContext, deviceID string, packetNo int64, now time.Time) ECGPayload {
	return ECGPayload{
		FacilityID:       p.FacilityID,
		PatientID:        p.PatientID,
		AdmissionID:      p.AdmissionID,
		DeviceID:         deviceID,
		DeviceType:       ecgDeviceType,
		PatientName:      p.Name,
		Gender:           p.Gender,
		Age:              p.Age,
		CurrentTimestamp: now.UnixMilli(),
		PacketNo:         packetNo,
		ECGChannelA:      g.samples(ECGSampleCount),
		HR:               g.between(65, 95),
		RR:               g.between(16, 22),
		RhythmType:       ecgRhythmType,
	}
}

// Vitals returns an SpO2 reading, plus blood pressure when full is set.
func (g *Generator) Vitals(p *PatientContext, deviceID string, full bool, now time.Time) VitalsPayload {
	payload := VitalsPayload{
		PatientID:   p.PatientID,
		FacilityID:  p.FacilityID,
		AdmissionID: p.AdmissionID,
		DeviceID:    deviceID,
		EpochTime:   now.Unix(),
		SpO2: SpO2Reading{
			SpO2:      g.between(95, 99),
			PulseRate: g.between(60, 100),
		},
	}
	if full {
		payload.BP = &BloodPressure{
			Systolic:  g.between(115, 135),
			Diastolic: g.between(75, 90),
		}
	}
	return payload
}
