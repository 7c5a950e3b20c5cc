package journal

import (
	"time"

	"gorm.io/datatypes"
)

// Record is one lifecycle transition of a simulated device.
type Record struct {
	ID          string            `json:"id" gorm:"primaryKey;column:id"`
	DeviceID    string            `json:"device_id" gorm:"column:device_id;index"`
	DeviceKind  string            `json:"device_kind" gorm:"column:device_kind"`
	Category    string            `json:"category" gorm:"column:category"`
	PatientID   string            `json:"patient_id" gorm:"column:patient_id;index"`
	AdmissionID string            `json:"admission_id" gorm:"column:admission_id"`
	Event       string            `json:"event" gorm:"column:event"`
	Error       string            `json:"error,omitempty" gorm:"column:error"`
	Details     datatypes.JSONMap `json:"details,omitempty" gorm:"column:details"`
	OccurredAt  time.Time         `json:"occurred_at" gorm:"column:occurred_at"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (Record) TableName() string {
	return "device_lifecycle_events"
}
