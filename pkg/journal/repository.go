package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

func (r *Repository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	var records []Record
	if limit <= 0 {
		limit = 100
	}
	result := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&records)
	return records, result.Error
}
