package repositories

import (
	"cachegate/internal/database/models"

	"gorm.io/gorm"
)

type InvalidationEventRepository interface {
	Create(event *models.InvalidationEvent) error
	FindRecent(limit int) ([]*models.InvalidationEvent, error)
	CountByTarget(target string) (int64, error)
}

type invalidationEventRepo struct {
	db *gorm.DB
}

func NewInvalidationEventRepository(db *gorm.DB) InvalidationEventRepository {
	return &invalidationEventRepo{db: db}
}

func (r *invalidationEventRepo) Create(event *models.InvalidationEvent) error {
	return r.db.Create(event).Error
}

// FindRecent returns the newest events first, capped at limit.
func (r *invalidationEventRepo) FindRecent(limit int) ([]*models.InvalidationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []*models.InvalidationEvent
	err := r.db.Order("issued_at DESC, id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// CountByTarget reports how often a target has been invalidated over the
// lifetime of the audit trail.
func (r *invalidationEventRepo) CountByTarget(target string) (int64, error) {
	var count int64
	err := r.db.Model(&models.InvalidationEvent{}).Where("target = ?", target).Count(&count).Error
	return count, err
}
