package repositories

import (
	"time"

	"cachegate/internal/database/models"

	"gorm.io/gorm"
)

type LogOffsetRepository interface {
	FindByPath(path string) (*models.LogOffset, error)
	Save(offset *models.LogOffset) error
	UpdateTracking(path string, position int64, inode uint64, lastLine string) error
}

type logOffsetRepo struct {
	db *gorm.DB
}

func NewLogOffsetRepository(db *gorm.DB) LogOffsetRepository {
	return &logOffsetRepo{db: db}
}

func (r *logOffsetRepo) FindByPath(path string) (*models.LogOffset, error) {
	var offset models.LogOffset
	err := r.db.Where("path = ?", path).First(&offset).Error
	if err != nil {
		return nil, err
	}
	return &offset, nil
}

func (r *logOffsetRepo) Save(offset *models.LogOffset) error {
	return r.db.Save(offset).Error
}

func (r *logOffsetRepo) UpdateTracking(path string, position int64, inode uint64, lastLine string) error {
	now := time.Now()
	return r.db.Exec(
		"UPDATE log_offsets SET position = ?, inode = ?, last_line = ?, last_read_at = ?, updated_at = ? WHERE path = ?",
		position, int64(inode), lastLine, now, now, path,
	).Error
}
