package models

import (
	"time"
)

// LogOffset tracks how far into an access log file ingestion has read,
// so a restart resumes instead of double-counting. Inode changes signal
// rotation (SQLite only supports int64, hence the signed column).
type LogOffset struct {
	Path       string `gorm:"primaryKey"`
	Position   int64  `gorm:"default:0"`
	Inode      int64  `gorm:"default:0"`
	LastLine   string
	LastReadAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (LogOffset) TableName() string {
	return "log_offsets"
}
