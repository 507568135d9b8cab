package models

import (
	"time"
)

// InvalidationEvent is one audit record per invalidation request, whether
// the proxy purge succeeded or not.
type InvalidationEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Target     string    `gorm:"not null;index"`
	Scope      string    `gorm:"not null"` // "global" or "route"
	IssuedAt   time.Time `gorm:"not null;index"`
	PurgeOK    bool      `gorm:"not null"`
	PurgeError string
	CreatedAt  time.Time
}

func (InvalidationEvent) TableName() string {
	return "invalidation_events"
}
