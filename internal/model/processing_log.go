package model

import (
	"time"
)

// ProcessingLog 简历处理审计日志，只追加不修改
type ProcessingLog struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	CVID      int64     `gorm:"column:cv_id;not null;index:idx_log_cv_created,priority:1" json:"cv_id"`
	Status    string    `gorm:"size:30;not null" json:"status"`
	Message   string    `gorm:"type:text" json:"message"`
	Error     *string   `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_log_cv_created,priority:2" json:"created_at"`
}

func (ProcessingLog) TableName() string {
	return "processing_logs"
}
