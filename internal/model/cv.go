package model

import (
	"time"
)

// CVStatus 简历处理状态
type CVStatus string

const (
	CVStatusUploaded   CVStatus = "UPLOADED"
	CVStatusProcessing CVStatus = "PROCESSING"
	CVStatusCompleted  CVStatus = "COMPLETED"
	CVStatusFailed     CVStatus = "FAILED"
	// CVStatusRetry 预留给自动重试，目前没有代码路径会写入
	CVStatusRetry CVStatus = "RETRY"
)

var cvStatuses = map[CVStatus]struct{}{
	CVStatusUploaded:   {},
	CVStatusProcessing: {},
	CVStatusCompleted:  {},
	CVStatusFailed:     {},
	CVStatusRetry:      {},
}

// IsValid 是否为合法的状态值
func (s CVStatus) IsValid() bool {
	_, ok := cvStatuses[s]
	return ok
}

// IsTerminal COMPLETED 和 FAILED 之后流水线不再推进
func (s CVStatus) IsTerminal() bool {
	return s == CVStatusCompleted || s == CVStatusFailed
}

type CV struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	UserID           int64      `gorm:"not null;index" json:"user_id"`
	OriginalFilename string     `gorm:"size:255;not null" json:"original_filename"`
	StorageKey       string     `gorm:"size:500;not null;uniqueIndex" json:"storage_key"`
	FileSize         int64      `gorm:"not null" json:"file_size"`
	MimeType         string     `gorm:"size:100;not null" json:"mime_type"`
	Status           CVStatus   `gorm:"size:20;default:UPLOADED;index" json:"status"`
	// ExtractionJobID 当前负责该简历的提取任务，重置后清空
	ExtractionJobID string     `gorm:"size:64;not null;default:''" json:"-"`
	ExtractedText    *string    `gorm:"type:longtext" json:"-"`
	UploadedAt       time.Time  `gorm:"index" json:"uploaded_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// 关联
	Analysis *CVAnalysis      `gorm:"foreignKey:CVID;constraint:OnDelete:CASCADE" json:"analysis,omitempty"`
	Logs     []*ProcessingLog `gorm:"foreignKey:CVID;constraint:OnDelete:CASCADE" json:"-"`
}

func (CV) TableName() string {
	return "cvs"
}

// HasText 抽取阶段是否已成功写入文本
func (c *CV) HasText() bool {
	return c.ExtractedText != nil && *c.ExtractedText != ""
}
