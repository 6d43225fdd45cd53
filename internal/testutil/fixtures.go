package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/internal/model"
)

// TestCV 创建测试简历
func TestCV(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.CV)) *model.CV {
	t.Helper()

	now := time.Now()
	filename := fmt.Sprintf("resume_%d.pdf", now.UnixNano())
	cv := &model.CV{
		UserID:           userID,
		OriginalFilename: filename,
		StorageKey:       fmt.Sprintf("users/%d/cvs/%d-%s", userID, now.UnixNano(), filename),
		FileSize:         2048,
		MimeType:         "application/pdf",
		Status:           model.CVStatusUploaded,
		UploadedAt:       now,
	}

	for _, opt := range opts {
		opt(cv)
	}

	if err := db.Create(cv).Error; err != nil {
		t.Fatalf("Failed to create test cv: %v", err)
	}

	return cv
}

// WithStatus 设置状态
func WithStatus(status model.CVStatus) func(*model.CV) {
	return func(c *model.CV) {
		c.Status = status
	}
}

// WithMimeType 设置 MIME 类型
func WithMimeType(mimeType string) func(*model.CV) {
	return func(c *model.CV) {
		c.MimeType = mimeType
	}
}

// WithFilename 设置文件名
func WithFilename(filename string) func(*model.CV) {
	return func(c *model.CV) {
		c.OriginalFilename = filename
	}
}

// WithExtractedText 设置已抽取文本
func WithExtractedText(text string) func(*model.CV) {
	return func(c *model.CV) {
		c.ExtractedText = &text
	}
}

// WithExtractionJob 设置负责提取的任务
func WithExtractionJob(jobID string) func(*model.CV) {
	return func(c *model.CV) {
		c.ExtractionJobID = jobID
	}
}

// TestAnalysis 创建测试评分结果
func TestAnalysis(t *testing.T, db *gorm.DB, cvID int64, overall int) *model.CVAnalysis {
	t.Helper()

	analysis := &model.CVAnalysis{
		CVID:            cvID,
		ExperienceScore: overall,
		EducationScore:  overall,
		SkillsScore:     overall,
		OverallScore:    overall,
		KeySkills:       model.StringArray{"Go"},
		ModelName:       "test-model",
	}

	if err := db.Create(analysis).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}

	return analysis
}

// TestLog 创建测试日志
func TestLog(t *testing.T, db *gorm.DB, cvID int64, status model.CVStatus, message string) *model.ProcessingLog {
	t.Helper()

	entry := &model.ProcessingLog{
		CVID:    cvID,
		Status:  string(status),
		Message: message,
	}

	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("Failed to create test log: %v", err)
	}

	return entry
}
