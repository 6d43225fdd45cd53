package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/internal/model"
)

type ProcessingLogRepository struct {
	db *gorm.DB
}

func NewProcessingLogRepository(db *gorm.DB) *ProcessingLogRepository {
	return &ProcessingLogRepository{db: db}
}

func (r *ProcessingLogRepository) Create(entry *model.ProcessingLog) error {
	return r.db.Create(entry).Error
}

// ListByCVID 按创建顺序返回日志
func (r *ProcessingLogRepository) ListByCVID(cvID int64) ([]*model.ProcessingLog, error) {
	var entries []*model.ProcessingLog
	err := r.db.Where("cv_id = ?", cvID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}
