package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/internal/model"
)

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) GetByCVID(cvID int64) (*model.CVAnalysis, error) {
	var analysis model.CVAnalysis
	err := r.db.Where("cv_id = ?", cvID).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (r *AnalysisRepository) ExistsByCVID(cvID int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.CVAnalysis{}).Where("cv_id = ?", cvID).Count(&count).Error
	return count > 0, err
}

func (r *AnalysisRepository) CountByCVID(cvID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.CVAnalysis{}).Where("cv_id = ?", cvID).Count(&count).Error
	return count, err
}
