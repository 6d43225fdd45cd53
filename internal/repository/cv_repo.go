package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/internal/model"
)

// ErrStatusConflict 带条件的状态更新没有命中任何记录
var ErrStatusConflict = errors.New("cv status does not allow this transition")

type CVRepository struct {
	db *gorm.DB
}

func NewCVRepository(db *gorm.DB) *CVRepository {
	return &CVRepository{db: db}
}

func (r *CVRepository) Create(cv *model.CV) error {
	return r.db.Create(cv).Error
}

func (r *CVRepository) GetByID(id int64) (*model.CV, error) {
	var cv model.CV
	err := r.db.Where("id = ?", id).First(&cv).Error
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// GetByIDWithAnalysis 同时加载评分结果
func (r *CVRepository) GetByIDWithAnalysis(id int64) (*model.CV, error) {
	var cv model.CV
	err := r.db.Preload("Analysis").Where("id = ?", id).First(&cv).Error
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// ListByUserID 获取用户的简历列表
func (r *CVRepository) ListByUserID(userID int64, page, pageSize int, status string) ([]*model.CV, int64, error) {
	var cvs []*model.CV
	var total int64

	query := r.db.Model(&model.CV{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Preload("Analysis").Order("uploaded_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&cvs).Error; err != nil {
		return nil, 0, err
	}

	return cvs, total, nil
}

// TransitionStatus 仅当当前状态属于 from 时才更新为 to，依赖数据库的行级原子性
func (r *CVRepository) TransitionStatus(id int64, from []model.CVStatus, to model.CVStatus) error {
	result := r.db.Model(&model.CV{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AssignExtractionJob 为尚未登记任务的 UPLOADED 简历记录提取任务
func (r *CVRepository) AssignExtractionJob(id int64, jobID string) error {
	result := r.db.Model(&model.CV{}).
		Where("id = ? AND status = ? AND extraction_job_id = ?", id, model.CVStatusUploaded, "").
		Update("extraction_job_id", jobID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// StartExtraction 把 UPLOADED 简历置为 PROCESSING，并由 jobID 接管；
// 已登记其他任务时返回 ErrStatusConflict
func (r *CVRepository) StartExtraction(id int64, jobID string) error {
	result := r.db.Model(&model.CV{}).
		Where("id = ? AND status = ? AND extraction_job_id IN ?", id, model.CVStatusUploaded, []string{"", jobID}).
		Updates(map[string]interface{}{
			"status":            model.CVStatusProcessing,
			"extraction_job_id": jobID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ResetFailed 把 FAILED 简历重置为 UPLOADED 并清除原任务
func (r *CVRepository) ResetFailed(id int64) error {
	result := r.db.Model(&model.CV{}).
		Where("id = ? AND status = ?", id, model.CVStatusFailed).
		Updates(map[string]interface{}{
			"status":            model.CVStatusUploaded,
			"extraction_job_id": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// SaveExtractedText 写入抽取文本与处理时间，要求简历处于 PROCESSING
func (r *CVRepository) SaveExtractedText(id int64, text string, processedAt time.Time) error {
	result := r.db.Model(&model.CV{}).
		Where("id = ? AND status = ?", id, model.CVStatusProcessing).
		Updates(map[string]interface{}{
			"extracted_text": text,
			"processed_at":   processedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Complete 在同一事务内写入评分结果并把简历置为 COMPLETED
func (r *CVRepository) Complete(analysis *model.CVAnalysis, processedAt time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(analysis).Error; err != nil {
			return err
		}

		result := tx.Model(&model.CV{}).
			Where("id = ? AND status = ?", analysis.CVID, model.CVStatusProcessing).
			Updates(map[string]interface{}{
				"status":       model.CVStatusCompleted,
				"processed_at": processedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStatusConflict
		}
		return nil
	})
}

// Delete 删除简历及其评分结果和日志
func (r *CVRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cv_id = ?", id).Delete(&model.ProcessingLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cv_id = ?", id).Delete(&model.CVAnalysis{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.CV{}, id).Error
	})
}
