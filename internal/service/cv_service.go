package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/model/dto"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/oss"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/repository"
	"github.com/qs3c/cv_score_server/internal/worker"
)

var (
	ErrCVNotFound         = errors.New("简历不存在")
	ErrCVPermission       = errors.New("无权操作此简历")
	ErrCVStatusConflict   = errors.New("当前状态不允许开始处理")
	ErrCVAlreadyQueued    = errors.New("简历已在处理队列中")
	ErrInvalidFile        = errors.New("文件类型或大小不符合要求")
	ErrInvalidStatus      = errors.New("无效的状态筛选条件")
	ErrEnqueueFailed      = errors.New("提交处理任务失败")
	ErrStorageUnavailable = errors.New("对象存储未配置")
)

// ObjectStorage 上传流程依赖的对象存储操作
type ObjectStorage interface {
	PresignedUploadURL(userID int64, filename, contentType string) (*oss.PresignedUpload, error)
	DeleteObject(objectKey string) error
}

type CVService struct {
	cvRepo   *repository.CVRepository
	logRepo  *repository.ProcessingLogRepository
	storage  ObjectStorage
	queue    queue.Queue
	recorder *worker.Recorder
	cfg      *config.Config
	logger   *zap.Logger
}

// NewCVService storage 为 nil 时不提供直传地址
func NewCVService(
	cvRepo *repository.CVRepository,
	logRepo *repository.ProcessingLogRepository,
	storage ObjectStorage,
	extractionQueue queue.Queue,
	cfg *config.Config,
	l *zap.Logger,
) *CVService {
	l = logger.OrNop(l)
	return &CVService{
		cvRepo:   cvRepo,
		logRepo:  logRepo,
		storage:  storage,
		queue:    extractionQueue,
		recorder: worker.NewRecorder(logRepo, l),
		cfg:      cfg,
		logger:   l,
	}
}

func (s *CVService) validateFile(contentType string, size int64) error {
	if !s.cfg.Upload.IsAllowedMimeType(contentType) {
		return fmt.Errorf("%w: unsupported type %s", ErrInvalidFile, contentType)
	}
	if size <= 0 || (s.cfg.Upload.MaxSize > 0 && size > s.cfg.Upload.MaxSize) {
		return fmt.Errorf("%w: size %d", ErrInvalidFile, size)
	}
	return nil
}

// CreateUploadURL 生成前端直传地址
func (s *CVService) CreateUploadURL(userID int64, req *dto.UploadURLRequest) (*dto.UploadURLResponse, error) {
	if err := s.validateFile(req.ContentType, req.FileSize); err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}

	upload, err := s.storage.PresignedUploadURL(userID, req.Filename, req.ContentType)
	if err != nil {
		return nil, err
	}

	return &dto.UploadURLResponse{
		UploadURL:  upload.URL,
		Fields:     upload.Fields,
		StorageKey: upload.Key,
		ExpiresIn:  s.cfg.OSS.PresignExpireSeconds,
	}, nil
}

// Register 登记已上传的简历并提交文本提取任务
func (s *CVService) Register(ctx context.Context, userID int64, req *dto.RegisterCVRequest) (*dto.CVListItem, error) {
	if !oss.IsUserKey(userID, req.StorageKey) {
		return nil, ErrCVPermission
	}
	if err := s.validateFile(req.MimeType, req.FileSize); err != nil {
		return nil, err
	}

	cv := &model.CV{
		UserID:           userID,
		OriginalFilename: req.Filename,
		StorageKey:       req.StorageKey,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
		Status:           model.CVStatusUploaded,
		UploadedAt:       time.Now(),
	}
	if err := s.cvRepo.Create(cv); err != nil {
		return nil, err
	}
	s.recorder.Append(cv.ID, model.CVStatusUploaded, "简历已上传", "")

	if _, err := s.enqueue(ctx, cv); err != nil && !errors.Is(err, ErrCVAlreadyQueued) {
		return nil, err
	}
	return buildListItem(cv), nil
}

// Process 触发处理，仅允许尚无待执行任务的 UPLOADED 简历；reset 为 true 时先把 FAILED 重置为 UPLOADED
func (s *CVService) Process(ctx context.Context, userID, cvID int64, reset bool) (*dto.ProcessCVResponse, error) {
	cv, err := s.getOwned(userID, cvID)
	if err != nil {
		return nil, err
	}

	if reset && cv.Status == model.CVStatusFailed {
		err := s.cvRepo.ResetFailed(cv.ID)
		if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
			return nil, err
		}
		if err == nil {
			s.recorder.Append(cv.ID, model.CVStatusUploaded, "已重置，等待重新处理", "")
		}
		if cv, err = s.cvRepo.GetByID(cv.ID); err != nil {
			return nil, err
		}
	}

	resp := &dto.ProcessCVResponse{CVID: cv.ID, Status: string(cv.Status), JobID: cv.ExtractionJobID}
	if cv.Status != model.CVStatusUploaded {
		return resp, ErrCVStatusConflict
	}
	if cv.ExtractionJobID != "" {
		return resp, ErrCVAlreadyQueued
	}

	job, err := s.enqueue(ctx, cv)
	if err != nil {
		if errors.Is(err, ErrCVAlreadyQueued) {
			return resp, err
		}
		return nil, err
	}
	resp.JobID = job.ID
	return resp, nil
}

func (s *CVService) enqueue(ctx context.Context, cv *model.CV) (*queue.Job, error) {
	job, err := s.queue.Enqueue(ctx, &worker.ExtractionPayload{
		CVID:       cv.ID,
		UserID:     cv.UserID,
		Filename:   cv.OriginalFilename,
		StorageKey: cv.StorageKey,
		FileSize:   cv.FileSize,
		MimeType:   cv.MimeType,
	}, nil)
	if err != nil {
		s.recorder.Append(cv.ID, model.CVStatusUploaded, "提交处理任务失败", err.Error())
		s.logger.Error("failed to enqueue extraction job", zap.Int64(logger.FieldCVID, cv.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	log := s.logger.With(
		zap.Int64(logger.FieldCVID, cv.ID),
		zap.String(logger.FieldJobID, job.ID),
		zap.String(logger.FieldQueue, s.queue.Name()),
	)

	// 并发触发时只有一个任务能登记成功，其余任务会被提取阶段丢弃
	if err := s.cvRepo.AssignExtractionJob(cv.ID, job.ID); err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			log.Error("failed to record extraction job", zap.Error(err))
			return job, nil
		}
		current, getErr := s.cvRepo.GetByID(cv.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.ExtractionJobID != job.ID {
			log.Warn("cv already has an extraction job", zap.String("owner_job_id", current.ExtractionJobID))
			return nil, ErrCVAlreadyQueued
		}
	}
	cv.ExtractionJobID = job.ID

	log.Info("extraction job enqueued")
	return job, nil
}

// List 获取简历列表
func (s *CVService) List(userID int64, page, pageSize int, status string) ([]*dto.CVListItem, int64, error) {
	if status != "" && !model.CVStatus(status).IsValid() {
		return nil, 0, ErrInvalidStatus
	}

	cvs, total, err := s.cvRepo.ListByUserID(userID, page, pageSize, status)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.CVListItem, len(cvs))
	for i, cv := range cvs {
		items[i] = buildListItem(cv)
	}
	return items, total, nil
}

// GetDetail 获取简历详情及评分结果
func (s *CVService) GetDetail(userID, cvID int64) (*dto.CVDetail, error) {
	cv, err := s.cvRepo.GetByIDWithAnalysis(cvID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCVNotFound
		}
		return nil, err
	}
	if cv.UserID != userID {
		return nil, ErrCVPermission
	}

	detail := &dto.CVDetail{CVListItem: *buildListItem(cv)}
	if cv.Analysis != nil {
		detail.Analysis = buildAnalysisResult(cv.Analysis)
	}
	return detail, nil
}

// GetLogs 按写入顺序返回处理日志
func (s *CVService) GetLogs(userID, cvID int64) ([]*dto.ProcessingLogItem, error) {
	if _, err := s.getOwned(userID, cvID); err != nil {
		return nil, err
	}

	entries, err := s.logRepo.ListByCVID(cvID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.ProcessingLogItem, len(entries))
	for i, e := range entries {
		items[i] = &dto.ProcessingLogItem{
			ID:        e.ID,
			Status:    e.Status,
			Message:   e.Message,
			Error:     e.Error,
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	return items, nil
}

// Delete 删除简历、评分结果和日志，存储中的文件尽力删除
func (s *CVService) Delete(userID, cvID int64) error {
	cv, err := s.getOwned(userID, cvID)
	if err != nil {
		return err
	}

	if err := s.cvRepo.Delete(cv.ID); err != nil {
		return err
	}

	if s.storage != nil {
		if err := s.storage.DeleteObject(cv.StorageKey); err != nil {
			s.logger.Warn("failed to delete cv object",
				zap.Int64(logger.FieldCVID, cv.ID),
				zap.String("storage_key", cv.StorageKey),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *CVService) getOwned(userID, cvID int64) (*model.CV, error) {
	cv, err := s.cvRepo.GetByID(cvID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCVNotFound
		}
		return nil, err
	}
	if cv.UserID != userID {
		return nil, ErrCVPermission
	}
	return cv, nil
}

func buildListItem(cv *model.CV) *dto.CVListItem {
	item := &dto.CVListItem{
		ID:         cv.ID,
		Filename:   cv.OriginalFilename,
		FileSize:   cv.FileSize,
		MimeType:   cv.MimeType,
		Status:     string(cv.Status),
		UploadedAt: cv.UploadedAt.Format(time.RFC3339),
	}
	if cv.ProcessedAt != nil {
		item.ProcessedAt = cv.ProcessedAt.Format(time.RFC3339)
	}
	if cv.Analysis != nil {
		score := cv.Analysis.OverallScore
		item.OverallScore = &score
	}
	return item
}

func buildAnalysisResult(a *model.CVAnalysis) *dto.AnalysisResult {
	return &dto.AnalysisResult{
		ExperienceScore:    a.ExperienceScore,
		EducationScore:     a.EducationScore,
		SkillsScore:        a.SkillsScore,
		OverallScore:       a.OverallScore,
		ExperienceAnalysis: a.ExperienceAnalysis,
		EducationAnalysis:  a.EducationAnalysis,
		SkillsAnalysis:     a.SkillsAnalysis,
		OverallFeedback:    a.OverallFeedback,
		YearsOfExperience:  a.YearsOfExperience,
		EducationLevel:     a.EducationLevel,
		KeySkills:          nonNil(a.KeySkills),
		JobTitles:          nonNil(a.JobTitles),
		Companies:          nonNil(a.Companies),
		ModelName:          a.ModelName,
		ProcessingTimeMs:   a.ProcessingTimeMs,
		TokensUsed:         a.TokensUsed,
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
