package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/repository"
)

// CVStore 两个阶段使用的简历持久化操作
type CVStore interface {
	GetByID(id int64) (*model.CV, error)
	TransitionStatus(id int64, from []model.CVStatus, to model.CVStatus) error
	StartExtraction(id int64, jobID string) error
	SaveExtractedText(id int64, text string, processedAt time.Time) error
	Complete(analysis *model.CVAnalysis, processedAt time.Time) error
}

// ProgressPublisher 进度推送，为 nil 时不推送
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Handler 处理一个任务，返回 nil 表示成功
type Handler func(ctx context.Context, job *queue.Job) error

// stageBase 两个阶段共用的依赖和辅助方法
type stageBase struct {
	name      string
	cvs       CVStore
	q         queue.Queue
	recorder  *Recorder
	publisher ProgressPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// loadCV 读取简历，返回 nil 表示任务应直接确认；读取失败按阶段失败处理
func (s *stageBase) loadCV(ctx context.Context, job *queue.Job, stage string, cvID, userID int64) (*model.CV, error) {
	cv, err := s.cvs.GetByID(cvID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.jobLogger(job, cvID).Warn("cv no longer exists, dropping job")
			return nil, nil
		}
		return nil, s.fail(ctx, job, &model.CV{ID: cvID, UserID: userID}, stage,
			newStageError(KindPersistence, "读取简历失败", err))
	}
	if cv.Status.IsTerminal() {
		s.jobLogger(job, cvID).Info("cv already finished, skipping redelivered job",
			zap.String("status", string(cv.Status)))
		return nil, nil
	}
	return cv, nil
}

func (s *stageBase) jobLogger(job *queue.Job, cvID int64) *zap.Logger {
	return s.logger.With(logger.JobFields(s.name, job.ID, cvID, job.Attempt())...)
}

// report 更新任务进度并推送给用户
func (s *stageBase) report(ctx context.Context, job *queue.Job, cv *model.CV, stage, step string, status model.CVStatus) {
	if progress, ok := pubsub.StepProgress[step]; ok {
		if err := s.q.UpdateProgress(ctx, job, progress); err != nil {
			s.jobLogger(job, cv.ID).Warn("failed to update job progress", zap.Error(err))
		}
	}
	s.publish(ctx, &pubsub.ProgressMessage{
		UserID: cv.UserID,
		CVID:   cv.ID,
		JobID:  job.ID,
		Stage:  stage,
		Status: string(status),
		Step:   step,
	})
}

func (s *stageBase) publish(ctx context.Context, msg *pubsub.ProgressMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProgress(ctx, msg); err != nil {
		s.logger.Warn("failed to publish progress",
			zap.Int64(logger.FieldCVID, msg.CVID),
			zap.String("step", msg.Step),
			zap.Error(err),
		)
	}
}

// fail 处理阶段失败：最后一次尝试时置为 FAILED，否则保留 PROCESSING 等待重试；
// 任务被中断时不改动简历，由重新投递的任务继续
func (s *stageBase) fail(ctx context.Context, job *queue.Job, cv *model.CV, stage string, cause error) error {
	log := s.jobLogger(job, cv.ID)
	if ctx.Err() != nil {
		log.Warn("stage interrupted, leaving cv for redelivery", zap.NamedError("cause", cause))
		return cause
	}
	status := model.CVStatusProcessing

	if job.IsFinalAttempt() {
		err := s.cvs.TransitionStatus(cv.ID, []model.CVStatus{model.CVStatusUploaded, model.CVStatusProcessing}, model.CVStatusFailed)
		switch {
		case err == nil:
			status = model.CVStatusFailed
			s.recorder.Append(cv.ID, model.CVStatusFailed, stageLabel(stage)+"失败", cause.Error())
		case errors.Is(err, repository.ErrStatusConflict):
			log.Warn("cv changed before failure could be recorded")
		default:
			log.Error("failed to mark cv as failed", zap.Error(err))
		}
		log.Error("stage failed permanently", zap.String("kind", string(KindOf(cause))), zap.Error(cause))
	} else {
		s.recorder.Append(cv.ID, model.CVStatusProcessing, stageLabel(stage)+"失败，等待重试", cause.Error())
		log.Warn("stage failed, retry scheduled",
			zap.String("kind", string(KindOf(cause))),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(cause),
		)
	}

	s.publish(ctx, &pubsub.ProgressMessage{
		UserID: cv.UserID,
		CVID:   cv.ID,
		JobID:  job.ID,
		Stage:  stage,
		Status: string(status),
		Step:   pubsub.StepFailed,
		Error:  userMessage(cause),
	})
	return cause
}

func stageLabel(stage string) string {
	if stage == pubsub.StageAnalysis {
		return "AI 评分"
	}
	return "文本提取"
}
