package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/pdftext"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/repository"
)

// ExtractionPayload 文本提取任务载荷
type ExtractionPayload struct {
	CVID       int64  `json:"cv_id"`
	UserID     int64  `json:"user_id"`
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
	FileSize   int64  `json:"file_size"`
	MimeType   string `json:"mime_type"`
}

// AnalysisPayload 评分任务载荷
type AnalysisPayload struct {
	CVID          int64  `json:"cv_id"`
	UserID        int64  `json:"user_id"`
	ExtractedText string `json:"extracted_text"`
}

// Storage 生成文件下载地址
type Storage interface {
	PresignedDownloadURL(objectKey string) (string, error)
}

// TextExtractor 从文件内容中提取纯文本
type TextExtractor interface {
	Extract(data []byte, mimeType, filename string) (string, error)
}

// ExtractionStage 第一阶段：下载文件、提取文本、提交评分任务
type ExtractionStage struct {
	stageBase
	storage       Storage
	extractor     TextExtractor
	analysisQueue queue.Queue
	httpClient    *http.Client
	maxSize       int64
}

func NewExtractionStage(
	cvs CVStore,
	storage Storage,
	extractor TextExtractor,
	extractionQueue queue.Queue,
	analysisQueue queue.Queue,
	recorder *Recorder,
	publisher ProgressPublisher,
	cfg *config.UploadConfig,
	l *zap.Logger,
) *ExtractionStage {
	timeout := cfg.DownloadTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExtractionStage{
		stageBase: stageBase{
			name:      extractionQueue.Name(),
			cvs:       cvs,
			q:         extractionQueue,
			recorder:  recorder,
			publisher: publisher,
			logger:    logger.OrNop(l),
			now:       time.Now,
		},
		storage:       storage,
		extractor:     extractor,
		analysisQueue: analysisQueue,
		httpClient:    &http.Client{Timeout: timeout},
		maxSize:       cfg.MaxSize,
	}
}

// Handle 处理一个提取任务
func (s *ExtractionStage) Handle(ctx context.Context, job *queue.Job) error {
	var payload ExtractionPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	cv, err := s.loadCV(ctx, job, pubsub.StageExtraction, payload.CVID, payload.UserID)
	if err != nil || cv == nil {
		return err
	}
	log := s.jobLogger(job, cv.ID)

	switch {
	case cv.Status == model.CVStatusUploaded:
		err := s.cvs.StartExtraction(cv.ID, job.ID)
		if err == nil {
			cv.Status = model.CVStatusProcessing
			cv.ExtractionJobID = job.ID
			s.recorder.Append(cv.ID, model.CVStatusProcessing, "开始提取文本", "")
			break
		}
		if !errors.Is(err, repository.ErrStatusConflict) {
			return s.fail(ctx, job, cv, pubsub.StageExtraction, newStageError(KindPersistence, "更新简历状态失败", err))
		}
		// 冲突说明状态已被并发修改，重新读取
		if cv, err = s.loadCV(ctx, job, pubsub.StageExtraction, payload.CVID, payload.UserID); err != nil || cv == nil {
			return err
		}
		if cv.Status != model.CVStatusProcessing || cv.ExtractionJobID != job.ID {
			log.Warn("cv is handled by another extraction job, dropping job",
				zap.String("status", string(cv.Status)),
				zap.String("owner_job_id", cv.ExtractionJobID),
			)
			return nil
		}
	case cv.Status == model.CVStatusProcessing && cv.ExtractionJobID == job.ID:
		s.recorder.Append(cv.ID, model.CVStatusProcessing, fmt.Sprintf("第 %d 次尝试提取文本", job.Attempt()), "")
	default:
		log.Warn("cv is handled by another extraction job, dropping job",
			zap.String("status", string(cv.Status)),
			zap.String("owner_job_id", cv.ExtractionJobID),
		)
		return nil
	}

	log.Info("extraction started", zap.String("storage_key", cv.StorageKey))
	s.report(ctx, job, cv, pubsub.StageExtraction, pubsub.StepExtractionStarted, model.CVStatusProcessing)

	text, err := s.extract(ctx, job, cv)
	if err != nil {
		return s.fail(ctx, job, cv, pubsub.StageExtraction, err)
	}

	s.report(ctx, job, cv, pubsub.StageExtraction, pubsub.StepSavingText, model.CVStatusProcessing)
	if err := s.cvs.SaveExtractedText(cv.ID, text, s.now()); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			log.Warn("cv left PROCESSING during extraction, dropping job")
			return nil
		}
		return s.fail(ctx, job, cv, pubsub.StageExtraction, newStageError(KindPersistence, "保存文本失败", err))
	}

	s.report(ctx, job, cv, pubsub.StageExtraction, pubsub.StepQueueingAnalysis, model.CVStatusProcessing)
	next, err := s.analysisQueue.Enqueue(ctx, &AnalysisPayload{
		CVID:          cv.ID,
		UserID:        cv.UserID,
		ExtractedText: text,
	}, nil)
	if err != nil {
		return s.fail(ctx, job, cv, pubsub.StageExtraction, newStageError(KindEnqueue, "提交评分任务失败", err))
	}

	s.recorder.Append(cv.ID, model.CVStatusProcessing,
		fmt.Sprintf("文本提取完成（%d 字符），已提交评分任务", len([]rune(text))), "")
	s.report(ctx, job, cv, pubsub.StageExtraction, pubsub.StepTextExtracted, model.CVStatusProcessing)
	log.Info("extraction completed", zap.Int("chars", len([]rune(text))), zap.String("analysis_job_id", next.ID))
	return nil
}

func (s *ExtractionStage) extract(ctx context.Context, job *queue.Job, cv *model.CV) (string, error) {
	s.report(ctx, job, cv, pubsub.StageExtraction, pubsub.StepDownloading, model.CVStatusProcessing)
	url, err := s.storage.PresignedDownloadURL(cv.StorageKey)
	if err != nil {
		return "", newStageError(KindDownload, "生成下载地址失败", err)
	}
	data, err := s.download(ctx, url)
	if err != nil {
		return "", err
	}

	s.report(ctx, job, cv, pubsub.StageExtraction, pubsub.StepExtracting, model.CVStatusProcessing)
	text, err := s.extractor.Extract(data, cv.MimeType, cv.OriginalFilename)
	if err != nil {
		if errors.Is(err, pdftext.ErrNoText) {
			return "", newStageError(KindExtraction, "未能从文件中提取到文本，暂不支持扫描件", err)
		}
		return "", newStageError(KindExtraction, "文本提取失败", err)
	}
	if text == "" {
		return "", newStageError(KindExtraction, "未能从文件中提取到文本，暂不支持扫描件", pdftext.ErrNoText)
	}
	return text, nil
}

func (s *ExtractionStage) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newStageError(KindDownload, "下载地址无效", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, newStageError(KindDownload, "下载文件失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStageError(KindDownload, "下载文件失败",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	reader := io.Reader(resp.Body)
	if s.maxSize > 0 {
		reader = io.LimitReader(resp.Body, s.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, newStageError(KindDownload, "读取文件失败", err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, newStageError(KindDownload, "文件超过大小限制",
			fmt.Errorf("file exceeds %d bytes", s.maxSize))
	}
	if len(data) == 0 {
		return nil, newStageError(KindDownload, "文件内容为空", errors.New("empty body"))
	}
	return data, nil
}
