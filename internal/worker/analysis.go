package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/pkg/scoring"
	"github.com/qs3c/cv_score_server/internal/repository"
)

// AnalysisStore 评分结果查询
type AnalysisStore interface {
	ExistsByCVID(cvID int64) (bool, error)
}

// AnalysisStage 第二阶段：调用模型评分并写入结果
type AnalysisStage struct {
	stageBase
	analyses AnalysisStore
	scorer   scoring.Client
	cfg      *config.ScoringConfig
}

func NewAnalysisStage(
	cvs CVStore,
	analyses AnalysisStore,
	scorer scoring.Client,
	analysisQueue queue.Queue,
	recorder *Recorder,
	publisher ProgressPublisher,
	cfg *config.ScoringConfig,
	l *zap.Logger,
) *AnalysisStage {
	return &AnalysisStage{
		stageBase: stageBase{
			name:      analysisQueue.Name(),
			cvs:       cvs,
			q:         analysisQueue,
			recorder:  recorder,
			publisher: publisher,
			logger:    logger.OrNop(l),
			now:       time.Now,
		},
		analyses: analyses,
		scorer:   scorer,
		cfg:      cfg,
	}
}

// Handle 处理一个评分任务
func (s *AnalysisStage) Handle(ctx context.Context, job *queue.Job) error {
	var payload AnalysisPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	cv, err := s.loadCV(ctx, job, pubsub.StageAnalysis, payload.CVID, payload.UserID)
	if err != nil || cv == nil {
		return err
	}
	log := s.jobLogger(job, cv.ID)

	if cv.Status != model.CVStatusProcessing {
		log.Warn("cv is not processing, dropping job", zap.String("status", string(cv.Status)))
		return nil
	}
	exists, err := s.analyses.ExistsByCVID(cv.ID)
	if err != nil {
		return s.fail(ctx, job, cv, pubsub.StageAnalysis, newStageError(KindPersistence, "读取评分结果失败", err))
	}
	if exists {
		log.Info("analysis already stored, skipping redelivered job")
		return nil
	}

	text := payload.ExtractedText
	if text == "" && cv.ExtractedText != nil {
		text = *cv.ExtractedText
	}

	s.recorder.Append(cv.ID, model.CVStatusProcessing, "开始 AI 评分", "")
	s.report(ctx, job, cv, pubsub.StageAnalysis, pubsub.StepAnalysisStarted, model.CVStatusProcessing)
	log.Info("analysis started", zap.Int("chars", len([]rune(text))))

	if text == "" {
		return s.fail(ctx, job, cv, pubsub.StageAnalysis,
			newStageError(KindExtraction, "简历文本为空", errors.New("no extracted text available")))
	}

	started := s.now()
	result, resp, err := s.score(ctx, job, cv, text)
	if err != nil {
		return s.fail(ctx, job, cv, pubsub.StageAnalysis, err)
	}
	elapsed := s.now().Sub(started)
	modelName := resp.Model
	if modelName == "" {
		modelName = s.cfg.Model
	}

	s.report(ctx, job, cv, pubsub.StageAnalysis, pubsub.StepSavingAnalysis, model.CVStatusProcessing)
	analysis := &model.CVAnalysis{
		CVID:               cv.ID,
		ExperienceScore:    result.ExperienceScore,
		EducationScore:     result.EducationScore,
		SkillsScore:        result.SkillsScore,
		OverallScore:       result.OverallScore,
		ExperienceAnalysis: result.ExperienceAnalysis,
		EducationAnalysis:  result.EducationAnalysis,
		SkillsAnalysis:     result.SkillsAnalysis,
		OverallFeedback:    result.OverallFeedback,
		YearsOfExperience:  result.YearsOfExperience,
		EducationLevel:     result.EducationLevel,
		KeySkills:          model.StringArray(result.KeySkills),
		JobTitles:          model.StringArray(result.JobTitles),
		Companies:          model.StringArray(result.Companies),
		ModelName:          modelName,
		ProcessingTimeMs:   elapsed.Milliseconds(),
		TokensUsed:         resp.TokensUsed,
	}
	if err := s.cvs.Complete(analysis, s.now()); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			log.Warn("cv left PROCESSING during analysis, dropping result")
			return nil
		}
		return s.fail(ctx, job, cv, pubsub.StageAnalysis, newStageError(KindPersistence, "保存评分结果失败", err))
	}

	s.recorder.Append(cv.ID, model.CVStatusCompleted, fmt.Sprintf("AI 评分完成，综合得分 %d", result.OverallScore), "")
	s.report(ctx, job, cv, pubsub.StageAnalysis, pubsub.StepDone, model.CVStatusCompleted)
	log.Info("analysis completed",
		zap.Int("overall_score", result.OverallScore),
		zap.String("model", modelName),
		zap.Int("tokens_used", resp.TokensUsed),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (s *AnalysisStage) score(ctx context.Context, job *queue.Job, cv *model.CV, text string) (*scoring.Result, *scoring.Response, error) {
	s.report(ctx, job, cv, pubsub.StageAnalysis, pubsub.StepScoring, model.CVStatusProcessing)

	callCtx := ctx
	if timeout := s.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := s.scorer.Score(callCtx, scoring.BuildPrompt(text, s.cfg.MaxInputChars))
	if err != nil {
		return nil, nil, newStageError(KindScoringCall, "AI 评分服务调用失败", err)
	}

	s.report(ctx, job, cv, pubsub.StageAnalysis, pubsub.StepParsing, model.CVStatusProcessing)
	result, err := scoring.ParseResult(resp.Text)
	if err != nil {
		s.jobLogger(job, cv.ID).Debug("unparseable scoring response", zap.String("raw", logger.Truncate(resp.Text, 500)))
		if errors.Is(err, scoring.ErrInvalidScore) {
			return nil, nil, newStageError(KindInvalidScore, "AI 评分结果缺少有效分数", err)
		}
		return nil, nil, newStageError(KindMalformedResponse, "AI 评分结果格式错误", err)
	}
	return result, resp, nil
}
