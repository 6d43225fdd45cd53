package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/testutil"
)

// processCV 依次执行提取和评分两个阶段
func processCV(t *testing.T, p *pipeline, cv *model.CV) error {
	t.Helper()
	p.enqueueExtraction(t, cv)
	if _, err := runNext(t, p.extractionQ, p.extraction.Handle); err != nil {
		return err
	}
	_, err := runNext(t, p.analysisQ, p.analysis.Handle)
	return err
}

func TestPipeline_CompletesCV(t *testing.T) {
	p := newPipeline(t, 3)
	cv := p.uploadCV(t, 7, "Jane Doe\nSenior Go Engineer at Acme")

	require.NoError(t, processCV(t, p, cv))

	updated := p.reload(t, cv.ID)
	assert.Equal(t, model.CVStatusCompleted, updated.Status)
	assert.NotNil(t, updated.ProcessedAt)

	analysis, err := p.analyses.GetByCVID(cv.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, analysis.ExperienceScore)
	assert.Equal(t, 71, analysis.EducationScore)
	assert.Equal(t, 90, analysis.SkillsScore)
	// (80 + 71 + 90) / 3 = 80.33
	assert.Equal(t, 80, analysis.OverallScore)
	assert.Equal(t, "Good fit for a senior role", analysis.OverallFeedback)
	require.NotNil(t, analysis.YearsOfExperience)
	assert.Equal(t, 6, *analysis.YearsOfExperience)
	assert.Equal(t, model.StringArray{"Go", "MySQL", "Redis"}, analysis.KeySkills)
	assert.Equal(t, "fake-model", analysis.ModelName)
	assert.Equal(t, 321, analysis.TokensUsed)
	assert.GreaterOrEqual(t, analysis.ProcessingTimeMs, int64(0))

	entries := p.logEntries(t, cv.ID)
	require.Len(t, entries, 4)
	assert.Equal(t, []string{"PROCESSING", "PROCESSING", "PROCESSING", "COMPLETED"}, logStatuses(entries))
	assert.Contains(t, entries[3].Message, "80")

	steps := p.publisher.Steps(cv.ID)
	assert.Equal(t, pubsub.StepDone, steps[len(steps)-1])
}

func TestAnalysis_FailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		err      error
		wantKind ErrorKind
	}{
		{
			name:     "missing skills score",
			text:     `{"experienceScore": 80, "educationScore": 70}`,
			wantKind: KindInvalidScore,
		},
		{
			name:     "non numeric score",
			text:     `{"experienceScore": "high", "educationScore": 70, "skillsScore": 60}`,
			wantKind: KindInvalidScore,
		},
		{
			name:     "not json",
			text:     "I am unable to score this CV.",
			wantKind: KindMalformedResponse,
		},
		{
			name:     "json array",
			text:     `[80, 70, 60]`,
			wantKind: KindMalformedResponse,
		},
		{
			name:     "capability unavailable",
			err:      errors.New("503 service unavailable"),
			wantKind: KindScoringCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, 1)
			p.scorer.text = tt.text
			p.scorer.err = tt.err
			cv := p.uploadCV(t, 1, "Go developer")

			err := processCV(t, p, cv)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))

			assert.Equal(t, model.CVStatusFailed, p.reload(t, cv.ID).Status)
			exists, err := p.analyses.ExistsByCVID(cv.ID)
			require.NoError(t, err)
			assert.False(t, exists)

			entries := p.logEntries(t, cv.ID)
			last := entries[len(entries)-1]
			assert.Equal(t, string(model.CVStatusFailed), last.Status)
			require.NotNil(t, last.Error)
			assert.Contains(t, *last.Error, string(tt.wantKind))
		})
	}
}

func TestAnalysis_RetryKeepsProcessing(t *testing.T) {
	p := newPipeline(t, 2)
	p.scorer.err = errors.New("timeout")
	cv := p.uploadCV(t, 1, "Go developer")

	err := processCV(t, p, cv)
	require.Error(t, err)
	assert.Equal(t, KindScoringCall, KindOf(err))
	assert.Equal(t, model.CVStatusProcessing, p.reload(t, cv.ID).Status)

	// 退避结束后第二次尝试成功
	p.scorer.err = nil
	p.clock.Advance(2 * time.Second)
	_, err = runNext(t, p.analysisQ, p.analysis.Handle)
	require.NoError(t, err)

	assert.Equal(t, model.CVStatusCompleted, p.reload(t, cv.ID).Status)
	assert.Equal(t, 2, p.scorer.Calls())

	entries := p.logEntries(t, cv.ID)
	assert.Equal(t, 0, countStatus(entries, model.CVStatusFailed))
	assert.Equal(t, 1, countStatus(entries, model.CVStatusCompleted))
	require.NotNil(t, entries[3].Error)
	assert.Contains(t, *entries[3].Error, "ScoringCallError")
}

func TestAnalysis_RedeliveryIsIdempotent(t *testing.T) {
	p := newPipeline(t, 3)
	cv := p.uploadCV(t, 1, "Go developer")
	require.NoError(t, processCV(t, p, cv))
	logsBefore := len(p.logEntries(t, cv.ID))

	// 同一份简历的评分任务再次投递
	_, err := p.analysisQ.Enqueue(context.Background(), &AnalysisPayload{CVID: cv.ID, UserID: cv.UserID, ExtractedText: "Go developer"}, nil)
	require.NoError(t, err)
	_, err = runNext(t, p.analysisQ, p.analysis.Handle)
	require.NoError(t, err)

	count, err := p.analyses.CountByCVID(cv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, p.scorer.Calls())
	assert.Len(t, p.logEntries(t, cv.ID), logsBefore)
}

func TestAnalysis_SkipsWhenAnalysisStored(t *testing.T) {
	p := newPipeline(t, 3)
	cv := testutil.TestCV(t, p.db, 1,
		testutil.WithStatus(model.CVStatusProcessing),
		testutil.WithExtractedText("Go developer"),
	)
	testutil.TestAnalysis(t, p.db, cv.ID, 75)

	_, err := p.analysisQ.Enqueue(context.Background(), &AnalysisPayload{CVID: cv.ID, UserID: cv.UserID}, nil)
	require.NoError(t, err)
	_, err = runNext(t, p.analysisQ, p.analysis.Handle)
	require.NoError(t, err)

	assert.Equal(t, 0, p.scorer.Calls())
	assert.Empty(t, p.logEntries(t, cv.ID))
}

func TestAnalysis_FallsBackToStoredText(t *testing.T) {
	p := newPipeline(t, 1)
	cv := testutil.TestCV(t, p.db, 1,
		testutil.WithStatus(model.CVStatusProcessing),
		testutil.WithExtractedText("Stored CV text"),
	)

	_, err := p.analysisQ.Enqueue(context.Background(), &AnalysisPayload{CVID: cv.ID, UserID: cv.UserID}, nil)
	require.NoError(t, err)
	_, err = runNext(t, p.analysisQ, p.analysis.Handle)
	require.NoError(t, err)
	assert.Equal(t, model.CVStatusCompleted, p.reload(t, cv.ID).Status)
}

func TestAnalysis_DropsJobForUploadedCV(t *testing.T) {
	p := newPipeline(t, 1)
	cv := testutil.TestCV(t, p.db, 1)

	_, err := p.analysisQ.Enqueue(context.Background(), &AnalysisPayload{CVID: cv.ID, UserID: cv.UserID, ExtractedText: "x"}, nil)
	require.NoError(t, err)
	_, err = runNext(t, p.analysisQ, p.analysis.Handle)
	require.NoError(t, err)

	assert.Equal(t, model.CVStatusUploaded, p.reload(t, cv.ID).Status)
	assert.Equal(t, 0, p.scorer.Calls())
}

func TestPipeline_DeterministicScores(t *testing.T) {
	p := newPipeline(t, 1)
	first := p.uploadCV(t, 1, "Backend engineer, 6 years of Go")
	second := p.uploadCV(t, 2, "Backend engineer, 6 years of Go")

	require.NoError(t, processCV(t, p, first))
	require.NoError(t, processCV(t, p, second))

	a, err := p.analyses.GetByCVID(first.ID)
	require.NoError(t, err)
	b, err := p.analyses.GetByCVID(second.ID)
	require.NoError(t, err)

	assert.Equal(t, a.ExperienceScore, b.ExperienceScore)
	assert.Equal(t, a.EducationScore, b.EducationScore)
	assert.Equal(t, a.SkillsScore, b.SkillsScore)
	assert.Equal(t, a.OverallScore, b.OverallScore)
	assert.Equal(t, *p.reload(t, first.ID).ExtractedText, *p.reload(t, second.ID).ExtractedText)
}

func TestAnalysis_JobProgress(t *testing.T) {
	p := newPipeline(t, 1)
	cv := p.uploadCV(t, 1, "Go developer")
	p.enqueueExtraction(t, cv)
	_, err := runNext(t, p.extractionQ, p.extraction.Handle)
	require.NoError(t, err)

	job, err := runNext(t, p.analysisQ, p.analysis.Handle)
	require.NoError(t, err)
	stored, ok := p.analysisQ.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StateCompleted, stored.State)
	assert.Equal(t, 100, stored.Progress)
}
