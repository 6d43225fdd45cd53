package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepProgress(t *testing.T) {
	extraction := []string{StepExtractionStarted, StepDownloading, StepExtracting, StepSavingText, StepQueueingAnalysis, StepTextExtracted}
	analysis := []string{StepAnalysisStarted, StepScoring, StepParsing, StepSavingAnalysis, StepDone}

	for _, steps := range [][]string{extraction, analysis} {
		prev := 0
		for _, step := range steps {
			progress, ok := StepProgress[step]
			assert.True(t, ok, "Step %s should have progress value", step)
			assert.Greater(t, progress, prev, "Progress for %s should increase", step)
			assert.LessOrEqual(t, progress, 100)
			prev = progress
		}
		assert.Equal(t, 100, prev)
	}

	assert.Equal(t, []int{10, 25, 45, 70, 90, 100}, []int{
		StepProgress[StepExtractionStarted],
		StepProgress[StepDownloading],
		StepProgress[StepExtracting],
		StepProgress[StepSavingText],
		StepProgress[StepQueueingAnalysis],
		StepProgress[StepTextExtracted],
	})
}

func TestStepMessages(t *testing.T) {
	for step := range StepProgress {
		msg, ok := StepMessages[step]
		assert.True(t, ok, "Step %s should have message", step)
		assert.NotEmpty(t, msg)
	}
}

func TestProgressMessage_JSON(t *testing.T) {
	msg := &ProgressMessage{
		Type:     "cv_progress",
		UserID:   1,
		CVID:     2,
		JobID:    "3f0c",
		Stage:    StageAnalysis,
		Status:   "PROCESSING",
		Step:     StepScoring,
		Progress: 30,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	assert.Contains(t, raw, "user_id")
	assert.Contains(t, raw, "cv_id")
	assert.Contains(t, raw, "job_id")
	_, hasError := raw["error"]
	assert.False(t, hasError, "empty error should be omitted")
}

func TestProgressMessage_Fill(t *testing.T) {
	t.Run("from step", func(t *testing.T) {
		msg := &ProgressMessage{Step: StepExtracting}
		msg.Fill()

		assert.Equal(t, "cv_progress", msg.Type)
		assert.Equal(t, 45, msg.Progress)
		assert.Equal(t, StepMessages[StepExtracting], msg.Message)
	})

	t.Run("explicit values kept", func(t *testing.T) {
		msg := &ProgressMessage{Step: StepExtracting, Progress: 50, Message: "custom"}
		msg.Fill()

		assert.Equal(t, 50, msg.Progress)
		assert.Equal(t, "custom", msg.Message)
	})
}

func TestPublisherSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	go func() {
		_ = subscriber.Subscribe(ctx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	msg := &ProgressMessage{
		UserID: 123,
		CVID:   456,
		JobID:  "job-789",
		Stage:  StageExtraction,
		Status: "PROCESSING",
		Step:   StepDownloading,
	}
	require.NoError(t, publisher.PublishProgress(ctx, msg))

	select {
	case got := <-received:
		assert.Equal(t, int64(123), got.UserID)
		assert.Equal(t, int64(456), got.CVID)
		assert.Equal(t, "job-789", got.JobID)
		assert.Equal(t, "cv_progress", got.Type)
		assert.Equal(t, 25, got.Progress)
		assert.NotEmpty(t, got.Message)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}
