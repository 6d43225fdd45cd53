package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelCVProgress = "cv_progress"
)

const (
	StageExtraction = "extraction"
	StageAnalysis   = "analysis"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	CVID     int64  `json:"cv_id"`
	JobID    string `json:"job_id"`
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// 进度阶段常量
const (
	StepExtractionStarted = "extraction_started"
	StepDownloading       = "downloading"
	StepExtracting        = "extracting"
	StepSavingText        = "saving_text"
	StepQueueingAnalysis  = "queueing_analysis"
	StepTextExtracted     = "text_extracted"

	StepAnalysisStarted = "analysis_started"
	StepScoring         = "scoring"
	StepParsing         = "parsing"
	StepSavingAnalysis  = "saving_analysis"
	StepDone            = "done"

	StepFailed = "failed"
)

// 阶段对应的进度百分比
var StepProgress = map[string]int{
	StepExtractionStarted: 10,
	StepDownloading:       25,
	StepExtracting:        45,
	StepSavingText:        70,
	StepQueueingAnalysis:  90,
	StepTextExtracted:     100,

	StepAnalysisStarted: 10,
	StepScoring:         30,
	StepParsing:         70,
	StepSavingAnalysis:  90,
	StepDone:            100,
}

// 阶段对应的消息
var StepMessages = map[string]string{
	StepExtractionStarted: "开始处理简历",
	StepDownloading:       "正在下载文件",
	StepExtracting:        "正在提取文本",
	StepSavingText:        "正在保存文本",
	StepQueueingAnalysis:  "正在提交评分任务",
	StepTextExtracted:     "文本提取完成",

	StepAnalysisStarted: "开始 AI 评分",
	StepScoring:         "正在进行 AI 评分",
	StepParsing:         "正在解析评分结果",
	StepSavingAnalysis:  "正在保存评分结果",
	StepDone:            "评分完成",

	StepFailed: "处理失败",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Fill 自动填充类型、进度和消息
func (m *ProgressMessage) Fill() {
	m.Type = "cv_progress"

	if m.Progress == 0 && m.Step != "" {
		if progress, ok := StepProgress[m.Step]; ok {
			m.Progress = progress
		}
	}
	if m.Message == "" && m.Step != "" {
		if message, ok := StepMessages[m.Step]; ok {
			m.Message = message
		}
	}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Fill()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelCVProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelCVProgress)
	defer pubsub.Close()

	// 等待订阅确认，保证之后发布的消息不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
