package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotActive = errors.New("job is not active")
	ErrJobNotFound  = errors.New("job not found")
	ErrClosed       = errors.New("queue is closed")
	ErrInvalidState = errors.New("invalid job state")
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff 重试延迟策略，Delay 为首次重试的基础延迟
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// DelayFor 返回第 n 次重试（n 从 1 开始）前的等待时间
func (b Backoff) DelayFor(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	return b.Delay * time.Duration(1<<uint(n-1))
}

// JobOptions 单个任务的投递参数
type JobOptions struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
	Priority int     `json:"priority"`
}

// QueueOptions 队列级参数
type QueueOptions struct {
	DefaultJobOptions JobOptions
	KeepCompleted     int // <0 表示不裁剪
	KeepFailed        int
	LockDuration      time.Duration
	Now               func() time.Time
}

func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		DefaultJobOptions: JobOptions{
			Attempts: 3,
			Backoff:  Backoff{Type: BackoffExponential, Delay: 2 * time.Second},
		},
		KeepCompleted: 10,
		KeepFailed:    50,
		LockDuration:  60 * time.Second,
	}
}

func (o QueueOptions) withDefaults() QueueOptions {
	d := DefaultQueueOptions()
	if o.DefaultJobOptions.Attempts <= 0 {
		o.DefaultJobOptions.Attempts = d.DefaultJobOptions.Attempts
	}
	if o.DefaultJobOptions.Backoff.Type == "" {
		o.DefaultJobOptions.Backoff.Type = d.DefaultJobOptions.Backoff.Type
	}
	if o.DefaultJobOptions.Backoff.Delay <= 0 {
		o.DefaultJobOptions.Backoff.Delay = d.DefaultJobOptions.Backoff.Delay
	}
	if o.KeepCompleted == 0 {
		o.KeepCompleted = d.KeepCompleted
	}
	if o.KeepFailed == 0 {
		o.KeepFailed = d.KeepFailed
	}
	if o.LockDuration <= 0 {
		o.LockDuration = d.LockDuration
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Job 队列中的一个工作单元
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Seq          int64           `json:"seq"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      Backoff         `json:"backoff"`
	Progress     int             `json:"progress"`
	State        State           `json:"state"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	NextRunAt    time.Time       `json:"next_run_at"`
}

// Decode 解析任务载荷
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}

// Attempt 当前执行的是第几次尝试（从 1 开始）
func (j *Job) Attempt() int {
	return j.AttemptsMade + 1
}

// IsFinalAttempt 本次失败后是否不再重试
func (j *Job) IsFinalAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}

func (j *Job) clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return &c
}

// Queue 持久化任务队列，至少一次投递
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, payload interface{}, opts *JobOptions) (*Job, error)
	// Claim 取出一个就绪任务，没有时返回 nil, nil
	Claim(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Fail 记录一次失败，返回任务是否会被重试
	Fail(ctx context.Context, job *Job, cause error) (bool, error)
	// Release 把执行中的任务放回等待队列，不消耗重试次数
	Release(ctx context.Context, job *Job) error
	Extend(ctx context.Context, job *Job) error
	UpdateProgress(ctx context.Context, job *Job, progress int) error
	// Clean 删除指定终态下完成时间早于 olderThan 的任务
	Clean(ctx context.Context, state State, olderThan time.Duration) (int, error)
	Count(ctx context.Context, state State) (int64, error)
	// Length 等待中和延迟中的任务数
	Length(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func newJob(name string, payload interface{}, opts *JobOptions, defaults JobOptions, now time.Time) (*Job, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = data
	}

	o := defaults
	if opts != nil {
		if opts.Attempts > 0 {
			o.Attempts = opts.Attempts
		}
		if opts.Backoff.Type != "" {
			o.Backoff.Type = opts.Backoff.Type
		}
		if opts.Backoff.Delay > 0 {
			o.Backoff.Delay = opts.Backoff.Delay
		}
		o.Priority = opts.Priority
	}

	return &Job{
		ID:          uuid.NewString(),
		Queue:       name,
		Payload:     raw,
		Priority:    o.Priority,
		MaxAttempts: o.Attempts,
		Backoff:     o.Backoff,
		State:       StateWaiting,
		CreatedAt:   now,
		NextRunAt:   now,
	}, nil
}

// applyFailure 记录失败并决定进入 delayed 还是 failed
func applyFailure(job *Job, cause error, now time.Time) bool {
	job.AttemptsMade++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.AttemptsMade < job.MaxAttempts {
		job.State = StateDelayed
		job.NextRunAt = now.Add(job.Backoff.DelayFor(job.AttemptsMade))
		return true
	}
	job.State = StateFailed
	finished := now
	job.FinishedAt = &finished
	return false
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
