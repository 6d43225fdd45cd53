package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
)

// PoolConfig 消费者池参数
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// LockDuration 任务租约时长，执行期间每隔一半时间续租
	LockDuration time.Duration
}

type runningJob struct {
	job      *queue.Job
	cancel   context.CancelFunc
	released bool
}

// Pool 从一个队列并发消费任务，同时执行数不超过 Concurrency
type Pool struct {
	q       queue.Queue
	handler Handler
	cfg     PoolConfig
	logger  *zap.Logger

	mu       sync.Mutex
	running  map[string]*runningJob
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(q queue.Queue, handler Handler, cfg PoolConfig, l *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Second
	}
	return &Pool{
		q:       q,
		handler: handler,
		cfg:     cfg,
		logger:  logger.OrNop(l).With(zap.String(logger.FieldQueue, q.Name())),
		running: make(map[string]*runningJob),
		stopCh:  make(chan struct{}),
	}
}

func (p *Pool) Name() string {
	return p.q.Name()
}

// Start 启动消费协程，ctx 作为所有任务执行的父 context
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
	p.logger.Info("worker pool started", zap.Int("concurrency", p.cfg.Concurrency))
}

// Quiesce 停止领取新任务，不等待执行中的任务
func (p *Pool) Quiesce() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Stop 停止领取新任务并等待执行中的任务结束；
// ctx 到期后仍未结束的任务放回队列等待重新投递
func (p *Pool) Stop(ctx context.Context) error {
	p.Quiesce()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	released := 0
	for _, r := range p.running {
		r.released = true
		r.cancel()
		if err := p.q.Release(context.Background(), r.job); err != nil {
			p.logger.Warn("failed to release job", zap.String(logger.FieldJobID, r.job.ID), zap.Error(err))
			continue
		}
		released++
	}
	p.mu.Unlock()

	p.logger.Warn("worker pool stop timed out, in-flight jobs released", zap.Int("released", released))
	return fmt.Errorf("stop %s pool: %w", p.q.Name(), ctx.Err())
}

// Active 当前执行中的任务数
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.q.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			p.logger.Warn("failed to claim job", zap.Int("worker", workerID), zap.Error(err))
			if !p.wait(ctx) {
				return
			}
			continue
		}
		if job == nil {
			if !p.wait(ctx) {
				return
			}
			continue
		}

		p.run(ctx, job)
	}
}

// wait 空闲等待，返回 false 表示应退出
func (p *Pool) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-p.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pool) run(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &runningJob{job: job, cancel: cancel}
	p.mu.Lock()
	p.running[job.ID] = r
	p.mu.Unlock()

	log := p.logger.With(zap.String(logger.FieldJobID, job.ID), zap.Int(logger.FieldAttempt, job.Attempt()))
	log.Debug("job claimed")

	heartbeatDone := make(chan struct{})
	go p.heartbeat(jobCtx, job, heartbeatDone)

	err := p.safeHandle(jobCtx, job)
	cancel()
	<-heartbeatDone

	p.mu.Lock()
	delete(p.running, job.ID)
	released := r.released
	p.mu.Unlock()
	if released {
		return
	}

	if err == nil {
		if ackErr := p.q.Ack(context.Background(), job); ackErr != nil {
			log.Error("failed to ack job", zap.Error(ackErr))
		}
		return
	}

	// 进程退出导致的中断不计入重试次数
	if ctx.Err() != nil {
		if relErr := p.q.Release(context.Background(), job); relErr != nil {
			log.Warn("failed to release interrupted job", zap.Error(relErr))
			return
		}
		log.Info("job interrupted, released for redelivery", zap.NamedError("cause", err))
		return
	}

	retry, failErr := p.q.Fail(context.Background(), job, err)
	if failErr != nil {
		log.Error("failed to record job failure", zap.Error(failErr), zap.NamedError("cause", err))
		return
	}
	if retry {
		log.Warn("job failed, will retry", zap.Error(err))
	} else {
		log.Error("job failed permanently", zap.Error(err))
	}
}

func (p *Pool) heartbeat(ctx context.Context, job *queue.Job, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.LockDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.q.Extend(context.Background(), job); err != nil {
				p.logger.Warn("failed to extend job lock", zap.String(logger.FieldJobID, job.ID), zap.Error(err))
			}
		}
	}
}

func (p *Pool) safeHandle(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("job handler panicked",
				zap.String(logger.FieldJobID, job.ID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return p.handler(ctx, job)
}
