package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue 进程内队列实现，语义与 RedisQueue 一致，用于测试
type MemoryQueue struct {
	name string
	opts QueueOptions

	mu       sync.Mutex
	seq      int64
	closed   bool
	jobs     map[string]*Job
	leases   map[string]time.Time
	finished map[State][]string
}

func NewMemoryQueue(name string, opts QueueOptions) *MemoryQueue {
	return &MemoryQueue{
		name:     name,
		opts:     opts.withDefaults(),
		jobs:     make(map[string]*Job),
		leases:   make(map[string]time.Time),
		finished: make(map[State][]string),
	}
}

func (q *MemoryQueue) Name() string {
	return q.name
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload interface{}, opts *JobOptions) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	job, err := newJob(q.name, payload, opts, q.opts.DefaultJobOptions, q.opts.Now())
	if err != nil {
		return nil, err
	}
	q.seq++
	job.Seq = q.seq
	q.jobs[job.ID] = job

	return job.clone(), nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	now := q.opts.Now()
	var ready []*Job
	for id, job := range q.jobs {
		switch job.State {
		case StateDelayed:
			if !job.NextRunAt.After(now) {
				job.State = StateWaiting
			}
		case StateActive:
			// 租约过期视为停滞，重新投递
			if deadline, ok := q.leases[id]; ok && !deadline.After(now) {
				delete(q.leases, id)
				job.State = StateWaiting
			}
		}
		if job.State == StateWaiting {
			ready = append(ready, job)
		}
	}

	if len(ready) == 0 {
		return nil, nil
	}

	sort.Slice(ready, func(i, k int) bool {
		if ready[i].Priority != ready[k].Priority {
			return ready[i].Priority < ready[k].Priority
		}
		return ready[i].Seq < ready[k].Seq
	})

	job := ready[0]
	job.State = StateActive
	processed := now
	job.ProcessedAt = &processed
	q.leases[job.ID] = now.Add(q.opts.LockDuration)

	return job.clone(), nil
}

func (q *MemoryQueue) active(id string) (*Job, error) {
	if q.closed {
		return nil, ErrClosed
	}
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotActive
	}
	if job.State != StateActive {
		return nil, ErrJobNotActive
	}
	return job, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.active(job.ID)
	if err != nil {
		return err
	}

	delete(q.leases, stored.ID)
	finished := q.opts.Now()
	stored.State = StateCompleted
	stored.FinishedAt = &finished
	q.finish(StateCompleted, stored.ID, q.opts.KeepCompleted)

	*job = *stored.clone()
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.active(job.ID)
	if err != nil {
		return false, err
	}

	delete(q.leases, stored.ID)
	retrying := applyFailure(stored, cause, q.opts.Now())
	if !retrying {
		q.finish(StateFailed, stored.ID, q.opts.KeepFailed)
	}

	*job = *stored.clone()
	return retrying, nil
}

// finish 记录终态并按保留数量裁剪最旧的任务
func (q *MemoryQueue) finish(state State, id string, keep int) {
	ids := append(q.finished[state], id)
	if keep >= 0 && len(ids) > keep {
		for _, old := range ids[:len(ids)-keep] {
			delete(q.jobs, old)
		}
		ids = append([]string(nil), ids[len(ids)-keep:]...)
	}
	q.finished[state] = ids
}

func (q *MemoryQueue) Release(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.active(job.ID)
	if err != nil {
		return err
	}

	delete(q.leases, stored.ID)
	stored.State = StateWaiting
	job.State = StateWaiting
	return nil
}

func (q *MemoryQueue) Extend(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.active(job.ID)
	if err != nil {
		return err
	}

	q.leases[stored.ID] = q.opts.Now().Add(q.opts.LockDuration)
	return nil
}

func (q *MemoryQueue) UpdateProgress(ctx context.Context, job *Job, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.active(job.ID)
	if err != nil {
		return err
	}

	stored.Progress = clampProgress(progress)
	job.Progress = stored.Progress
	return nil
}

func (q *MemoryQueue) Clean(ctx context.Context, state State, olderThan time.Duration) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, ErrInvalidState
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	cutoff := q.opts.Now().Add(-olderThan)
	kept := q.finished[state][:0]
	removed := 0
	for _, id := range q.finished[state] {
		job, ok := q.jobs[id]
		if ok && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
			continue
		}
		if ok {
			kept = append(kept, id)
		}
	}
	q.finished[state] = kept

	return removed, nil
}

func (q *MemoryQueue) Count(ctx context.Context, state State) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	var n int64
	for _, job := range q.jobs {
		if job.State == state {
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int64, error) {
	waiting, err := q.Count(ctx, StateWaiting)
	if err != nil {
		return 0, err
	}
	delayed, err := q.Count(ctx, StateDelayed)
	if err != nil {
		return 0, err
	}
	return waiting + delayed, nil
}

// Get 返回任务快照，测试用
func (q *MemoryQueue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}
