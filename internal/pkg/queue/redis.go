package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue 基于 Redis 的持久化队列
//
// 键布局（前缀 cvq:{name}:）：
//   jobs      hash，任务 JSON
//   order     hash，任务在 wait 中的 score
//   seq       自增序号，同优先级内保持 FIFO
//   wait      zset，score = priority*1e12 + seq
//   delayed   zset，score = 下次可执行时间（毫秒）
//   active    zset，score = 租约截止时间（毫秒）
//   completed zset，score = 完成时间（毫秒）
//   failed    zset，score = 失败时间（毫秒）
//
// 任务所在的集合是唯一的状态来源，集合之间的搬运都在单个脚本内完成
type RedisQueue struct {
	client *redis.Client
	name   string
	opts   QueueOptions
	closed atomic.Bool
}

// claimScript 先把到期的 delayed 和租约过期的 active 移回 wait，再弹出 wait 头部放入 active
//
// KEYS: delayed, active, wait, jobs, order
// ARGV: now(ms), lease deadline(ms)
var claimScript = redis.NewScript(`
for i = 1, 2 do
	local ids = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1])
	for _, id in ipairs(ids) do
		redis.call('ZREM', KEYS[i], id)
		local score = redis.call('HGET', KEYS[5], id)
		if score then
			redis.call('ZADD', KEYS[3], score, id)
		end
	end
end
while true do
	local popped = redis.call('ZPOPMIN', KEYS[3], 1)
	if #popped == 0 then
		return false
	end
	local data = redis.call('HGET', KEYS[4], popped[1])
	if data then
		redis.call('ZADD', KEYS[2], ARGV[2], popped[1])
		return {popped[1], data}
	end
end
`)

// moveScript 仅当任务仍在 from 中时把它移到 to 并写入新的任务数据
//
// KEYS: from, to, jobs
// ARGV: id, score, data
var moveScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
return 1
`)

// touchScript 仅当任务仍在 active 中时更新租约或任务数据，ARGV 中为空的项不写
//
// KEYS: active, jobs
// ARGV: id, lease deadline(ms), data
var touchScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
if ARGV[2] ~= '' then
	redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
end
if ARGV[3] ~= '' then
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
end
return 1
`)

func NewRedisQueue(client *redis.Client, name string, opts QueueOptions) *RedisQueue {
	return &RedisQueue{
		client: client,
		name:   name,
		opts:   opts.withDefaults(),
	}
}

func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) key(part string) string {
	return "cvq:" + q.name + ":" + part
}

func (q *RedisQueue) stateKey(state State) string {
	switch state {
	case StateWaiting:
		return q.key("wait")
	case StateDelayed:
		return q.key("delayed")
	case StateActive:
		return q.key("active")
	case StateCompleted:
		return q.key("completed")
	case StateFailed:
		return q.key("failed")
	}
	return ""
}

func waitScore(job *Job) float64 {
	return float64(job.Priority)*1e12 + float64(job.Seq)
}

func msScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func (q *RedisQueue) checkOpen() error {
	if q.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.HGet(ctx, q.key("jobs"), id).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return unmarshalJob(data)
}

func unmarshalJob(data string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func marshalJob(job *Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload interface{}, opts *JobOptions) (*Job, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	job, err := newJob(q.name, payload, opts, q.opts.DefaultJobOptions, q.opts.Now())
	if err != nil {
		return nil, err
	}

	seq, err := q.client.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	job.Seq = seq

	data, err := marshalJob(job)
	if err != nil {
		return nil, err
	}

	score := waitScore(job)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, data)
		pipe.HSet(ctx, q.key("order"), job.ID, formatScore(score))
		pipe.ZAdd(ctx, q.key("wait"), &redis.Z{Score: score, Member: job.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	now := q.opts.Now()
	keys := []string{q.key("delayed"), q.key("active"), q.key("wait"), q.key("jobs"), q.key("order")}
	res, err := claimScript.Run(ctx, q.client, keys,
		now.UnixMilli(), now.Add(q.opts.LockDuration).UnixMilli()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 2 {
		return nil, fmt.Errorf("failed to claim job: unexpected reply %v", res)
	}
	data, _ := fields[1].(string)
	job, err := unmarshalJob(data)
	if err != nil {
		return nil, err
	}

	// 任务已在 active 中，写入失败时租约到期后会被重新投递
	job.State = StateActive
	processed := now
	job.ProcessedAt = &processed
	if err := q.touch(ctx, job, time.Time{}, true); err != nil {
		return nil, fmt.Errorf("failed to activate job: %w", err)
	}
	return job, nil
}

// move 把 active 中的任务原子地移入 to 集合，任务已不在 active 时返回 ErrJobNotActive
func (q *RedisQueue) move(ctx context.Context, job *Job, to State, score float64) error {
	data, err := marshalJob(job)
	if err != nil {
		return err
	}
	moved, err := moveScript.Run(ctx, q.client,
		[]string{q.key("active"), q.stateKey(to), q.key("jobs")},
		job.ID, formatScore(score), data).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrJobNotActive
	}
	return nil
}

// touch 在任务仍处于 active 时续约或写回任务数据
func (q *RedisQueue) touch(ctx context.Context, job *Job, deadline time.Time, writeData bool) error {
	lease, data := "", ""
	if !deadline.IsZero() {
		lease = strconv.FormatInt(deadline.UnixMilli(), 10)
	}
	if writeData {
		raw, err := marshalJob(job)
		if err != nil {
			return err
		}
		data = string(raw)
	}

	ok, err := touchScript.Run(ctx, q.client, []string{q.key("active"), q.key("jobs")}, job.ID, lease, data).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrJobNotActive
	}
	return nil
}

// current 读取仍处于 active 的任务的最新数据
func (q *RedisQueue) current(ctx context.Context, id string) (*Job, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}
	job, err := q.load(ctx, id)
	if err == ErrJobNotFound {
		return nil, ErrJobNotActive
	}
	return job, err
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	stored, err := q.current(ctx, job.ID)
	if err != nil {
		return err
	}

	finished := q.opts.Now()
	stored.State = StateCompleted
	stored.FinishedAt = &finished
	if err := q.move(ctx, stored, StateCompleted, msScore(finished)); err != nil {
		if err == ErrJobNotActive {
			return err
		}
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if err := q.trim(ctx, StateCompleted, q.opts.KeepCompleted); err != nil {
		return err
	}

	*job = *stored
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	stored, err := q.current(ctx, job.ID)
	if err != nil {
		return false, err
	}

	retrying := applyFailure(stored, cause, q.opts.Now())
	if retrying {
		err = q.move(ctx, stored, StateDelayed, msScore(stored.NextRunAt))
	} else {
		err = q.move(ctx, stored, StateFailed, msScore(*stored.FinishedAt))
	}
	if err != nil {
		if err == ErrJobNotActive {
			return false, err
		}
		return false, fmt.Errorf("failed to record job failure: %w", err)
	}
	if !retrying {
		if err := q.trim(ctx, StateFailed, q.opts.KeepFailed); err != nil {
			return false, err
		}
	}

	*job = *stored
	return retrying, nil
}

// trim 只保留最近的 keep 个终态任务
func (q *RedisQueue) trim(ctx context.Context, state State, keep int) error {
	if keep < 0 {
		return nil
	}
	ids, err := q.client.ZRange(ctx, q.stateKey(state), 0, int64(-keep-1)).Result()
	if err != nil {
		return fmt.Errorf("failed to trim %s jobs: %w", state, err)
	}
	return q.remove(ctx, state, ids)
}

func (q *RedisQueue) remove(ctx context.Context, state State, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.stateKey(state), members...)
		pipe.HDel(ctx, q.key("jobs"), ids...)
		pipe.HDel(ctx, q.key("order"), ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s jobs: %w", state, err)
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, job *Job) error {
	stored, err := q.current(ctx, job.ID)
	if err != nil {
		return err
	}

	stored.State = StateWaiting
	if err := q.move(ctx, stored, StateWaiting, waitScore(stored)); err != nil {
		if err == ErrJobNotActive {
			return err
		}
		return fmt.Errorf("failed to release job: %w", err)
	}
	job.State = StateWaiting
	return nil
}

func (q *RedisQueue) Extend(ctx context.Context, job *Job) error {
	if err := q.checkOpen(); err != nil {
		return err
	}

	deadline := q.opts.Now().Add(q.opts.LockDuration)
	if err := q.touch(ctx, job, deadline, false); err != nil {
		if err == ErrJobNotActive {
			return err
		}
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	return nil
}

func (q *RedisQueue) UpdateProgress(ctx context.Context, job *Job, progress int) error {
	stored, err := q.current(ctx, job.ID)
	if err != nil {
		return err
	}
	stored.Progress = clampProgress(progress)

	if err := q.touch(ctx, stored, time.Time{}, true); err != nil {
		if err == ErrJobNotActive {
			return err
		}
		return fmt.Errorf("failed to update progress: %w", err)
	}

	job.Progress = stored.Progress
	return nil
}

func (q *RedisQueue) Clean(ctx context.Context, state State, olderThan time.Duration) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, ErrInvalidState
	}
	if err := q.checkOpen(); err != nil {
		return 0, err
	}

	cutoff := q.opts.Now().Add(-olderThan)
	ids, err := q.client.ZRangeByScore(ctx, q.stateKey(state), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}

	if err := q.remove(ctx, state, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (q *RedisQueue) Count(ctx context.Context, state State) (int64, error) {
	key := q.stateKey(state)
	if key == "" {
		return 0, ErrInvalidState
	}
	if err := q.checkOpen(); err != nil {
		return 0, err
	}
	return q.client.ZCard(ctx, key).Result()
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
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

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	return q.client.Ping(ctx).Err()
}

// Close 停止使用该队列，Redis 客户端由调用方关闭
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
