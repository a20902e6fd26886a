package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"DeltaSpirit/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// JobObserver receives timing for every handled job instance.
type JobObserver func(queue, job string, seconds float64, err error)

// repeatSpec is the stored registration of a repeating job.
type repeatSpec struct {
	Job     string        `json:"job"`
	Payload interface{}   `json:"payload"`
	Every   time.Duration `json:"every"`
}

// RedisQueue is a Redis-backed job queue with named queues, delayed one-shot
// jobs, and repeating registrations. Each queue gets its own ready list,
// delayed/retry zsets and repeat registry under spirit:queue:<name>:*.
type RedisQueue struct {
	logger    *logger.Logger
	config    *Config
	client    *redis.Client
	mu        sync.RWMutex
	jobs      map[string]map[string]Job // queue -> job name -> handler
	wg        sync.WaitGroup
	isRunning bool
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
	observe   JobObserver
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithJobObserver installs a timing observer for handled jobs.
func WithJobObserver(obs JobObserver) RedisQueueOption {
	return func(r *RedisQueue) {
		r.observe = obs
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &Config{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		jobs:      make(map[string]map[string]Job),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "spirit:queue",
	}

	for _, opt := range opts {
		opt(rq)
	}

	return rq
}

// RegisterJob registers a handler on the named queue. Must be called before
// Start; queues discovered here get their worker pool and scheduler.
func (r *RedisQueue) RegisterJob(queueName string, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[queueName]; !ok {
		r.jobs[queueName] = make(map[string]Job)
	}
	if _, exists := r.jobs[queueName][job.Name()]; exists {
		r.logger.Warn("job already registered",
			logger.String("queue", queueName),
			logger.String("job", job.Name()))
		return
	}

	r.jobs[queueName][job.Name()] = job
	r.logger.Info("job registered",
		logger.String("queue", queueName),
		logger.String("job", job.Name()))
}

// Start pings Redis and launches workers plus a scheduler per registered
// queue. Safe to call once.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.isRunning = true
	queues := make([]string, 0, len(r.jobs))
	for q := range r.jobs {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for _, q := range queues {
		for i := 0; i < r.config.Workers; i++ {
			r.wg.Add(1)
			go r.worker(q, i)
		}
		r.wg.Add(1)
		go r.scheduler(q)
	}

	r.logger.Info("redis queue started",
		logger.Int("queues", len(queues)),
		logger.Int("workers_per_queue", r.config.Workers),
		logger.String("addr", r.client.Options().Addr))

	return nil
}

// Close stops workers and schedulers. Safe to call once during shutdown,
// including when Start never ran. The redis client itself is owned by the
// caller.
func (r *RedisQueue) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		r.cancel()
		return nil
	}
	r.isRunning = false
	r.logger.Info("stopping redis queue...")
	r.cancel()
	close(r.stopCh)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped gracefully")
		return nil
	}
}

// Enqueue adds a one-shot job to the named queue.
func (r *RedisQueue) Enqueue(ctx context.Context, queueName, jobName string, payload interface{}) error {
	msg := Message{
		ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		Queue:     queueName,
		Job:       jobName,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := r.client.LPush(ctx, r.readyKey(queueName), msgData).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// EnqueueIn adds a one-shot job that becomes ready after delay.
func (r *RedisQueue) EnqueueIn(ctx context.Context, queueName, jobName string, payload interface{}, delay time.Duration) error {
	msg := Message{
		ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		Queue:     queueName,
		Job:       jobName,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.client.ZAdd(ctx, r.delayedKey(queueName), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: msgData,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd delayed: %w", err)
	}
	return nil
}

// RegisterRepeatable registers a repeating job on the named queue. Any
// existing registration with the same job name is replaced first, so daemon
// restarts never accumulate duplicate schedules.
func (r *RedisQueue) RegisterRepeatable(ctx context.Context, queueName, jobName string, payload interface{}, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("repeat interval must be positive")
	}

	spec := repeatSpec{Job: jobName, Payload: payload, Every: every}
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal repeat spec: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.repeatKey(queueName), jobName, data)
	pipe.ZAdd(ctx, r.repeatSchedKey(queueName), redis.Z{
		Score:  float64(time.Now().Add(every).UnixMilli()),
		Member: jobName,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register repeatable: %w", err)
	}

	r.logger.Info("repeatable registered",
		logger.String("queue", queueName),
		logger.String("job", jobName),
		logger.Duration("every", every))
	return nil
}

// ClearRepeatables drops every repeating registration on the named queue.
func (r *RedisQueue) ClearRepeatables(ctx context.Context, queueName string) error {
	if err := r.client.Del(ctx, r.repeatKey(queueName), r.repeatSchedKey(queueName)).Err(); err != nil {
		return fmt.Errorf("clear repeatables: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(queueName string, id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started",
		logger.String("queue", queueName),
		logger.Int("worker_id", id))

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.ctx.Done():
			return
		default:
			r.processNextMessage(queueName)
		}
	}
}

func (r *RedisQueue) processNextMessage(queueName string) {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()

	result, err := r.client.BRPop(ctx, time.Second, r.readyKey(queueName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("brpop error", logger.String("queue", queueName), logger.Error(err))
		time.Sleep(time.Second)
		return
	}

	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.String("queue", queueName), logger.Error(err))
		return
	}

	r.processMessage(queueName, msg)
}

func (r *RedisQueue) processMessage(queueName string, msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[queueName][msg.Job]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found",
			logger.String("queue", queueName),
			logger.String("job", msg.Job),
			logger.String("id", msg.ID))
		return
	}

	if msg.Repeat > 0 {
		defer r.releaseTickLock(queueName, msg.Job)
	}

	payload := r.convertPayload(msg.Payload)
	start := time.Now()
	err := job.Handle(r.ctx, payload)
	elapsed := time.Since(start)

	if r.observe != nil {
		r.observe(queueName, msg.Job, elapsed.Seconds(), err)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Warn("message cancelled",
				logger.String("id", msg.ID),
				logger.String("job", msg.Job),
				logger.Int64("elapsed_ms", elapsed.Milliseconds()))
			return
		}
		r.handleProcessingError(queueName, msg, err)
	}
}

func (r *RedisQueue) convertPayload(payload interface{}) interface{} {
	payloadMap, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}

	jsonBytes, err := json.Marshal(payloadMap)
	if err != nil {
		r.logger.Error("convert payload", logger.Error(err))
		return payload
	}

	return json.RawMessage(jsonBytes)
}

// handleProcessingError retries one-shot jobs up to the limit, then parks
// them in the DLQ. Ticks of repeating jobs are only logged: the next
// scheduled tick proceeds independently and the registration stays put.
func (r *RedisQueue) handleProcessingError(queueName string, msg Message, err error) {
	r.logger.Error("message processing error",
		logger.String("queue", queueName),
		logger.String("id", msg.ID),
		logger.String("job", msg.Job),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Repeat > 0 {
		return
	}

	if msg.Attempts < r.config.RetryLimit {
		msg.Attempts++
		retryTime := time.Now().Add(r.config.RetryDelay)
		r.scheduleRetry(queueName, msg, retryTime)
	} else {
		r.logger.Error("max retries reached",
			logger.String("queue", queueName),
			logger.String("id", msg.ID),
			logger.String("job", msg.Job))
		r.moveToDeadLetterQueue(queueName, msg)
	}
}

func (r *RedisQueue) scheduleRetry(queueName string, msg Message, retryTime time.Time) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}

	err = r.client.ZAdd(context.Background(), r.retryKey(queueName), redis.Z{
		Score:  float64(retryTime.UnixMilli()),
		Member: msgData,
	}).Err()
	if err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) moveToDeadLetterQueue(queueName string, msg Message) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}

	if err := r.client.LPush(context.Background(), r.dlqKey(queueName), msgData).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

// scheduler promotes due delayed and retry messages onto the ready list and
// fires due repeating ticks.
func (r *RedisQueue) scheduler(queueName string) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.promoteDue(queueName, r.delayedKey(queueName))
			r.promoteDue(queueName, r.retryKey(queueName))
			r.fireRepeatables(queueName)
		}
	}
}

func (r *RedisQueue) promoteDue(queueName, zsetKey string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := r.client.ZRangeByScore(r.ctx, zsetKey, &redis.ZRangeBy{
		Min: "0",
		Max: now,
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("fetch due messages", logger.String("queue", queueName), logger.Error(err))
		return
	}

	for _, member := range members {
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, zsetKey, member)
		pipe.LPush(r.ctx, r.readyKey(queueName), member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("promote message", logger.String("queue", queueName), logger.Error(err))
		}
	}
}

// fireRepeatables emits one tick message per due repeating registration. A
// SetNX tick lock keyed by the repeat identity guarantees at most one active
// execution per identity even with multiple scheduler instances; the lock is
// released when the tick's handler finishes.
func (r *RedisQueue) fireRepeatables(queueName string) {
	now := time.Now()

	due, err := r.client.ZRangeByScore(r.ctx, r.repeatSchedKey(queueName), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("fetch due repeatables", logger.String("queue", queueName), logger.Error(err))
		return
	}

	for _, jobName := range due {
		data, err := r.client.HGet(r.ctx, r.repeatKey(queueName), jobName).Result()
		if err != nil {
			// Registration cleared between the sched read and now; drop the
			// orphaned schedule entry.
			r.client.ZRem(r.ctx, r.repeatSchedKey(queueName), jobName)
			continue
		}

		var spec repeatSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			r.logger.Error("unmarshal repeat spec", logger.String("job", jobName), logger.Error(err))
			continue
		}

		// Reschedule first so a failing tick never unschedules the job.
		r.client.ZAdd(r.ctx, r.repeatSchedKey(queueName), redis.Z{
			Score:  float64(now.Add(spec.Every).UnixMilli()),
			Member: jobName,
		})

		lockTTL := 2 * spec.Every
		if lockTTL < 10*time.Second {
			lockTTL = 10 * time.Second
		}
		ok, err := r.client.SetNX(r.ctx, r.tickLockKey(queueName, jobName), "1", lockTTL).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("tick lock", logger.String("job", jobName), logger.Error(err))
			continue
		}
		if !ok {
			r.logger.Debug("tick skipped, previous execution still active",
				logger.String("queue", queueName),
				logger.String("job", jobName))
			continue
		}

		msg := Message{
			ID:        fmt.Sprintf("%s-%d", jobName, now.UnixNano()),
			Queue:     queueName,
			Job:       jobName,
			Payload:   spec.Payload,
			Repeat:    spec.Every,
			Timestamp: now,
		}
		msgData, err := json.Marshal(msg)
		if err != nil {
			r.releaseTickLock(queueName, jobName)
			continue
		}
		if err := r.client.LPush(r.ctx, r.readyKey(queueName), msgData).Err(); err != nil {
			r.releaseTickLock(queueName, jobName)
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("push tick", logger.String("job", jobName), logger.Error(err))
		}
	}
}

func (r *RedisQueue) releaseTickLock(queueName, jobName string) {
	if err := r.client.Del(context.Background(), r.tickLockKey(queueName, jobName)).Err(); err != nil {
		r.logger.Warn("release tick lock", logger.String("job", jobName), logger.Error(err))
	}
}

func (r *RedisQueue) readyKey(q string) string       { return fmt.Sprintf("%s:%s:ready", r.keyPrefix, q) }
func (r *RedisQueue) delayedKey(q string) string     { return fmt.Sprintf("%s:%s:delayed", r.keyPrefix, q) }
func (r *RedisQueue) retryKey(q string) string       { return fmt.Sprintf("%s:%s:retry", r.keyPrefix, q) }
func (r *RedisQueue) dlqKey(q string) string         { return fmt.Sprintf("%s:%s:dlq", r.keyPrefix, q) }
func (r *RedisQueue) repeatKey(q string) string      { return fmt.Sprintf("%s:%s:repeat", r.keyPrefix, q) }
func (r *RedisQueue) repeatSchedKey(q string) string { return fmt.Sprintf("%s:%s:repeat:sched", r.keyPrefix, q) }
func (r *RedisQueue) tickLockKey(q, j string) string { return fmt.Sprintf("%s:%s:tick:%s", r.keyPrefix, q, j) }
