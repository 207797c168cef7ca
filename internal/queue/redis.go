package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// enqueueScript writes the job hash and queues it once. Re-enqueueing an
// existing job id is a no-op.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'state', 'waiting', 'attempts', '0', 'progress', '0', 'priority', ARGV[2], 'enqueued_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
return 1
`)

// priorityOffset pushes personal jobs behind every team job while keeping
// FIFO order inside a priority.
const priorityOffset = 1e13

type RedisGateway struct {
	client *redis.Client
	prefix string
}

func NewRedisGateway(client *redis.Client, prefix string) *RedisGateway {
	if prefix == "" {
		prefix = "photogen"
	}
	return &RedisGateway{client: client, prefix: prefix}
}

// Dial connects to the Redis server at url.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (g *RedisGateway) jobKey(jobID string) string {
	return g.prefix + ":job:" + jobID
}

func (g *RedisGateway) queueKey() string {
	return g.prefix + ":queue"
}

func score(priority int, at time.Time) float64 {
	s := float64(at.UnixMilli())
	if priority < PriorityTeam {
		s += priorityOffset
	}
	return s
}

func (g *RedisGateway) Enqueue(ctx context.Context, spec JobSpec) (string, error) {
	if spec.GenerationID == "" {
		return "", fmt.Errorf("enqueue job: generation id is required")
	}
	jobID := JobID(spec.GenerationID)
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	now := time.Now().UTC()
	err = enqueueScript.Run(ctx, g.client,
		[]string{g.jobKey(jobID), g.queueKey()},
		string(payload), spec.Priority, now.UnixMilli(), score(spec.Priority, now), jobID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return jobID, nil
}

func (g *RedisGateway) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	fields, err := g.client.HGetAll(ctx, g.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	status := &JobStatus{
		ID:            jobID,
		State:         fields["state"],
		FailureReason: fields["failed_reason"],
	}
	status.Progress, _ = strconv.Atoi(fields["progress"])
	status.Attempts, _ = strconv.Atoi(fields["attempts"])
	if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		status.EnqueuedAt = time.UnixMilli(ms).UTC()
	}
	return status, nil
}

func (g *RedisGateway) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := g.client.Exists(ctx, g.jobKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Pending returns queued job ids in dequeue order.
func (g *RedisGateway) Pending(ctx context.Context) ([]string, error) {
	ids, err := g.client.ZRange(ctx, g.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return ids, nil
}
