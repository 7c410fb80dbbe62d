// Package queue implements the Redis-backed bulk task queue spec §6 names
// as the transport between job submission and the worker pool. Grounded
// on the teacher's internal/queue/client.go (RPush-batching EnqueueBatch,
// BLPop consumption, redis.Nil re-exported as a normal "queue empty"
// signal), generalized to carry each task's input-order index so the
// engine can write results back in order (spec §5) instead of the
// teacher's single email-per-task shape.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when the block timeout elapses with no
// task available — re-exported so callers never need to import go-redis
// directly to check for it.
var ErrEmpty = redis.Nil

// Task is one unit of bulk-verification work: one address at a known
// position in its job's input order.
type Task struct {
	JobID string `json:"job_id"`
	Index int    `json:"index"`
	Email string `json:"email"`
}

const queueName = "cascade:verify:tasks"
const batchSize = 5000

// Queue wraps a go-redis client with the batch-enqueue / blocking-dequeue
// operations the bulk executor needs.
type Queue struct {
	client *redis.Client
}

// New connects to addr and verifies connectivity, mirroring the teacher's
// queue.Init two-step dial-then-ping flow.
func New(ctx context.Context, addr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueBatch pushes every (index, email) pair for jobID in 5000-item
// chunks, matching the teacher's batchSize (a conservative limit on a
// single RPush's argument count).
func (q *Queue) EnqueueBatch(ctx context.Context, jobID string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	for start := 0; start < len(emails); start += batchSize {
		end := start + batchSize
		if end > len(emails) {
			end = len(emails)
		}

		values := make([]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			task := Task{JobID: jobID, Index: i, Email: emails[i]}
			data, err := json.Marshal(task)
			if err != nil {
				return fmt.Errorf("marshal task %d for job %s: %w", i, jobID, err)
			}
			values = append(values, data)
		}

		if err := q.client.RPush(ctx, queueName, values...).Err(); err != nil {
			return fmt.Errorf("enqueue batch [%d:%d) for job %s: %w", start, end, jobID, err)
		}
	}
	return nil
}

// Dequeue blocks up to timeout waiting for a task, returning ErrEmpty if
// none arrives.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Task, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return Task{}, ErrEmpty
		}
		return Task{}, fmt.Errorf("dequeue: %w", err)
	}
	// BLPop returns [key, value]; the payload is result[1].
	if len(result) != 2 {
		return Task{}, fmt.Errorf("unexpected BLPop reply shape: %v", result)
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}
