package worker

// dlq.go: Dead Letter Queue
// Sale events and alert jobs that could not be applied are parked here for
// manual inspection, one Redis list per source queue: dlq:{original_queue}.
// The authoritative escalation record is sincronizaciones_pendientes; the
// list keeps the raw payload exactly as it was received.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DLQPrefix = "dlq:"

// DLQEntry wraps a failed job with metadata for debugging.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      time.Time       `json:"failed_at"`
	Attempts      int             `json:"attempts"`
}

// RedisDLQ implements service.DeadLetter.
type RedisDLQ struct {
	rdb *redis.Client
}

func NewRedisDLQ(rdb *redis.Client) *RedisDLQ { return &RedisDLQ{rdb: rdb} }

func (q *RedisDLQ) Send(ctx context.Context, queue, jobType string, payload json.RawMessage, reason string, attempts int) error {
	if !json.Valid(payload) {
		payload = quote(string(payload))
	}
	data, err := json.Marshal(DLQEntry{
		OriginalQueue: queue,
		JobType:       jobType,
		Payload:       payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC(),
		Attempts:      attempts,
	})
	if err != nil {
		return fmt.Errorf("dlq: marshal entry: %w", err)
	}

	key := DLQPrefix + queue
	if err := q.rdb.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("dlq: push %s: %w", key, err)
	}

	log.Warn().
		Str("queue", queue).
		Str("job_type", jobType).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("dlq: job moved to dead letter queue")
	return nil
}

// Length returns the number of entries parked for queue.
func (q *RedisDLQ) Length(ctx context.Context, queue string) (int64, error) {
	return q.rdb.LLen(ctx, DLQPrefix+queue).Result()
}

// Peek returns up to n entries of queue's DLQ, newest first, without removing them.
// Entries that do not decode are skipped.
func (q *RedisDLQ) Peek(ctx context.Context, queue string, n int64) ([]DLQEntry, error) {
	if n <= 0 {
		return []DLQEntry{}, nil
	}
	raws, err := q.rdb.LRange(ctx, DLQPrefix+queue, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: range %s: %w", DLQPrefix+queue, err)
	}
	out := make([]DLQEntry, 0, len(raws))
	for _, raw := range raws {
		var e DLQEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warn().Err(err).Str("queue", queue).Msg("dlq: undecodable entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
