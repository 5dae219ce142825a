// Package redpanda adapts the task broker contract onto Redpanda/Kafka.
//
// Each queue maps to a topic plus a sibling retry topic; delivery attempts
// ride in record headers. Consumption commits offsets only after the handler
// settles a message, so a crashed worker leaves its message uncommitted and
// the group redelivers it after rebalance. That is the visibility-timeout
// behavior the rest of the system is written against.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// Record headers.
const (
	hdrTask       = "task"
	hdrMsgID      = "msg_id"
	hdrAttempt    = "attempt"
	hdrEnqueuedAt = "enqueued_at"
	hdrNotBefore  = "not_before"
)

// busyKey is the operator-set backpressure flag checked at enqueue.
func busyKey(queue string) string { return "broker:busy:" + queue }

// Producer implements domain.Broker.
type Producer struct {
	client *kgo.Client
	rdb    redis.UniversalClient
}

// NewProducerClient builds the kgo client used for producing, traced through
// kotel.
func NewProducerClient(brokers []string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.new_producer: no seed brokers provided")
	}
	tracer := kotel.NewTracer()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RequestRetries(10),
		kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new_producer: %w", err)
	}
	return client, nil
}

// NewProducer wraps an existing client. rdb may be nil to disable the
// backpressure check.
func NewProducer(client *kgo.Client, rdb redis.UniversalClient) *Producer {
	return &Producer{client: client, rdb: rdb}
}

// Enqueue publishes one task message and returns its broker id.
func (p *Producer) Enqueue(ctx domain.Context, queue, taskName string, payload any, opts domain.EnqueueOptions) (string, error) {
	op := "queue.enqueue"
	busy, err := p.isBusy(ctx, queue)
	if err == nil && busy {
		return "", fmt.Errorf("op=%s: %w: queue %s over depth threshold", op, domain.ErrBusy, queue)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	id := uuid.NewString()
	topic := queueTopic(queue)
	if opts.Attempt > 0 {
		topic = retryTopic(queue)
	}
	rec := buildRecord(topic, taskName, id, body, opts.Attempt, opts.NotBefore)

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return "", fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}
	observability.TasksEnqueuedTotal.WithLabelValues(queue, taskName).Inc()
	observability.LoggerFromContext(ctx).Info("task enqueued",
		slog.String("queue", queue),
		slog.String("task", taskName),
		slog.String("msg_id", id),
		slog.Int("attempt", opts.Attempt))
	return id, nil
}

func (p *Producer) isBusy(ctx context.Context, queue string) (bool, error) {
	if p.rdb == nil {
		return false, nil
	}
	n, err := p.rdb.Exists(ctx, busyKey(queue)).Result()
	if err != nil {
		// Fail open: backpressure is advisory.
		return false, err
	}
	return n > 0, nil
}

// SetBusy flips the backpressure flag for a queue. Used by operators and by
// depth monitors; a zero ttl clears the flag.
func (p *Producer) SetBusy(ctx context.Context, queue string, ttl time.Duration) error {
	if p.rdb == nil {
		return nil
	}
	if ttl <= 0 {
		return p.rdb.Del(ctx, busyKey(queue)).Err()
	}
	return p.rdb.Set(ctx, busyKey(queue), "1", ttl).Err()
}

func buildRecord(topic, taskName, id string, body []byte, attempt int, notBefore time.Time) *kgo.Record {
	headers := []kgo.RecordHeader{
		{Key: hdrTask, Value: []byte(taskName)},
		{Key: hdrMsgID, Value: []byte(id)},
		{Key: hdrAttempt, Value: []byte(strconv.Itoa(attempt))},
		{Key: hdrEnqueuedAt, Value: []byte(strconv.FormatInt(time.Now().Unix(), 10))},
	}
	if !notBefore.IsZero() {
		headers = append(headers, kgo.RecordHeader{
			Key: hdrNotBefore, Value: []byte(strconv.FormatInt(notBefore.Unix(), 10)),
		})
	}
	return &kgo.Record{Topic: topic, Key: []byte(id), Value: body, Headers: headers}
}

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
