package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// DeadLetterFunc observes a message routed to the dead-letter topic, after the
// route but before the offset commit.
type DeadLetterFunc func(ctx context.Context, msg domain.Message, reason string)

// Consumer pulls task messages for a set of queues. Offsets are committed
// only on Ack/Nack, so an unacked message is redelivered after the group
// rebalances away from a dead worker.
type Consumer struct {
	client        *kgo.Client
	queues        []string
	visibility    map[string]time.Duration
	maxDeliveries int

	// seams for tests
	poll    func(ctx context.Context, max int) []*kgo.Record
	produce func(ctx context.Context, rec *kgo.Record) error
	commit  func(ctx context.Context, rec *kgo.Record) error
	now     func() time.Time

	onDeadLetter DeadLetterFunc

	mu      sync.Mutex
	pending map[string]*kgo.Record
	parked  []parkedRecord
}

// parkedRecord is a fetched retry record whose not_before lies in the future.
// It waits in memory with its offset uncommitted, so a crash hands it back to
// the group.
type parkedRecord struct {
	msg domain.Message
	rec *kgo.Record
}

// NewConsumer joins the consumer group for the given queues (base and retry
// topics). visibility maps queue name to its handler deadline; maxDeliveries
// is the delivery count after which a message dead-letters.
func NewConsumer(brokers []string, group string, queues []string, visibility map[string]time.Duration, maxDeliveries int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.new_consumer: no seed brokers provided")
	}
	topics := make([]string, 0, 2*len(queues))
	for _, q := range queues {
		topics = append(topics, queueTopic(q), retryTopic(q))
	}
	tracer := kotel.NewTracer()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(2*time.Second),
		kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new_consumer: %w", err)
	}
	c := &Consumer{
		client:        client,
		queues:        queues,
		visibility:    visibility,
		maxDeliveries: maxDeliveries,
		now:           time.Now,
		pending:       map[string]*kgo.Record{},
	}
	c.poll = func(ctx context.Context, max int) []*kgo.Record {
		fetches := client.PollRecords(ctx, max)
		var recs []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) { recs = append(recs, rec) })
		return recs
	}
	c.produce = func(ctx context.Context, rec *kgo.Record) error {
		return client.ProduceSync(ctx, rec).FirstErr()
	}
	c.commit = func(ctx context.Context, rec *kgo.Record) error {
		return client.CommitRecords(ctx, rec)
	}
	return c, nil
}

// OnDeadLetter installs the dead-letter observer.
func (c *Consumer) OnDeadLetter(fn DeadLetterFunc) { c.onDeadLetter = fn }

// Poll fetches up to max messages. Records on retry topics whose not_before
// lies in the future are parked in memory until due, so fresh topics keep
// flowing while a retry waits out its delay.
func (c *Consumer) Poll(ctx context.Context, max int) ([]domain.Message, error) {
	msgs := c.releaseDue(max)
	if len(msgs) >= max {
		return msgs, nil
	}

	// Bound the broker poll by the earliest parked due time; otherwise a
	// quiet broker would block past it.
	pollCtx := ctx
	if wait, ok := c.nextParkedDue(); ok {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	for _, rec := range c.poll(pollCtx, max-len(msgs)) {
		msg, err := c.toMessage(rec)
		if err != nil {
			observability.LoggerFromContext(ctx).Error("dropping undecodable record",
				slog.String("topic", rec.Topic), slog.Any("error", err))
			_ = c.commit(ctx, rec)
			continue
		}
		c.mu.Lock()
		if !msg.NotBefore.IsZero() && msg.NotBefore.After(c.now()) {
			c.parked = append(c.parked, parkedRecord{msg: msg, rec: rec})
			c.mu.Unlock()
			continue
		}
		c.pending[msg.ID] = rec
		c.mu.Unlock()
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return msgs, nil
}

// releaseDue moves parked messages whose delay has elapsed into the in-flight
// set, refreshing the handler deadline.
func (c *Consumer) releaseDue(max int) []domain.Message {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Message
	keep := c.parked[:0]
	for _, p := range c.parked {
		if len(out) < max && !p.msg.NotBefore.After(now) {
			p.msg.Deadline = now.Add(c.visibilityFor(p.msg.Queue))
			c.pending[p.msg.ID] = p.rec
			out = append(out, p.msg)
			continue
		}
		keep = append(keep, p)
	}
	c.parked = keep
	return out
}

// nextParkedDue reports how long until the earliest parked message comes due.
func (c *Consumer) nextParkedDue() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.parked) == 0 {
		return 0, false
	}
	earliest := c.parked[0].msg.NotBefore
	for _, p := range c.parked[1:] {
		if p.msg.NotBefore.Before(earliest) {
			earliest = p.msg.NotBefore
		}
	}
	wait := earliest.Sub(c.now())
	if wait < time.Second {
		wait = time.Second
	}
	return wait, true
}

func (c *Consumer) toMessage(rec *kgo.Record) (domain.Message, error) {
	taskName := headerValue(rec, hdrTask)
	id := headerValue(rec, hdrMsgID)
	if taskName == "" || id == "" {
		return domain.Message{}, fmt.Errorf("op=queue.decode: %w: missing task or msg_id header", domain.ErrInvalidArgument)
	}
	attempt, _ := strconv.Atoi(headerValue(rec, hdrAttempt))
	queue := queueFromTopic(rec.Topic)
	var notBefore time.Time
	if v := headerValue(rec, hdrNotBefore); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			notBefore = time.Unix(sec, 0)
		}
	}
	deadline := c.now().Add(c.visibilityFor(queue))
	return domain.Message{
		ID:        id,
		Queue:     queue,
		TaskName:  taskName,
		Payload:   json.RawMessage(rec.Value),
		Attempt:   attempt,
		NotBefore: notBefore,
		Deadline:  deadline,
	}, nil
}

func (c *Consumer) visibilityFor(queue string) time.Duration {
	if d, ok := c.visibility[queue]; ok {
		return d
	}
	return 10 * time.Minute
}

func queueFromTopic(topic string) string {
	q := strings.TrimPrefix(topic, topicPrefix)
	return strings.TrimSuffix(q, ".retry")
}

// Ack commits the message's offset, settling it permanently.
func (c *Consumer) Ack(ctx context.Context, msg domain.Message) error {
	rec := c.take(msg.ID)
	if rec == nil {
		return fmt.Errorf("op=queue.ack: %w: message %s not in flight", domain.ErrNotFound, msg.ID)
	}
	if err := c.commit(ctx, rec); err != nil {
		return fmt.Errorf("op=queue.ack: %w", err)
	}
	return nil
}

// Nack re-enqueues the message on its retry topic after delay, or routes it
// to the dead-letter topic once deliveries are exhausted. The original offset
// commits either way; redelivery happens through the produced copy.
func (c *Consumer) Nack(ctx context.Context, msg domain.Message, delay time.Duration) error {
	op := "queue.nack"
	rec := c.take(msg.ID)
	if rec == nil {
		return fmt.Errorf("op=%s: %w: message %s not in flight", op, domain.ErrNotFound, msg.ID)
	}
	attempt := msg.Attempt + 1
	logger := observability.LoggerFromContext(ctx)

	if attempt > c.maxDeliveries {
		dead := buildRecord(dlqTopic, msg.TaskName, msg.ID, msg.Payload, attempt, time.Time{})
		dead.Headers = append(dead.Headers, kgo.RecordHeader{Key: "source_queue", Value: []byte(msg.Queue)})
		if err := c.produce(ctx, dead); err != nil {
			return fmt.Errorf("op=%s: %w", op, err)
		}
		observability.TasksDeadLetteredTotal.WithLabelValues(msg.Queue, msg.TaskName).Inc()
		logger.Error("message dead-lettered",
			slog.String("queue", msg.Queue),
			slog.String("task", msg.TaskName),
			slog.String("msg_id", msg.ID),
			slog.Int("deliveries", attempt))
		if c.onDeadLetter != nil {
			c.onDeadLetter(ctx, msg, "exhausted")
		}
	} else {
		retry := buildRecord(retryTopic(msg.Queue), msg.TaskName, msg.ID, msg.Payload, attempt, c.now().Add(delay))
		if err := c.produce(ctx, retry); err != nil {
			return fmt.Errorf("op=%s: %w", op, err)
		}
		logger.Warn("message scheduled for retry",
			slog.String("queue", msg.Queue),
			slog.String("task", msg.TaskName),
			slog.String("msg_id", msg.ID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))
	}
	if err := c.commit(ctx, rec); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}

func (c *Consumer) take(id string) *kgo.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.pending[id]
	delete(c.pending, id)
	return rec
}

// Close leaves the group, forcing unacked messages back into redelivery.
func (c *Consumer) Close() { c.client.Close() }
