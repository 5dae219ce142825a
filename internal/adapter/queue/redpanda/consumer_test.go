package redpanda

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

func newTestConsumer() (*Consumer, *[]*kgo.Record, *[]*kgo.Record) {
	var produced, committed []*kgo.Record
	c := &Consumer{
		visibility:    map[string]time.Duration{"execution": 5 * time.Minute},
		maxDeliveries: 5,
		now:           func() time.Time { return time.Unix(1_700_000_000, 0) },
		pending:       map[string]*kgo.Record{},
	}
	c.produce = func(_ context.Context, rec *kgo.Record) error {
		produced = append(produced, rec)
		return nil
	}
	c.commit = func(_ context.Context, rec *kgo.Record) error {
		committed = append(committed, rec)
		return nil
	}
	return c, &produced, &committed
}

func inflight(c *Consumer, msg domain.Message) {
	c.pending[msg.ID] = &kgo.Record{Topic: queueTopic(msg.Queue)}
}

func TestQueueFromTopic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "execution", queueFromTopic("tasks.execution"))
	assert.Equal(t, "execution", queueFromTopic("tasks.execution.retry"))
	assert.Equal(t, "ai", queueFromTopic("tasks.ai"))
}

func TestToMessage_HeadersAndDeadline(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestConsumer()
	rec := buildRecord(queueTopic("execution"), "submission.execute", "m1",
		[]byte(`{"history_id":"h1"}`), 2, time.Unix(1_700_000_100, 0))

	msg, err := c.toMessage(rec)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "execution", msg.Queue)
	assert.Equal(t, "submission.execute", msg.TaskName)
	assert.Equal(t, 2, msg.Attempt)
	assert.Equal(t, time.Unix(1_700_000_100, 0), msg.NotBefore)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(5*time.Minute), msg.Deadline)
	assert.JSONEq(t, `{"history_id":"h1"}`, string(msg.Payload))
}

func TestToMessage_MissingHeadersRejected(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestConsumer()
	_, err := c.toMessage(&kgo.Record{Topic: "tasks.jobs", Value: []byte("{}")})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestPoll_ParksFutureRetryAndKeepsFreshFlowing(t *testing.T) {
	t.Parallel()
	c, _, committed := newTestConsumer()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	retry := buildRecord(retryTopic("execution"), "submission.execute", "r1",
		[]byte(`{}`), 2, now.Add(25*time.Minute))
	fresh := buildRecord(queueTopic("execution"), "submission.execute", "f1",
		[]byte(`{}`), 0, time.Time{})
	polls := [][]*kgo.Record{{retry, fresh}}
	c.poll = func(_ context.Context, _ int) []*kgo.Record {
		if len(polls) == 0 {
			return nil
		}
		recs := polls[0]
		polls = polls[1:]
		return recs
	}

	msgs, err := c.Poll(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the delayed retry must not block the fresh message")
	assert.Equal(t, "f1", msgs[0].ID)
	assert.Empty(t, *committed, "parked offsets stay uncommitted")

	msgs, err = c.Poll(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, msgs, "retry still waiting out its delay")

	now = now.Add(26 * time.Minute)
	msgs, err = c.Poll(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "r1", msgs[0].ID)
	assert.Equal(t, now.Add(5*time.Minute), msgs[0].Deadline,
		"handler deadline is measured from release, not fetch")
	require.NoError(t, c.Ack(context.Background(), msgs[0]))
	assert.Len(t, *committed, 1)
}

func TestPoll_BoundsBrokerWaitWhileParked(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestConsumer()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	c.parked = []parkedRecord{{
		msg: domain.Message{ID: "r1", Queue: "execution", NotBefore: now.Add(10 * time.Minute)},
		rec: &kgo.Record{},
	}}

	var gotDeadline time.Time
	c.poll = func(ctx context.Context, _ int) []*kgo.Record {
		gotDeadline, _ = ctx.Deadline()
		return nil
	}

	_, err := c.Poll(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, gotDeadline.IsZero(), "broker poll must not outlast the parked due time")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), gotDeadline, time.Minute)
}

func TestAck_CommitsOffset(t *testing.T) {
	t.Parallel()
	c, produced, committed := newTestConsumer()
	msg := domain.Message{ID: "m1", Queue: "execution", TaskName: "submission.execute"}
	inflight(c, msg)

	require.NoError(t, c.Ack(context.Background(), msg))
	assert.Len(t, *committed, 1)
	assert.Empty(t, *produced)

	err := c.Ack(context.Background(), msg)
	assert.ErrorIs(t, err, domain.ErrNotFound, "double ack is rejected")
}

func TestNack_SchedulesRetryWithDelay(t *testing.T) {
	t.Parallel()
	c, produced, committed := newTestConsumer()
	msg := domain.Message{
		ID: "m1", Queue: "execution", TaskName: "submission.execute",
		Payload: json.RawMessage(`{}`), Attempt: 1,
	}
	inflight(c, msg)

	require.NoError(t, c.Nack(context.Background(), msg, time.Minute))
	require.Len(t, *produced, 1)
	rec := (*produced)[0]
	assert.Equal(t, "tasks.execution.retry", rec.Topic)
	assert.Equal(t, "2", headerValue(rec, hdrAttempt))
	assert.Equal(t, "1700000060", headerValue(rec, hdrNotBefore))
	assert.Len(t, *committed, 1, "original offset commits after the retry copy lands")
}

func TestNack_ExhaustedDeliveriesDeadLetter(t *testing.T) {
	t.Parallel()
	c, produced, committed := newTestConsumer()
	var deadLettered []string
	c.OnDeadLetter(func(_ context.Context, msg domain.Message, reason string) {
		deadLettered = append(deadLettered, msg.ID+":"+reason)
	})
	msg := domain.Message{
		ID: "m1", Queue: "execution", TaskName: "submission.execute",
		Payload: json.RawMessage(`{}`), Attempt: 5,
	}
	inflight(c, msg)

	require.NoError(t, c.Nack(context.Background(), msg, time.Minute))
	require.Len(t, *produced, 1)
	rec := (*produced)[0]
	assert.Equal(t, dlqTopic, rec.Topic)
	assert.Equal(t, "execution", headerValue(rec, "source_queue"))
	assert.Len(t, *committed, 1)
	assert.Equal(t, []string{"m1:exhausted"}, deadLettered)
}

func TestBuildRecord_OmitsZeroNotBefore(t *testing.T) {
	t.Parallel()
	rec := buildRecord(queueTopic("jobs"), "job.delete", "m2", []byte(`{}`), 0, time.Time{})
	assert.Empty(t, headerValue(rec, hdrNotBefore))
	assert.Equal(t, "0", headerValue(rec, hdrAttempt))
	assert.Equal(t, []byte("m2"), rec.Key)
}
