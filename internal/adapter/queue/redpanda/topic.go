package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// Topic layout: one topic per queue, a sibling retry topic per queue, and a
// single shared dead-letter topic.
const (
	topicPrefix = "tasks."
	dlqTopic    = "tasks.dlq"
)

func queueTopic(queue string) string { return topicPrefix + queue }
func retryTopic(queue string) string { return topicPrefix + queue + ".retry" }

// kafkaErrTopicAlreadyExists is protocol error code 36.
const kafkaErrTopicAlreadyExists = 36

// createTopicIfNotExists provisions a topic through the admin API, treating
// "already exists" as success.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("op=queue.create_topic: topic name cannot be empty")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=queue.create_topic: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=queue.create_topic: unexpected response type %T", resp)
	}
	for _, tr := range createResp.Topics {
		if tr.ErrorCode == 0 {
			slog.Info("topic created", slog.String("topic", tr.Topic))
			continue
		}
		if tr.ErrorCode == kafkaErrTopicAlreadyExists {
			continue
		}
		msg := ""
		if tr.ErrorMessage != nil {
			msg = *tr.ErrorMessage
		}
		return fmt.Errorf("op=queue.create_topic: %s (code %d)", msg, tr.ErrorCode)
	}
	return nil
}

// EnsureQueueTopics provisions the base, retry, and dead-letter topics for
// the given queues. Safe to call from every process at startup.
func EnsureQueueTopics(ctx context.Context, client *kgo.Client, queues []string) error {
	for _, q := range queues {
		if err := createTopicIfNotExists(ctx, client, queueTopic(q), 1, 1); err != nil {
			return err
		}
		if err := createTopicIfNotExists(ctx, client, retryTopic(q), 1, 1); err != nil {
			return err
		}
	}
	return createTopicIfNotExists(ctx, client, dlqTopic, 1, 1)
}
