package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/messaging/kafka"
)

var errNothingToReplay = errors.New("dlq entry has no original message")

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayPublisher реализуется *kafka.Producer.
type replayPublisher interface {
	PublishEventWithHeaders(topic string, key string, event interface{}, headers map[string]string) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// replayMessage — то, что будет заново опубликовано.
type replayMessage struct {
	topic     string
	key       string
	eventType string
	value     json.RawMessage
}

// consumerDLQEntry пишет kafka.Consumer, когда обработчик исчерпал попытки.
type consumerDLQEntry struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
}

// outboxDLQEntry пишет outbox.Relay внутрь kafka.Envelope.
type outboxDLQEntry struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	cfg       config
	client    offsetClient
	consumer  partitionConsumerSource
	publisher replayPublisher
	logger    *log.Entry
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.client == nil || r.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= r.cfg.limit {
			break
		}
		stats, err := r.scanPartition(ctx, partition, r.cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			if err := r.handle(msg); err != nil {
				if errors.Is(err, errPublish) {
					return stats, err
				}
				stats.skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idle.C:
			return stats, nil
		}
	}
	return stats, nil
}

var (
	errPublish       = errors.New("publish replay message")
	errFilteredEvent = errors.New("event type does not match filter")
)

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	replay, err := extractReplayMessage(msg, r.cfg.targetTopic)
	if err != nil {
		return err
	}
	if r.cfg.eventType != "" && replay.eventType != r.cfg.eventType {
		return fmt.Errorf("%w: %q", errFilteredEvent, replay.eventType)
	}

	fields := log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": replay.topic,
		"key":          replay.key,
		"event_type":   replay.eventType,
	}
	if !r.cfg.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}

	headers := map[string]string{}
	if replay.eventType != "" {
		headers[kafka.HeaderEventType] = replay.eventType
	}
	if err := r.publisher.PublishEventWithHeaders(replay.topic, replay.key, replay.value, headers); err != nil {
		return fmt.Errorf("%w: %w", errPublish, err)
	}
	r.logger.WithFields(fields).Debug("dlq message replayed")
	return nil
}

// extractReplayMessage восстанавливает исходное сообщение из записи DLQ.
// Записи consumer-а возвращаются в свой исходный topic, записи outbox идут в defaultTopic.
func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, error) {
	var entry consumerDLQEntry
	if err := json.Unmarshal(msg.Value, &entry); err == nil && entry.OriginalValue != "" {
		if !json.Valid([]byte(entry.OriginalValue)) {
			return replayMessage{}, errors.New("original value is not valid JSON")
		}
		topic := strings.TrimSpace(entry.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return replayMessage{
			topic:     topic,
			key:       entry.OriginalKey,
			eventType: headerValue(msg, kafka.HeaderEventType),
			value:     json.RawMessage(entry.OriginalValue),
		}, nil
	}

	var env kafka.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || len(env.Payload) == 0 {
		return replayMessage{}, errNothingToReplay
	}

	var outboxEntry outboxDLQEntry
	if err := json.Unmarshal(env.Payload, &outboxEntry); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(outboxEntry.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dlq payload does not contain original event payload")
	}

	original := domain.OutboxMessage{
		ID:            firstNonEmpty(outboxEntry.OutboxID, env.ID),
		AggregateType: firstNonEmpty(outboxEntry.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(outboxEntry.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(outboxEntry.EventType, env.EventType),
		Payload:       outboxEntry.Payload,
	}
	encoded, err := json.Marshal(kafka.NewEnvelope(original, time.Now().UTC()))
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:     defaultTopic,
		key:       firstNonEmpty(original.AggregateID, original.ID),
		eventType: original.EventType,
		value:     encoded,
	}, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
