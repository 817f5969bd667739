package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steank-29/tawakkol/internal/app"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/notify"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) SendOrderConfirmation(_ context.Context, order domain.Order, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, order.Number+"->"+to)
	return nil
}

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func confirmationBody(t *testing.T, number, to string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.ConfirmationRequest{
		To:          to,
		Order:       domain.Order{ID: "id-1", Number: number, Status: domain.OrderStatusPending},
		RequestedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return body
}

func testLogger() *log.Entry { return log.WithField("test", "mailer") }

func TestParseSource(t *testing.T) {
	for _, raw := range []string{"kafka", " RabbitMQ "} {
		_, err := parseSource(raw)
		assert.NoError(t, err, raw)
	}
	_, err := parseSource("sqs")
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	assert.NoError(t, setupLogger("debug"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.Error(t, setupLogger("verbose"))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestBuildSender(t *testing.T) {
	cfg := app.DefaultConfig()

	sender, err := buildSender(cfg, true, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.LogNotifier{}, sender)

	_, err = buildSender(cfg, false, testLogger())
	assert.Error(t, err, "smtp host and sender address are required")

	cfg.SMTPHost = "mail.example.com"
	cfg.SMTPFrom = "orders@example.com"
	sender, err = buildSender(cfg, false, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.SMTPNotifier{}, sender)
}

func TestKafkaHandler(t *testing.T) {
	sender := &recordingSender{}
	handle := kafkaHandler(sender, testLogger())

	err := handle(context.Background(), &sarama.ConsumerMessage{Value: confirmationBody(t, "ORD2601011234", "amira@example.com")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD2601011234->amira@example.com"}, sender.messages())

	err = handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"to":""}`)})
	assert.NoError(t, err, "malformed requests are dropped, not retried")
	assert.Len(t, sender.messages(), 1)

	sender.err = domain.ErrNotificationFailed
	err = handle(context.Background(), &sarama.ConsumerMessage{Value: confirmationBody(t, "ORD2601015678", "sami@example.com")})
	assert.ErrorIs(t, err, domain.ErrNotificationFailed, "send failures are retried by the consumer")
}

type fakeGroup struct {
	started, stopped bool
	startErr         error
}

func (g *fakeGroup) Start(context.Context) error {
	g.started = true
	return g.startErr
}

func (g *fakeGroup) Stop() error {
	g.stopped = true
	return nil
}

func TestRunKafka(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	group := &fakeGroup{}
	require.NoError(t, runKafka(ctx, group))
	assert.True(t, group.started)
	assert.True(t, group.stopped)

	failing := &fakeGroup{startErr: errors.New("no brokers")}
	assert.Error(t, runKafka(context.Background(), failing))
	assert.False(t, failing.stopped)
}

func TestNewKafkaGroup_RequiresBrokers(t *testing.T) {
	_, _, err := newKafkaGroup(app.DefaultConfig(), defaultGroupID, &recordingSender{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokers")
}

type fakeChannel struct {
	declared   []string
	deliveries chan amqp.Delivery
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(context.Context, string, string, bool, bool, amqp.Publishing) error {
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error { return nil }

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error { return a.Nack(tag, false, false) }

func TestRunRabbitMQ_SendsAndAcknowledges(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 2)}
	ack := &fakeAcknowledger{}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: confirmationBody(t, "ORD2601011234", "amira@example.com")}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("not json")}
	close(ch.deliveries)

	sender := &recordingSender{}
	err := runRabbitMQ(context.Background(), ch, "", sender, testLogger())
	require.Error(t, err, "closed deliveries channel ends the consumer")

	assert.Equal(t, []string{"tawakkol.order.confirmations"}, ch.declared)
	assert.Equal(t, []string{"ORD2601011234->amira@example.com"}, sender.messages())
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.nacked)
}

func TestRunRabbitMQ_StopsOnCancel(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runRabbitMQ(ctx, ch, "custom.queue", &recordingSender{}, testLogger()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
	assert.Equal(t, []string{"custom.queue"}, ch.declared)
}
