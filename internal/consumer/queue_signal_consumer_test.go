package consumer

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqttcommon "bloodbank-sync/common/mqtt"
	rediscommon "bloodbank-sync/common/redis"
	"bloodbank-sync/internal/models"
	"bloodbank-sync/internal/notification"
	"bloodbank-sync/internal/queue"
	"bloodbank-sync/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testStream = "push:queue:events"

func newRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestQueueSignalConsumer_BatchTriggersOnceAndAcks(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)

	var calls atomic.Int32
	c := NewQueueSignalConsumer(client, func(context.Context) { calls.Add(1) }, zap.NewNop(), testStream, "sync-group", "sync-1")
	c.block = 10 * time.Millisecond

	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "sync-group"))
	require.NoError(t, PublishQueueChanged(ctx, client, testStream, QueueChangedEvent{MessageID: "m1"}))
	require.NoError(t, PublishQueueChanged(ctx, client, testStream, QueueChangedEvent{MessageID: "m2"}))

	require.NoError(t, c.consumeOnce(ctx))
	assert.Equal(t, int32(1), calls.Load())

	pending, err := client.XPending(ctx, testStream, "sync-group").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	require.NoError(t, c.consumeOnce(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

type fakeSubscriber struct {
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	if s.handlers == nil {
		s.handlers = make(map[string]mqttcommon.MessageHandler)
	}
	s.handlers[topic] = handler
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	for _, topic := range topics {
		delete(s.handlers, topic)
	}
	s.unsubscribed = append(s.unsubscribed, topics...)
	return nil
}

func TestPushRelay_EnqueuesAndSignals(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	q, err := queue.NewFileQueue(filepath.Join(t.TempDir(), "q.json"))
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	relay := NewPushRelay(sub, q, client, testStream, "bloodbank/push/", 1, zap.NewNop())

	payload := []byte(`{"notification":{"title":"Urgent"},"data":{"targetUserId":"user-1"}}`)
	require.NoError(t, relay.handleMessage("bloodbank/push/user-1", payload))
	require.NoError(t, relay.handleMessage("bloodbank/push/user-1", payload))

	msgs, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "same payload must map to one stable id")
	assert.JSONEq(t, string(payload), string(msgs[0].Payload))

	n, err := client.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPushRelay_StartSubscribesWildcard(t *testing.T) {
	sub := &fakeSubscriber{}
	relay := NewPushRelay(sub, nil, nil, testStream, "bloodbank/push/", 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"bloodbank/push/+"}, sub.unsubscribed)
}

type recordingHandler struct {
	users    []string
	payloads [][]byte
}

func (h *recordingHandler) HandleForeground(_ context.Context, userID string, raw []byte) error {
	h.users = append(h.users, userID)
	h.payloads = append(h.payloads, raw)
	return nil
}

func TestPushConsumer_AttachDetach(t *testing.T) {
	sub := &fakeSubscriber{}
	h := &recordingHandler{}
	c := NewPushConsumer(sub, h, "bloodbank/push/", 1, zap.NewNop())

	require.NoError(t, c.Attach(context.Background(), "user-1"))
	handler := sub.handlers["bloodbank/push/user-1"]
	require.NotNil(t, handler)
	require.NoError(t, handler("bloodbank/push/user-1", []byte(`{"messageId":"m1"}`)))
	assert.Len(t, h.payloads, 1)
	assert.Equal(t, []string{"user-1"}, h.users)

	require.NoError(t, c.Attach(context.Background(), "user-2"))
	assert.Equal(t, []string{"bloodbank/push/user-1"}, sub.unsubscribed)

	c.Detach()
	c.Detach()
	assert.Equal(t, []string{"bloodbank/push/user-1", "bloodbank/push/user-2"}, sub.unsubscribed)
}

type recordingStore struct {
	mu   sync.Mutex
	recs []models.NotificationRecord
}

func (s *recordingStore) UpsertNotification(_ context.Context, rec models.NotificationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return true, nil
}

func (s *recordingStore) records() []models.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NotificationRecord(nil), s.recs...)
}

func TestPushRelay_MessageStaysWithTopicUser(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	q, err := queue.NewFileQueue(filepath.Join(t.TempDir(), "q.json"))
	require.NoError(t, err)

	relay := NewPushRelay(&fakeSubscriber{}, q, client, testStream, "bloodbank/push/", 1, zap.NewNop())
	require.NoError(t, relay.handleMessage("bloodbank/push/alice",
		[]byte(`{"messageId":"m1","notification":{"title":"Urgent O-","body":"2 units"}}`)))

	store := &recordingStore{}
	bridge := notification.NewBridge(q, store, map[string]bool{"bloodbank": true}, zap.NewNop())

	bob, err := session.Begin(ctx, "bob", "bloodbank", "bank-1")
	require.NoError(t, err)
	bridge.SetSession(bob)
	require.Eventually(t, func() bool {
		res, err := bridge.Flush(ctx)
		return err == nil && !res.Skipped
	}, 2*time.Second, 5*time.Millisecond)
	bob.End()

	assert.Empty(t, store.records())
	msgs, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].TargetUserID)

	alice, err := session.Begin(ctx, "alice", "bloodbank", "bank-1")
	require.NoError(t, err)
	defer alice.End()
	bridge.SetSession(alice)
	require.Eventually(t, func() bool {
		_, _ = bridge.Flush(ctx)
		left, err := q.ListAll(ctx)
		return err == nil && len(left) == 0
	}, 2*time.Second, 5*time.Millisecond)

	recs := store.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].ID)
	assert.Equal(t, "alice", recs[0].UserID)
	assert.Equal(t, "Urgent O-", recs[0].Title)
}
