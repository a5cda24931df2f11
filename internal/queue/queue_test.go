package queue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bloodbank-sync/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*miniredis.Miniredis, *queue.RedisQueue) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, queue.NewRedisQueue(client, "push:queue:test")
}

func msg(id string, at time.Time) queue.QueuedMessage {
	return queue.QueuedMessage{
		ID:         id,
		Payload:    json.RawMessage(`{"notification":{"title":"t","body":"b"}}`),
		ReceivedAt: at,
	}
}

// 两个后端共享同一组行为测试
func backends(t *testing.T) map[string]queue.MessageQueue {
	_, rq := newRedisQueue(t)
	fq, err := queue.NewFileQueue(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	return map[string]queue.MessageQueue{"redis": rq, "file": fq}
}

func TestQueue_EnqueueIsIdempotentByID(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Enqueue(ctx, msg("m1", now)))
			require.NoError(t, q.Enqueue(ctx, msg("m1", now.Add(time.Second))))
			require.NoError(t, q.Enqueue(ctx, msg("m2", now.Add(-time.Second))))

			all, err := q.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "m2", all[0].ID)
			assert.Equal(t, "m1", all[1].ID)
			assert.WithinDuration(t, now, all[1].ReceivedAt, time.Millisecond)
		})
	}
}

func TestQueue_RemoveMany(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, q.Enqueue(ctx, msg(id, now)))
			}
			require.NoError(t, q.RemoveMany(ctx, []string{"a", "c", "missing"}))
			require.NoError(t, q.RemoveMany(ctx, nil))

			all, err := q.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "b", all[0].ID)
		})
	}
}

func TestQueue_RejectsEmptyID(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := q.Enqueue(context.Background(), msg(" ", time.Now()))
			assert.ErrorIs(t, err, queue.ErrInvalidMessage)
		})
	}
}

func TestQueue_EnqueueInterleavesWithRemove(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			for i := 0; i < 10; i++ {
				require.NoError(t, q.Enqueue(ctx, msg(string(rune('a'+i)), now)))
			}
			listed, err := q.ListAll(ctx)
			require.NoError(t, err)
			ids := make([]string, 0, len(listed))
			for _, m := range listed {
				ids = append(ids, m.ID)
			}

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					_ = q.Enqueue(ctx, msg(string(rune('A'+i)), now))
				}
			}()
			go func() {
				defer wg.Done()
				_ = q.RemoveMany(ctx, ids)
			}()
			wg.Wait()

			all, err := q.ListAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 10)
			for _, m := range all {
				assert.True(t, m.ID >= "A" && m.ID <= "J", m.ID)
			}
		})
	}
}

func TestFileQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.json")
	ctx := context.Background()

	q1, err := queue.NewFileQueue(path)
	require.NoError(t, err)
	require.NoError(t, q1.Enqueue(ctx, msg("m1", time.Now())))
	require.NoError(t, q1.Close())

	q2, err := queue.NewFileQueue(path)
	require.NoError(t, err)
	all, err := q2.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "m1", all[0].ID)
	assert.JSONEq(t, `{"notification":{"title":"t","body":"b"}}`, string(all[0].Payload))
}

func TestFileQueue_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	ctx := context.Background()

	syncSide, err := queue.NewFileQueue(path)
	require.NoError(t, err)
	relaySide, err := queue.NewFileQueue(path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, syncSide.Enqueue(ctx, msg("m0", now)))
	require.NoError(t, relaySide.Enqueue(ctx, msg("m1", now.Add(time.Millisecond))))

	all, err := syncSide.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m0", all[0].ID)
	assert.Equal(t, "m1", all[1].ID)

	require.NoError(t, syncSide.RemoveMany(ctx, []string{"m0"}))

	reopened, err := queue.NewFileQueue(path)
	require.NoError(t, err)
	left, err := reopened.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "m1", left[0].ID)

	depth, err := relaySide.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestFileQueue_ConcurrentWritersKeepEveryMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	ctx := context.Background()

	a, err := queue.NewFileQueue(path)
	require.NoError(t, err)
	b, err := queue.NewFileQueue(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, q := range []*queue.FileQueue{a, b} {
		wg.Add(1)
		go func(prefix string, q *queue.FileQueue) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, q.Enqueue(ctx, msg(fmt.Sprintf("%s-%02d", prefix, j), time.Now())))
			}
		}(fmt.Sprintf("w%d", i), q)
	}
	wg.Wait()

	all, err := a.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 40)
}

func TestFileQueue_CorruptFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := queue.NewFileQueue(path)
	assert.Error(t, err)
}

func TestRedisQueue_Depth(t *testing.T) {
	_, q := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, msg("m1", time.Now())))
	n, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNew_Backends(t *testing.T) {
	_, err := queue.New(queue.Options{Backend: "redis"}, nil)
	assert.Error(t, err)

	q, err := queue.New(queue.Options{Backend: "file", FilePath: filepath.Join(t.TempDir(), "q.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &queue.FileQueue{}, q)

	_, err = queue.New(queue.Options{Backend: "indexeddb"}, nil)
	assert.Error(t, err)
}
