package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreams_PublishReadAck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, CreateConsumerGroup(ctx, client, "push:queue:events", "bridge"))
	// 组已存在时不报错
	require.NoError(t, CreateConsumerGroup(ctx, client, "push:queue:events", "bridge"))

	_, err := PublishJSONToStream(ctx, client, "push:queue:events", map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "push:queue:events", "bridge", "bridge-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &payload))
	assert.Equal(t, "m1", payload["message_id"])

	require.NoError(t, Ack(ctx, client, "push:queue:events", "bridge", msgs[0].ID))
}
