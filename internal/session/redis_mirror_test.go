package session

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// 使用测试用Redis客户端（需要真实Redis实例，REDIS_ADDR 未设置时跳过）
func setupTestRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis test")
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   15, // 使用测试专用数据库
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestRedisMirrorChannels(t *testing.T) {
	client := setupTestRedis(t)
	m := NewRedisMirror(client, "test-1", "ant:", time.Minute, zaptest.NewLogger(t))

	registry := channel.NewRegistry(8, channel.WithObserver(m))
	require.NoError(t, registry.ExpectAssign(2, channel.Config{Type: ant.ChannelTypeSlave}))
	require.NoError(t, registry.Confirm(2, ant.MesgAssignChannel))
	require.NoError(t, registry.ExpectAssign(0, channel.Config{Type: ant.ChannelTypeMaster}))
	require.NoError(t, registry.Confirm(0, ant.MesgAssignChannel))

	ctx := context.Background()
	snaps, err := m.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, uint8(0), snaps[0].Number)
	assert.Equal(t, channel.Assigned, snaps[1].State)

	assert.True(t, registry.ChannelClosed(2))
	snaps, err = m.Channels(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	registry.Clear()
	snaps, err = m.Channels(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestRedisMirrorDevice(t *testing.T) {
	client := setupTestRedis(t)
	m := NewRedisMirror(client, "", "ant:", time.Minute, nil)
	assert.NotEmpty(t, m.InstanceID())

	s := New(nil, nil, nil, WithListener(m))
	s.SetSerialNumber(42)

	info, err := m.Device(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info.SerialNumber)
	assert.Equal(t, uint32(42), *info.SerialNumber)

	require.NoError(t, m.Cleanup(context.Background()))
	_, err = m.Device(context.Background())
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisMirrorPublish(t *testing.T) {
	client := setupTestRedis(t)
	m := NewRedisMirror(client, "test-pub", "ant:", time.Minute, nil)

	ctx := context.Background()
	sub := client.Subscribe(ctx, m.DataChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	m.OnBroadcast(ctx, ant.DataMessage{Channel: 1, Data: []byte{0xDE, 0xAD}})

	select {
	case msg := <-sub.Channel():
		var rec DataRecord
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &rec))
		assert.Equal(t, uint8(1), rec.Channel)
		assert.Equal(t, "broadcast", rec.Kind)
		assert.Equal(t, "dead", rec.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
