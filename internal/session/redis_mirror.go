package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// RedisMirror 将设备与通道状态镜像到 Redis，并发布接收数据，
// 供其它进程（API 副本、数据消费者）读取
type RedisMirror struct {
	*ant.DefaultEventHandler

	client     *redis.Client
	instanceID string
	prefix     string
	ttl        time.Duration
	opTimeout  time.Duration
	log        *zap.Logger
}

// DataRecord 发布到数据频道的消息
type DataRecord struct {
	Instance   string            `json:"instance"`
	Channel    uint8             `json:"channel"`
	Kind       string            `json:"kind"` // broadcast | acknowledged | burst
	Data       string            `json:"data"` // hex
	Ext        *ant.ExtendedInfo `json:"ext,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Redis Key设计
const (
	// {prefix}device:{instance} -> Hash{info: DeviceInfo JSON, updated_at}
	keyDevice = "device:"

	// {prefix}channel:{instance}:{n} -> channel.Snapshot JSON
	keyChannel = "channel:"

	// {prefix}channels:{instance} -> Set[n]
	keyChannels = "channels:"

	// {prefix}data:{instance} -> Pub/Sub DataRecord JSON
	keyData = "data:"
)

// NewRedisMirror 创建镜像；instanceID 为空时随机生成
func NewRedisMirror(client *redis.Client, instanceID, prefix string, ttl time.Duration, log *zap.Logger) *RedisMirror {
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisMirror{
		DefaultEventHandler: ant.NewDefaultEventHandler(log),
		client:              client,
		instanceID:          instanceID,
		prefix:              prefix,
		ttl:                 ttl,
		opTimeout:           time.Second,
		log:                 log,
	}
}

func (m *RedisMirror) InstanceID() string { return m.instanceID }

func (m *RedisMirror) deviceKey() string { return m.prefix + keyDevice + m.instanceID }
func (m *RedisMirror) channelsKey() string {
	return m.prefix + keyChannels + m.instanceID
}
func (m *RedisMirror) channelKey(n uint8) string {
	return fmt.Sprintf("%s%s%s:%d", m.prefix, keyChannel, m.instanceID, n)
}

// DataChannel 订阅接收数据使用的频道名
func (m *RedisMirror) DataChannel() string { return m.prefix + keyData + m.instanceID }

func (m *RedisMirror) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.opTimeout)
}

// --- session.Listener ---

func (m *RedisMirror) DeviceUpdated(info DeviceInfo) {
	ctx, cancel := m.ctx()
	defer cancel()

	data, err := json.Marshal(info)
	if err != nil {
		m.log.Warn("mirror device marshal failed", zap.Error(err))
		return
	}
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, m.deviceKey(), "info", data, "updated_at", info.UpdatedAt.Unix())
	pipe.Expire(ctx, m.deviceKey(), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("mirror device failed", zap.Error(err))
	}
}

// --- channel.Observer ---

func (m *RedisMirror) ChannelUpdated(s channel.Snapshot) {
	ctx, cancel := m.ctx()
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		m.log.Warn("mirror channel marshal failed", zap.Error(err))
		return
	}
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.channelKey(s.Number), data, m.ttl)
	pipe.SAdd(ctx, m.channelsKey(), s.Number)
	pipe.Expire(ctx, m.channelsKey(), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("mirror channel failed", zap.Uint8("channel", s.Number), zap.Error(err))
	}
}

func (m *RedisMirror) ChannelRemoved(n uint8) {
	ctx, cancel := m.ctx()
	defer cancel()

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.channelKey(n))
	pipe.SRem(ctx, m.channelsKey(), n)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("mirror channel remove failed", zap.Uint8("channel", n), zap.Error(err))
	}
}

func (m *RedisMirror) Cleared() {
	ctx, cancel := m.ctx()
	defer cancel()
	if err := m.clearChannels(ctx); err != nil {
		m.log.Warn("mirror clear failed", zap.Error(err))
	}
}

func (m *RedisMirror) clearChannels(ctx context.Context) error {
	members, err := m.client.SMembers(ctx, m.channelsKey()).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(members)+1)
	for _, s := range members {
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			continue
		}
		keys = append(keys, m.channelKey(uint8(n)))
	}
	keys = append(keys, m.channelsKey())
	return m.client.Del(ctx, keys...).Err()
}

// --- 读取 ---

// Channels 读取镜像中的通道快照，按通道号排序
func (m *RedisMirror) Channels(ctx context.Context) ([]channel.Snapshot, error) {
	members, err := m.client.SMembers(ctx, m.channelsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]channel.Snapshot, 0, len(members))
	for n := 0; n < 256 && len(out) < len(members); n++ {
		val, err := m.client.Get(ctx, m.channelKey(uint8(n))).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var s channel.Snapshot
		if err := json.Unmarshal([]byte(val), &s); err != nil {
			return nil, fmt.Errorf("decode channel %d: %w", n, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Device 读取镜像中的设备信息
func (m *RedisMirror) Device(ctx context.Context) (*DeviceInfo, error) {
	val, err := m.client.HGet(ctx, m.deviceKey(), "info").Result()
	if err != nil {
		return nil, err
	}
	var info DeviceInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// --- ant.EventHandler：接收数据发布 ---

func (m *RedisMirror) OnBroadcast(ctx context.Context, msg ant.DataMessage) {
	m.publish(ctx, msg.Channel, "broadcast", msg.Data, msg.Ext)
}

func (m *RedisMirror) OnAcknowledged(ctx context.Context, msg ant.DataMessage) {
	m.publish(ctx, msg.Channel, "acknowledged", msg.Data, msg.Ext)
}

func (m *RedisMirror) OnBurstTransfer(ctx context.Context, ch uint8, data []byte, ext *ant.ExtendedInfo) {
	m.publish(ctx, ch, "burst", data, ext)
}

func (m *RedisMirror) publish(ctx context.Context, ch uint8, kind string, data []byte, ext *ant.ExtendedInfo) {
	rec := DataRecord{
		Instance:   m.instanceID,
		Channel:    ch,
		Kind:       kind,
		Data:       hex.EncodeToString(data),
		Ext:        ext,
		ReceivedAt: time.Now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	if err := m.client.Publish(ctx, m.DataChannel(), payload).Err(); err != nil {
		m.log.Warn("mirror publish failed", zap.Uint8("channel", ch), zap.Error(err))
	}
}

// Cleanup 删除本实例的全部镜像数据（用于优雅关闭）
func (m *RedisMirror) Cleanup(ctx context.Context) error {
	if err := m.clearChannels(ctx); err != nil {
		return err
	}
	return m.client.Del(ctx, m.deviceKey()).Err()
}

var (
	_ Listener         = (*RedisMirror)(nil)
	_ channel.Observer = (*RedisMirror)(nil)
	_ ant.EventHandler = (*RedisMirror)(nil)
)
