package thirdparty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

func TestForwarderPushesEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []StandardEvent
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev StandardEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var (
		rmu     sync.Mutex
		results []string
	)
	f := NewForwarder(NewPusher(nil, "key", "secret"), ts.URL, "ant-test",
		WithForwarderLogger(zaptest.NewLogger(t)),
		WithResultFunc(func(r string) {
			rmu.Lock()
			results = append(results, r)
			rmu.Unlock()
		}))
	f.now = func() time.Time { return time.UnixMilli(1700000000123) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	ts16 := uint16(512)
	f.OnBroadcast(ctx, ant.DataMessage{
		Channel: 1,
		Data:    []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		Ext: &ant.ExtendedInfo{
			DeviceID:  &ant.DeviceID{Number: 4321, Type: 120, TransmissionType: 1},
			Timestamp: &ts16,
		},
	})
	f.OnChannelClosed(ctx, 1)
	f.OnTx(ctx, 1) // 不推送

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	data := events[0]
	assert.Equal(t, EventBroadcast, data.EventType)
	assert.Equal(t, "ant-test", data.Instance)
	assert.Equal(t, uint8(1), data.Channel)
	assert.Equal(t, int64(1700000000123), data.Timestamp)
	assert.NotEmpty(t, data.EventID)
	assert.Equal(t, "0102030405060708", data.Data["payload"])
	assert.EqualValues(t, 4321, data.Data["device_number"])
	assert.EqualValues(t, 512, data.Data["rx_timestamp"])

	assert.Equal(t, EventChannelClosed, events[1].EventType)
	assert.Empty(t, events[1].Data)

	rmu.Lock()
	assert.Equal(t, []string{"ok", "ok"}, results)
	rmu.Unlock()
}

func TestForwarderDropsWhenFull(t *testing.T) {
	var dropped int
	f := NewForwarder(NewPusher(nil, "", ""), "http://127.0.0.1:0", "ant-test",
		WithQueueSize(1),
		WithResultFunc(func(r string) {
			if r == "dropped" {
				dropped++
			}
		}))

	// 未启动 Run，第二个事件起丢弃
	for i := 0; i < 3; i++ {
		f.OnRxSearchTimeout(context.Background(), 0)
	}
	assert.Equal(t, int64(2), f.Dropped())
	assert.Equal(t, 2, dropped)
}
