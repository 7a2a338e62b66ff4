package gormrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/storage/models"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping postgres tests")
	}
	db, err := Open(context.Background(), config.DatabaseConfig{DSN: dsn, AutoMigrate: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, db.Exec("TRUNCATE ant_data_messages, ant_channel_events").Error)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func TestRepositoryDataRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendData(ctx, &models.DataMessage{
			Instance:   "inst",
			Channel:    int16(i % 2),
			Kind:       "broadcast",
			Data:       []byte{byte(i)},
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := repo.ListData(ctx, "inst", nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []byte{2}, all[0].Data)

	ch := uint8(1)
	one, err := repo.ListData(ctx, "inst", &ch, 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, []byte{1}, one[0].Data)
}

func TestRepositoryPurge(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, repo.AppendData(ctx, &models.DataMessage{Instance: "inst", Kind: "burst", Data: []byte{1}, ReceivedAt: old}))
	require.NoError(t, repo.AppendEvent(ctx, &models.ChannelEvent{Instance: "inst", Event: "channel_closed", CreatedAt: old}))
	require.NoError(t, repo.AppendEvent(ctx, &models.ChannelEvent{Instance: "inst", Event: "state:opened"}))

	n, err := repo.PurgeBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, err := repo.ListEvents(ctx, "inst", nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "state:opened", events[0].Event)
}
