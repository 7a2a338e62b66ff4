package migrate

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDiscoverEmbedded(t *testing.T) {
	ms, err := New(nil).Discover()
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, int64(1), ms[0].Version)
	assert.Equal(t, "0001_ant_journal_up.sql", ms[0].Path)
	assert.Equal(t, int64(2), ms[1].Version)
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []int64
		wantErr bool
	}{
		{
			name: "按版本排序并忽略其它文件",
			files: fstest.MapFS{
				"10_later_up.sql":  {Data: []byte("SELECT 1")},
				"2_early_up.sql":   {Data: []byte("SELECT 1")},
				"2_early_down.sql": {Data: []byte("SELECT 1")},
				"README.md":        {Data: []byte("x")},
				"abc_up.sql":       {Data: []byte("SELECT 1")},
			},
			want: []int64{2, 10},
		},
		{
			name: "版本重复",
			files: fstest.MapFS{
				"3_a_up.sql": {Data: []byte("SELECT 1")},
				"3_b_up.sql": {Data: []byte("SELECT 1")},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, err := Runner{FS: tt.files}.Discover()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got []int64
			for _, m := range ms {
				got = append(got, m.Version)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyIdempotent(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()
	_, err := Apply(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)

	n, err := Apply(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, n, "second run applies nothing")
}
