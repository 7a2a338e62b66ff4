package thirdparty

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	canonical := Canonical("post", "/hook", 1700000000, "abcd1234", []byte(`{"x":1}`))
	sig := SignHMAC("secret", canonical)
	assert.Len(t, sig, 64)
	assert.True(t, VerifyHMAC("secret", canonical, sig))
	assert.False(t, VerifyHMAC("other", canonical, sig))
	assert.False(t, VerifyHMAC("secret", canonical, "zz"))
}

func TestPusherSignedRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stamp, _ := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
		canonical := Canonical(r.Method, r.URL.Path, stamp, r.Header.Get("X-Nonce"), body)
		if r.Header.Get("X-Api-Key") != "key" || !VerifyHMAC("secret", canonical, r.Header.Get("X-Signature")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p := NewPusher(nil, "key", "secret")
	code, err := p.SendJSON(context.Background(), ts.URL+"/hook", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	bad := NewPusher(nil, "key", "wrong")
	code, err = bad.SendJSON(context.Background(), ts.URL+"/hook", map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPusherRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		retries   int
		wantCalls int32
		wantErr   bool
	}{
		{"一次5xx后成功", 1, 3, 2, false},
		{"重试耗尽", 10, 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= tt.failures {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer ts.Close()

			p := NewPusher(nil, "key", "secret")
			p.Retries = tt.retries
			p.Backoff = []time.Duration{time.Millisecond}
			_, err := p.SendJSON(context.Background(), ts.URL, struct{}{})
			if tt.wantErr {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrRejected)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}
