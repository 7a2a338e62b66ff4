// Package thirdparty 将接收数据与通道事件以签名 JSON 推送到第三方 Webhook。
package thirdparty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrRejected 对端返回 4xx，不再重试
var ErrRejected = errors.New("webhook rejected event")

// Pusher 带签名与重试的 HTTP 推送
type Pusher struct {
	Client  *http.Client
	APIKey  string
	Secret  string
	Retries int
	Backoff []time.Duration

	now func() time.Time
}

// NewPusher client 为空时使用 5 秒超时的默认客户端
func NewPusher(client *http.Client, apiKey, secret string) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Pusher{
		Client:  client,
		APIKey:  apiKey,
		Secret:  secret,
		Retries: 3,
		Backoff: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second},
		now:     time.Now,
	}
}

// SendJSON 发送 JSON 负载；网络错误与 5xx 重试，4xx 返回 ErrRejected
func (p *Pusher) SendJSON(ctx context.Context, endpoint string, payload any) (int, error) {
	if p == nil || p.Client == nil {
		return 0, errors.New("nil pusher")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, fmt.Errorf("parse endpoint: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var (
		code    int
		lastErr error
	)
	for attempt := 0; attempt <= p.Retries; attempt++ {
		code, lastErr = p.post(ctx, endpoint, u.Path, body)
		if lastErr == nil || errors.Is(lastErr, ErrRejected) {
			return code, lastErr
		}
		if attempt == p.Retries || len(p.Backoff) == 0 {
			break
		}
		backoff := p.Backoff[min(attempt, len(p.Backoff)-1)]
		select {
		case <-ctx.Done():
			return code, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return code, lastErr
}

// post 单次请求；每次重试重新签名
func (p *Pusher) post(ctx context.Context, endpoint, path string, body []byte) (int, error) {
	ts := p.now().Unix()
	nonce := uuid.NewString()[:8]
	sig := SignHMAC(p.Secret, Canonical(http.MethodPost, path, ts, nonce, body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", p.APIKey)
	req.Header.Set("X-Signature", sig)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Nonce", nonce)

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode < 500:
		return resp.StatusCode, fmt.Errorf("%w: http %d", ErrRejected, resp.StatusCode)
	default:
		return resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}
}
