package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxValueBytes caps values accepted over HTTP.
const MaxValueBytes = 1 << 20

// Remote is a KV served by a relay's /kv endpoint.
type Remote struct {
	base   *url.URL
	client *http.Client
}

// NewRemote returns a client for the relay at baseURL
// (for example "http://localhost:8787"). A nil client gets a 10s timeout.
func NewRemote(baseURL string, client *http.Client) (*Remote, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http or https, got %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{base: u, client: client}, nil
}

// Close implements Backend.
func (r *Remote) Close() error {
	return nil
}

func (r *Remote) keyURL(key string) string {
	return r.base.JoinPath("kv", key).String()
}

// Get implements KV.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.keyURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("get %s: relay returned %s", key, resp.Status)
	}

	value, err := io.ReadAll(io.LimitReader(resp.Body, MaxValueBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(value) > MaxValueBytes {
		return nil, fmt.Errorf("get %s: value exceeds %d bytes", key, MaxValueBytes)
	}
	return value, nil
}

// Set implements KV.
func (r *Remote) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.keyURL(key), bytes.NewReader(value))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set %s: relay returned %s", key, resp.Status)
	}
	return nil
}
