// Package httpx is the request/response transport: one POST per STATE.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"tacbridge.ai/internal/transport"
)

const (
	CommandPath = "/command"

	HeaderRequestID = "X-Request-ID"
	HeaderTick      = "X-Tick"

	maxReplyBytes = 4 << 20
)

type Config struct {
	// BaseURL is the director root; CommandPath is appended.
	BaseURL string
	// Compress gzips request bodies.
	Compress bool
	Client   *http.Client
}

type Client struct {
	url      string
	compress bool
	http     *http.Client
}

func New(cfg Config) (*Client, error) {
	if scheme, err := transport.Scheme(cfg.BaseURL); err != nil {
		return nil, err
	} else if scheme != "http" {
		return nil, fmt.Errorf("httpx: not an http url: %s", cfg.BaseURL)
	}
	hc := cfg.Client
	if hc == nil {
		// Per-request deadlines come from the caller's context.
		hc = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}}
	}
	return &Client{
		url:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + CommandPath,
		compress: cfg.Compress,
		http:     hc,
	}, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) Exchange(ctx context.Context, req transport.Request) (transport.Response, error) {
	body := req.Body
	if c.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return transport.Response{}, err
		}
		if err := zw.Close(); err != nil {
			return transport.Response{}, err
		}
		body = buf.Bytes()
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return transport.Response{}, err
	}
	hr.Header.Set("Content-Type", "application/json")
	if c.compress {
		hr.Header.Set("Content-Encoding", "gzip")
	}
	if req.RequestID != "" {
		hr.Header.Set(HeaderRequestID, req.RequestID)
	}
	hr.Header.Set(HeaderTick, strconv.FormatUint(req.Tick, 10))

	resp, err := c.http.Do(hr)
	if err != nil {
		return transport.Response{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes+1))
	if err != nil {
		return transport.Response{StatusCode: resp.StatusCode}, err
	}
	if len(b) > maxReplyBytes {
		return transport.Response{StatusCode: resp.StatusCode}, fmt.Errorf("httpx: reply exceeds %d bytes", maxReplyBytes)
	}
	return transport.Response{StatusCode: resp.StatusCode, Body: b}, nil
}

// DecodeBody returns the request body, transparently inflating gzip.
// Servers use it to accept compressed STATE posts.
func DecodeBody(r *http.Request, limit int64) ([]byte, error) {
	var rd io.Reader = io.LimitReader(r.Body, limit+1)
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") {
		zr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = io.LimitReader(zr, limit+1)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return b, nil
}
