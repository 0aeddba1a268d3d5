// Package transport carries STATE documents to the director and brings the
// raw reply back. Concrete clients live in the httpx and ws subpackages.
package transport

import (
	"context"
	"fmt"
	"strings"
)

type Request struct {
	Tick      uint64
	RequestID string
	Body      []byte
}

// Response is the undecoded director reply. StatusCode follows HTTP
// semantics; non-HTTP transports report 200 for a delivered reply.
type Response struct {
	StatusCode int
	Body       []byte
}

type Transport interface {
	Exchange(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Exchange(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Scheme reports "ws" for ws:// and wss:// URLs and "http" otherwise.
func Scheme(url string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(url))
	switch {
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
		return "ws", nil
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return "http", nil
	case u == "":
		return "", fmt.Errorf("empty service url")
	default:
		return "", fmt.Errorf("unsupported service url scheme: %s", url)
	}
}

// Truncate shortens s for debug logs.
func Truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
