package transport

import "testing"

func TestScheme(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8765":  "http",
		"HTTPS://director:443":   "http",
		"ws://localhost:8765/ws": "ws",
		"wss://director/v1/ws":   "ws",
	}
	for url, want := range cases {
		got, err := Scheme(url)
		if err != nil || got != want {
			t.Fatalf("Scheme(%q)=%q,%v want %q", url, got, err, want)
		}
	}
	for _, bad := range []string{"", "ftp://x", "localhost:8765"} {
		if _, err := Scheme(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate([]byte("abc"), 5); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate([]byte("abcdef"), 3); got != "abc..." {
		t.Fatalf("got %q", got)
	}
}
