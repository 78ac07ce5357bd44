package cachesync

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LoggingTransport logs each proxied call without bodies; bodies and paths carry raw keys.
type LoggingTransport struct {
	Transport http.RoundTripper
	Log       *zap.Logger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	start := time.Now()
	resp, err := transport.RoundTrip(req)
	duration := time.Since(start)

	if t.Log == nil {
		return resp, err
	}
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", redactPath(req.URL.Path)),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}
	if err != nil {
		t.Log.Debug("cache proxy round trip failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	t.Log.Debug("cache proxy round trip", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

func redactPath(path string) string {
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		switch segments[i-1] {
		case "api-key", "credits":
			segments[i] = MaskKey(segments[i])
		}
	}
	return strings.Join(segments, "/")
}
