package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/mcp-router/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/mcp-router/internal/domain/security"
)

// fakeLimiter records the keys it was asked about and answers from allow.
type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ ratelimit.Budget) (ratelimit.Decision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return ratelimit.Decision{}, f.err
	}
	return ratelimit.Decision{Allowed: f.allow}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSecurityGate_ValidateHeaders(t *testing.T) {
	t.Parallel()

	gate := NewSecurityGate(SecurityGateConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		MaxHeaderBytes: 256,
		MaxHeaderCount: 4,
	}, nil, discardLogger())

	tests := []struct {
		name      string
		header    http.Header
		wantValid bool
		wantErr   string
	}{
		{
			name:      "no headers",
			header:    http.Header{},
			wantValid: true,
		},
		{
			name:      "allowed origin",
			header:    http.Header{"Origin": {"https://app.example.com"}},
			wantValid: true,
		},
		{
			name:    "foreign origin",
			header:  http.Header{"Origin": {"https://evil.example"}},
			wantErr: "origin not allowed: https://evil.example",
		},
		{
			name:    "control characters",
			header:  http.Header{"X-Test": {"a\x00b"}},
			wantErr: "header X-Test contains control characters",
		},
		{
			name: "too many headers",
			header: http.Header{
				"A": {"1", "2"},
				"B": {"3", "4"},
				"C": {"5"},
			},
			wantErr: "too many headers: 5 > 4",
		},
		{
			name:    "headers too large",
			header:  http.Header{"Big": {strings.Repeat("x", 300)}},
			wantErr: "headers too large",
		},
		{
			name:    "malformed forwarded-for",
			header:  http.Header{"X-Forwarded-For": {"10.0.0.1, not-an-ip"}},
			wantErr: "malformed X-Forwarded-For",
		},
		{
			name:      "well formed forwarded-for",
			header:    http.Header{"X-Forwarded-For": {"10.0.0.1, 2001:db8::1"}},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := gate.ValidateHeaders(tt.header)
			if v.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors: %v)", v.Valid, tt.wantValid, v.Errors)
			}
			if tt.wantErr != "" && !strings.Contains(v.String(), tt.wantErr) {
				t.Errorf("errors = %q, want it to contain %q", v.String(), tt.wantErr)
			}
		})
	}
}

func TestSecurityGate_ValidateHeaders_ReportsEveryError(t *testing.T) {
	t.Parallel()

	gate := NewSecurityGate(SecurityGateConfig{AllowedOrigins: []string{"https://ok"}}, nil, discardLogger())
	v := gate.ValidateHeaders(http.Header{
		"Origin": {"https://nope"},
		"X-Bad":  {"line\nbreak"},
	})
	if v.Valid {
		t.Fatal("expected invalid verdict")
	}
	if len(v.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", v.Errors)
	}
}

func TestSecurityGate_AnyOrigin(t *testing.T) {
	t.Parallel()

	for _, origins := range [][]string{nil, {"*"}} {
		gate := NewSecurityGate(SecurityGateConfig{AllowedOrigins: origins}, nil, discardLogger())
		if v := gate.ValidateHeaders(http.Header{"Origin": {"https://anything"}}); !v.Valid {
			t.Errorf("origins %v: expected any origin to pass, got %v", origins, v.Errors)
		}
	}
}

func TestSecurityGate_CheckRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("disabled skips limiter", func(t *testing.T) {
		limiter := &fakeLimiter{allow: false}
		gate := NewSecurityGate(SecurityGateConfig{RateLimitEnabled: false}, limiter, discardLogger())

		ok, err := gate.CheckRateLimit(context.Background(), "10.0.0.1")
		if err != nil || !ok {
			t.Fatalf("CheckRateLimit() = %v, %v; want true, nil", ok, err)
		}
		if len(limiter.keys) != 0 {
			t.Errorf("limiter should not be consulted, got keys %v", limiter.keys)
		}
	})

	t.Run("keys by ip", func(t *testing.T) {
		limiter := &fakeLimiter{allow: true}
		gate := NewSecurityGate(SecurityGateConfig{RateLimitEnabled: true, RateLimit: ratelimit.PerMinute(10, 0)}, limiter, discardLogger())

		ok, err := gate.CheckRateLimit(context.Background(), "10.0.0.1")
		if err != nil || !ok {
			t.Fatalf("CheckRateLimit() = %v, %v; want true, nil", ok, err)
		}
		if len(limiter.keys) != 1 || limiter.keys[0] != "peer:10.0.0.1" {
			t.Errorf("keys = %v, want [peer:10.0.0.1]", limiter.keys)
		}
	})

	t.Run("denied", func(t *testing.T) {
		gate := NewSecurityGate(SecurityGateConfig{RateLimitEnabled: true}, &fakeLimiter{allow: false}, discardLogger())
		ok, err := gate.CheckRateLimit(context.Background(), "10.0.0.1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected request to be over budget")
		}
	})

	t.Run("limiter error", func(t *testing.T) {
		boom := errors.New("boom")
		gate := NewSecurityGate(SecurityGateConfig{RateLimitEnabled: true}, &fakeLimiter{err: boom}, discardLogger())
		_, err := gate.CheckRateLimit(context.Background(), "10.0.0.1")
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want wrapped boom", err)
		}
	})
}

func TestSecurityGate_LogEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_security_events_total"}, []string{"type", "severity"})
	gate := NewSecurityGate(SecurityGateConfig{}, nil, logger, WithEventCounter(counter))

	gate.LogEvent(context.Background(), security.Event{
		Type:      security.EventSuspiciousHeaders,
		Severity:  security.SeverityMedium,
		IP:        "10.0.0.9",
		UserAgent: "curl/8",
		RequestID: "req-42",
		Details:   []string{"origin not allowed: x"},
	})

	out := buf.String()
	for _, want := range []string{"level=WARN", "type=suspicious_headers", "severity=medium", "ip=10.0.0.9", "user_agent=curl/8", "request_id=req-42"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("suspicious_headers", "medium")); got != 1 {
		t.Errorf("event counter = %v, want 1", got)
	}
}
