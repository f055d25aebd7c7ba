package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestErrorCarriesContextFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrder(ctx, "order-1", "SF-ABC-123456")
	log.Error(ctx, "charge failed", errors.New("card declined"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "api", e["service"])
	assert.Equal(t, "error", e["level"])
	assert.Equal(t, "req-123", e["request_id"])
	assert.Equal(t, "order-1", e["order_id"])
	assert.Equal(t, "SF-ABC-123456", e["order_number"])
	assert.Equal(t, "card declined", e["error"])
	assert.NotEmpty(t, e["stack"])
	assert.Equal(t, "req-123", RequestID(ctx))
}

func TestWithOrderOmitsBlankNumber(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf})
	log.Info(log.WithOrder(context.Background(), "order-2", ""), "created")

	e := decodeLines(t, buf)[0]
	assert.Equal(t, "order-2", e["order_id"])
	assert.NotContains(t, e, "order_number")
}

func TestWarnStackIsOptional(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf, WarnStack: true}).Warn(context.Background(), "slow")
	assert.Contains(t, decodeLines(t, buf)[0], "stack")

	buf.Reset()
	New(Options{Output: buf}).Warn(context.Background(), "slow")
	assert.NotContains(t, decodeLines(t, buf)[0], "stack")
}

func TestChildFieldsStayOutOfParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf})

	parent := log.WithCartID(context.Background(), "cart-1")
	_ = log.WithSessionID(parent, "sess-1")
	log.Info(parent, "parent entry")

	e := decodeLines(t, buf)[0]
	assert.Equal(t, "cart-1", e["cart_id"])
	assert.NotContains(t, e, "session_id")
	assert.Empty(t, RequestID(parent))
}

func TestLevelFiltersEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf, Level: zerolog.WarnLevel})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["message"])
}

func TestConsoleOutputIsNotJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf, Console: true}).Info(context.Background(), "hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Error(log.WithField(context.Background(), "k", "v"), "ignored", nil)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	ctx := log.WithRequestID(context.Background(), "req-1")
	log.Warn(ctx, "ignored")
	log.Error(ctx, "ignored", errors.New("x"))
	assert.Equal(t, "req-1", RequestID(ctx))
}
