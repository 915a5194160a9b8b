package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", Program(ctx))
	assert.Equal(t, "", StepID(ctx))
	assert.Equal(t, "", RequestID(ctx))

	ctx = WithProgram(ctx, "orders")
	ctx = WithStepID(ctx, "Choice1")
	ctx = WithRequestID(ctx, "req-42")

	assert.Equal(t, "orders", Program(ctx))
	assert.Equal(t, "Choice1", StepID(ctx))
	assert.Equal(t, "req-42", RequestID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithProgram(context.Background(), "orders")
	ctx = WithStepID(ctx, "Map1")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "program=orders")
	assert.Contains(t, output, "step_id=Map1")
	assert.NotContains(t, output, "request_id")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "program=")
	assert.NotContains(t, output, "step_id")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithRequestID(WithStepID(WithProgram(context.Background(), "p"), "s"), "r")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"program":"p"`)
	assert.Contains(t, output, `"step_id":"s"`)
	assert.Contains(t, output, `"request_id":"r"`)
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "compiler")

	logger.InfoContext(WithStepID(context.Background(), "Pass1"), "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"component":"compiler"`)
	assert.Contains(t, output, `"step_id":"Pass1"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
