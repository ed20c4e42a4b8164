package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-merge-kit/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			var buf bytes.Buffer
			config.Output = &buf
			logger := NewLogger(config)

			logger.Info("Info message", slog.Int("count", 42))
			logger.LogError(context.Background(), errors.NewNotFoundError(errors.OpResolve, "c-1"), "resolve failed")

			child := logger.WithComponent(Component("registry"))
			child.Info("Child logger message")

			err := logger.LogOperation(context.Background(), Operation("detect"), Component("registry"), func() error { return nil })
			require.NoError(t, err)

			out := buf.String()
			assert.Contains(t, out, "Info message")
			assert.Contains(t, out, "CONFLICT_NOT_FOUND")
			assert.Contains(t, out, "registry")
		})
	}
}

func TestLogOperationPropagatesError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: &buf})

	want := fmt.Errorf("boom")
	err := logger.LogOperation(context.Background(), Operation("resolve"), Component("registry"), func() error { return want })
	assert.Equal(t, want, err)
	assert.Contains(t, buf.String(), "operation failed")
}

func TestDynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, levelVar := NewLoggerWithDynamicLevel(Config{Level: "info", Format: "text", Output: &buf})

	logger.Debug("hidden debug line")
	assert.NotContains(t, buf.String(), "hidden debug line")

	require.True(t, levelVar.SetFromString("debug"))
	logger.Debug("visible debug line")
	assert.Contains(t, buf.String(), "visible debug line")

	assert.False(t, levelVar.SetFromString("loud"))
}

func TestConflictErrorValuer(t *testing.T) {
	ce := &errors.ConflictError{
		Op:        errors.OpMerge,
		Component: "executor",
		Code:      errors.ErrCodeAutoMergeFailed,
		Kind:      errors.KindConflict,
		Err:       errors.ErrAutoMergeFailed,
		Metadata:  map[string]interface{}{"overlapping_lines": []int{0}},
	}

	logValue := ConflictErrorValuer{ConflictError: ce}.LogValue()
	assert.Equal(t, slog.KindGroup, logValue.Kind())
}

func TestContextExtraction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := WithTraceID(WithRequestID(context.Background(), "req-123"), "trace-456")
	logger.WithContext(ctx).Info("Message with context")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "trace-456", entry["trace_id"])
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", EnvProduction)
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_ADD_SOURCE", "")

	config := GetConfigFromEnv()
	assert.Equal(t, "warn", config.Level)
	assert.Equal(t, "json", config.Format)
	assert.False(t, config.AddSource)

	t.Setenv("ENVIRONMENT", EnvTest)
	t.Setenv("LOG_LEVEL", "")
	config = GetConfigFromEnv()
	assert.Equal(t, "debug", config.Level)
	assert.Equal(t, "text", config.Format)
}
