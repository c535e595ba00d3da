package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/garmax-api/internal/config"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	tests := []struct {
		name      string
		level     string
		logDebug  bool
		logInfo   bool
		logErrors bool
	}{
		{name: "debug", level: "debug", logDebug: true, logInfo: true, logErrors: true},
		{name: "info", level: "info", logDebug: false, logInfo: true, logErrors: true},
		{name: "error", level: "ERROR", logDebug: false, logInfo: false, logErrors: true},
		{name: "invalid falls back to info", level: "loud", logDebug: false, logInfo: true, logErrors: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := &logger.TestLogBuffer{}
			l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: tc.level}, buf)
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug message")
			l.Info("info message")
			l.Error("error message")

			assert.Equal(t, tc.logDebug, containsMsg(t, buf, "debug message"))
			assert.Equal(t, tc.logInfo, containsMsg(t, buf, "info message"))
			assert.Equal(t, tc.logErrors, containsMsg(t, buf, "error message"))
			logger.AssertLogField(t, buf, "service", "garmax-api")
		})
	}
}

func containsMsg(t *testing.T, buf *logger.TestLogBuffer, msg string) bool {
	t.Helper()
	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	for _, e := range entries {
		if e["msg"] == msg {
			return true
		}
	}
	return false
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	l, buf := logger.GetTestLogger(t)
	ctx := logger.WithLogger(context.Background(), l.With("request_id", "abc"))

	logger.FromContext(ctx).Info("scoped")

	logger.AssertLogContains(t, buf, "scoped")
	logger.AssertLogField(t, buf, "request_id", "abc")
}

func TestFromContextFallbacks(t *testing.T) {
	t.Parallel()

	fallback := logger.DiscardLogger()
	assert.Same(t, fallback, logger.FromContextOr(context.Background(), fallback))
	assert.NotNil(t, logger.FromContext(context.Background()))
}
