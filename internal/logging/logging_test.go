package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}

	logger, err = NewLogger("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("default logger should not log debug")
	}

	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOperationErrorWrapping(t *testing.T) {
	if NewOperationError("op", "req", nil) != nil {
		t.Fatal("nil error should stay nil")
	}

	base := errors.New("boom")
	err := NewOperationError("usecase.classify", "req-1", base)
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}
	if got := err.Error(); got != "usecase.classify (request_id=req-1): boom" {
		t.Fatalf("unexpected message %q", got)
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) || len(opErr.Fields()) != 3 {
		t.Fatalf("unexpected fields for %v", err)
	}
}

func TestGinLoggerRecordsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(GinLogger(zap.New(core)))
	router.GET("/ping", func(c *gin.Context) {
		c.Set(RequestIDKey, "req-9")
		c.String(http.StatusTeapot, "pong")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 418, got %s", entries[0].Level)
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-9" || fields["path"] != "/ping" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
