package observability_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/boddenberg/account-manager-go/internal/infra/observability"
)

func TestNewLogger_Levels(t *testing.T) {
	if !observability.NewLogger("debug").Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug enabled")
	}
	if observability.NewLogger("warn").Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info disabled at warn")
	}
	if !observability.NewLogger("nonsense").Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected unknown level to fall back to info")
	}
}

func TestWithRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accountd.log")
	logger := observability.WithRotatingFile(zap.NewNop(), path, "info")

	logger.Info("account registered", zap.String("account_number", "1000000000"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"account_number":"1000000000"`) {
		t.Errorf("expected structured entry, got %s", data)
	}
}

func TestZapLoggerMiddleware_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mw := observability.ZapLoggerMiddleware(zap.New(core))

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/accounts", nil))
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], e.Level)
		}
	}
}
