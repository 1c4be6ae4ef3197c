package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"maskfill/app/internal/config"
)

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()

	return &config.Config{
		DB: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "bootstrap.db"),
		},
		Model: config.ModelConfig{
			Endpoint:      endpoint,
			Name:          "roberta-base",
			TokenCacheTTL: time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             10,
			ClientTTL:         time.Minute,
		},
	}
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildWiresApplication(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "roberta-base", "mask_token": "<mask>", "mask_token_id": 3})
	})
	modelServer := httptest.NewServer(mux)
	t.Cleanup(modelServer.Close)

	result, err := Build(context.Background(), Dependencies{
		Config: testConfig(t, modelServer.URL),
		Logger: silentLogger(),
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() {
		if cleanupErr := result.Cleanup(); cleanupErr != nil {
			t.Errorf("Cleanup returned error: %v", cleanupErr)
		}
	})

	if result.Model.MaskTokenID() != 3 {
		t.Fatalf("expected mask token id 3, got %d", result.Model.MaskTokenID())
	}

	if !result.Database.Migrator().HasTable("storing") {
		t.Fatalf("expected storing table to be migrated")
	}

	rec := httptest.NewRecorder()
	result.HTTPServer.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy server, got %d", rec.Code)
	}

	pending, err := result.Suggestions.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending returned error: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected fresh store to be empty, got %+v", pending)
	}
}

func TestBuildFailsWhenModelUnavailable(t *testing.T) {
	t.Parallel()

	modelServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(modelServer.Close)

	_, err := Build(context.Background(), Dependencies{
		Config: testConfig(t, modelServer.URL),
		Logger: silentLogger(),
	})
	if err == nil {
		t.Fatalf("expected Build to fail when the model server is unavailable")
	}
	if !strings.Contains(err.Error(), "loading masked-language model") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildRequiresModelEndpoint(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), Dependencies{
		Config: testConfig(t, ""),
		Logger: silentLogger(),
	})
	if err == nil {
		t.Fatalf("expected Build to fail without MODEL_ENDPOINT")
	}
}

func TestBuildRequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := Build(context.Background(), Dependencies{}); err == nil {
		t.Fatalf("expected Build to fail without configuration")
	}
}
