package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/weed-id/internal/classifier"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "onnx", cfg.ModelBackend)
	assert.Equal(t, "bilinear", cfg.ResizeFilter)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.ModelTimeout)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadSize)
	assert.Equal(t, int64(25_000_000), cfg.MaxImagePixels)
	assert.False(t, cfg.CacheEnabled())
	assert.Empty(t, cfg.ClassLabels)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(lookupFrom(map[string]string{
		"MODEL_BACKEND":    "GRPC",
		"MODEL_ADDR":       "model-server:50051",
		"CLASS_LABELS":     "A, B",
		"RESIZE_FILTER":    "Lanczos3",
		"REDIS_ADDR":       "redis:6379",
		"CACHE_TTL":        "90s",
		"MAX_UPLOAD_SIZE":  "2048",
		"MAX_IMAGE_PIXELS": "1000000",
		"LOG_LEVEL":        "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, "grpc", cfg.ModelBackend)
	assert.Equal(t, "model-server:50051", cfg.ModelAddr)
	assert.Equal(t, classifier.LabelTable{"A", "B"}, cfg.ClassLabels)
	assert.Equal(t, "lanczos3", cfg.ResizeFilter)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, int64(2048), cfg.MaxUploadSize)
	assert.Equal(t, int64(1000000), cfg.MaxImagePixels)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.CacheEnabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown backend":   {"MODEL_BACKEND": "tflite"},
		"grpc without addr": {"MODEL_BACKEND": "grpc"},
		"bad filter":        {"RESIZE_FILTER": "box"},
		"bad duration":      {"CACHE_TTL": "soon"},
		"bad upload size":   {"MAX_UPLOAD_SIZE": "lots"},
		"zero upload size":  {"MAX_UPLOAD_SIZE": "0"},
		"bad pixel limit":   {"MAX_IMAGE_PIXELS": "huge"},
		"zero pixel limit":  {"MAX_IMAGE_PIXELS": "0"},
		"bad log level":     {"LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(lookupFrom(env))
			assert.Error(t, err)
		})
	}
}

func TestLabelsPrecedence(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, classifier.DefaultLabels, cfg.Labels(nil))
	assert.Equal(t, classifier.LabelTable{"X", "Y"}, cfg.Labels([]string{"X", "Y"}))

	cfg.ClassLabels = classifier.LabelTable{"A"}
	assert.Equal(t, classifier.LabelTable{"A"}, cfg.Labels([]string{"X", "Y"}))
}
