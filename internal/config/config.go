package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/example/weed-id/internal/classifier"
)

// Config holds process settings read from the environment at startup.
type Config struct {
	HTTPAddr        string        `validate:"required"`
	LogLevel        string        `validate:"omitempty,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	MaxUploadSize   int64         `validate:"gt=0"`
	MaxImagePixels  int64         `validate:"gt=0"`

	ModelBackend       string `validate:"required,oneof=onnx grpc"`
	ModelPath          string `validate:"required_if=ModelBackend onnx"`
	ModelMetadataPath  string
	ONNXRuntimeLibrary string
	ModelAddr          string        `validate:"required_if=ModelBackend grpc"`
	ModelTimeout       time.Duration `validate:"gte=0"`

	ClassLabels  classifier.LabelTable `validate:"dive,required"`
	ResizeFilter string                `validate:"required,oneof=bilinear nearest catmullrom lanczos3"`

	RedisAddr      string
	CacheTTL       time.Duration `validate:"gte=0"`
	CacheNamespace string        `validate:"required"`
}

// CacheEnabled reports whether a Redis address was configured.
func (c Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup, which has the signature
// of os.LookupEnv.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	env := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}

	cfg := Config{
		HTTPAddr:           env("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(env("LOG_LEVEL", "info")),
		ModelBackend:       strings.ToLower(env("MODEL_BACKEND", "onnx")),
		ModelPath:          env("MODEL_PATH", "models/weed_classifier.onnx"),
		ModelMetadataPath:  env("MODEL_METADATA_PATH", ""),
		ONNXRuntimeLibrary: env("ONNXRUNTIME_LIB", ""),
		ModelAddr:          env("MODEL_ADDR", ""),
		ClassLabels:        classifier.ParseLabels(env("CLASS_LABELS", "")),
		ResizeFilter:       strings.ToLower(env("RESIZE_FILTER", "bilinear")),
		RedisAddr:          env("REDIS_ADDR", ""),
		CacheNamespace:     env("CACHE_NAMESPACE", "weedid"),
	}

	var err error
	if cfg.ShutdownTimeout, err = cast.ToDurationE(env("SHUTDOWN_TIMEOUT", "15s")); err != nil {
		return Config{}, fmt.Errorf("parse SHUTDOWN_TIMEOUT: %w", err)
	}
	if cfg.ModelTimeout, err = cast.ToDurationE(env("MODEL_TIMEOUT", "30s")); err != nil {
		return Config{}, fmt.Errorf("parse MODEL_TIMEOUT: %w", err)
	}
	if cfg.CacheTTL, err = cast.ToDurationE(env("CACHE_TTL", "10m")); err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL: %w", err)
	}
	if cfg.MaxUploadSize, err = cast.ToInt64E(env("MAX_UPLOAD_SIZE", "10485760")); err != nil {
		return Config{}, fmt.Errorf("parse MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxImagePixels, err = cast.ToInt64E(env("MAX_IMAGE_PIXELS", "25000000")); err != nil {
		return Config{}, fmt.Errorf("parse MAX_IMAGE_PIXELS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Labels picks the label table: explicit configuration first, then the
// model metadata, then the reference table.
func (c Config) Labels(fromMetadata []string) classifier.LabelTable {
	switch {
	case len(c.ClassLabels) > 0:
		return c.ClassLabels
	case len(fromMetadata) > 0:
		return classifier.LabelTable(fromMetadata)
	default:
		return classifier.DefaultLabels
	}
}
