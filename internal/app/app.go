package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/weed-id/internal/classifier"
	"github.com/example/weed-id/internal/config"
	"github.com/example/weed-id/internal/grpcclient"
	"github.com/example/weed-id/internal/imageprocessor"
	"github.com/example/weed-id/internal/model"
	"github.com/example/weed-id/internal/usecase"
)

// App holds the long-lived dependencies built at startup.
type App struct {
	UseCase *usecase.ClassificationUseCase
	closers []func()
}

// Close releases the model backend and cache connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// New loads the model and wires the classification use case. The model is
// fully loaded before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	resampler, err := imageprocessor.ResamplerByName(cfg.ResizeFilter)
	if err != nil {
		return nil, err
	}

	var meta model.Metadata
	if cfg.ModelMetadataPath != "" {
		if meta, err = model.LoadMetadata(cfg.ModelMetadataPath); err != nil {
			return nil, err
		}
	}
	labels := cfg.Labels(meta.Classes)

	backend, err := a.loadModel(ctx, cfg, meta, labels, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var cache usecase.Cache
	if cfg.CacheEnabled() {
		client, err := initRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("prediction cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = client.Close() })
			cache = usecase.NewRedisCache(client)
		}
	}

	a.UseCase = usecase.NewClassificationUseCase(
		imageprocessor.NewProcessor(resampler, imageprocessor.Options{MaxPixels: cfg.MaxImagePixels}),
		classifier.New(backend, imageprocessor.InputShape),
		labels,
		cache,
		logger,
		usecase.Options{CacheTTL: cfg.CacheTTL, CacheNamespace: cfg.CacheNamespace},
	)

	logger.Info("classifier ready",
		zap.String("backend", cfg.ModelBackend),
		zap.Strings("labels", labels),
		zap.String("resize_filter", resampler.Name()),
		zap.Bool("cache", cache != nil),
	)
	return a, nil
}

func (a *App) loadModel(ctx context.Context, cfg config.Config, meta model.Metadata, labels classifier.LabelTable, logger *zap.Logger) (classifier.Model, error) {
	switch cfg.ModelBackend {
	case "grpc":
		remote, conn, err := grpcclient.DialModelServer(ctx, cfg.ModelAddr, cfg.ModelTimeout, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		return remote, nil
	case "onnx":
		resolved, err := meta.Resolve(imageprocessor.InputShape, len(labels))
		if err != nil {
			return nil, err
		}
		onnx, err := model.LoadONNX(model.ONNXOptions{
			ModelPath:         cfg.ModelPath,
			SharedLibraryPath: cfg.ONNXRuntimeLibrary,
			Metadata:          resolved,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, onnx.Close)
		return onnx, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
