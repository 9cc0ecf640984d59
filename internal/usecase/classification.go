package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/example/weed-id/internal/classifier"
	"github.com/example/weed-id/internal/imageprocessor"
	"github.com/example/weed-id/internal/logging"
)

// Options tunes optional behaviour of the use case.
type Options struct {
	CacheTTL       time.Duration
	CacheNamespace string
	Registry       metrics.Registry
}

// Outcome is a successful classification. Format is the detected encoding
// of the upload, "jpeg" or "png".
type Outcome struct {
	RequestID string
	Result    classifier.Result
	Format    string
	Cached    bool
}

// ClassificationUseCase runs decode, normalize, classify and format for one
// uploaded image. It is built once at startup and shared by all requests.
type ClassificationUseCase struct {
	processor  *imageprocessor.Processor
	classifier *classifier.Classifier
	labels     classifier.LabelTable
	cache      Cache
	cacheTTL   time.Duration
	cacheScope string
	logger     *zap.Logger
	metrics    *pipelineMetrics
	retry      retryPolicy
}

// NewClassificationUseCase wires the pipeline. cache may be nil.
func NewClassificationUseCase(processor *imageprocessor.Processor, cls *classifier.Classifier, labels classifier.LabelTable, cache Cache, logger *zap.Logger, opts Options) *ClassificationUseCase {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.CacheNamespace == "" {
		opts.CacheNamespace = "weedid"
	}
	return &ClassificationUseCase{
		processor:  processor,
		classifier: cls,
		labels:     append(classifier.LabelTable(nil), labels...),
		cache:      cache,
		cacheTTL:   opts.CacheTTL,
		cacheScope: cacheScope(opts.CacheNamespace, labels, processor.Resampler().Name()),
		logger:     logger.Named("classification_usecase"),
		metrics:    newPipelineMetrics(opts.Registry),
		retry: retryPolicy{
			attempts:       3,
			initialBackoff: 50 * time.Millisecond,
			maxBackoff:     time.Second,
		},
	}
}

// Labels returns the configured label table.
func (uc *ClassificationUseCase) Labels() classifier.LabelTable {
	return uc.labels
}

// Classify runs the full pipeline on imageBytes. Failures are returned as
// *logging.OperationError wrapping the stage error.
func (uc *ClassificationUseCase) Classify(ctx context.Context, imageBytes []byte) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify", requestID)
	start := time.Now()
	uc.metrics.requests.Inc(1)

	key := uc.cacheKey(imageBytes)
	if result, ok := uc.lookup(ctx, requestID, key); ok {
		format, _ := imageprocessor.DetectFormat(imageBytes)
		uc.metrics.observeSuccess(start, result.Confidence, true)
		opLogger.Info("served cached classification", zap.String("label", result.Label))
		return &Outcome{RequestID: requestID, Result: result, Format: format, Cached: true}, nil
	}

	result, format, stage, err := uc.run(ctx, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase."+stage, requestID, err)
		opLogger.Warn("classification failed", zap.String("stage", stage), zap.Error(err))
		return nil, wrapped
	}

	uc.metrics.observeSuccess(start, result.Confidence, false)
	uc.store(ctx, requestID, key, result)

	opLogger.Info("image classified",
		zap.String("label", result.Label),
		zap.Float32("confidence", result.Confidence),
		zap.Duration("latency", time.Since(start)),
	)
	return &Outcome{RequestID: requestID, Result: result, Format: format}, nil
}

func (uc *ClassificationUseCase) run(ctx context.Context, imageBytes []byte) (classifier.Result, string, string, error) {
	start := time.Now()
	img, format, err := uc.processor.Decode(bytes.NewReader(imageBytes))
	uc.metrics.observeStage(StageDecode, start, err)
	if err != nil {
		return classifier.Result{}, format, StageDecode, err
	}

	start = time.Now()
	input, err := uc.processor.Preprocess(img)
	uc.metrics.observeStage(StageNormalize, start, err)
	if err != nil {
		return classifier.Result{}, format, StageNormalize, err
	}

	start = time.Now()
	pred, err := uc.classifier.Classify(ctx, input)
	uc.metrics.observeStage(StageClassify, start, err)
	if err != nil {
		return classifier.Result{}, format, StageClassify, err
	}

	start = time.Now()
	result, err := classifier.Format(pred, uc.labels)
	uc.metrics.observeStage(StageFormat, start, err)
	if err != nil {
		return classifier.Result{}, format, StageFormat, err
	}
	return result, format, "", nil
}

func (uc *ClassificationUseCase) lookup(ctx context.Context, requestID, key string) (classifier.Result, bool) {
	if uc.cache == nil {
		return classifier.Result{}, false
	}

	var cached string
	err := uc.withCacheRetry(ctx, requestID, "cache.get.result", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.WithOperation(uc.logger, "usecase.cache_lookup", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return classifier.Result{}, false
	}

	var result classifier.Result
	if err := json.Unmarshal([]byte(cached), &result); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_lookup", requestID).Warn("failed to decode cached result", zap.Error(err))
		return classifier.Result{}, false
	}
	return result, true
}

func (uc *ClassificationUseCase) store(ctx context.Context, requestID, key string, result classifier.Result) {
	if uc.cache == nil {
		return
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_store", requestID).Error("failed to serialize result", zap.Error(err))
		return
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_store", requestID).Warn("failed to cache result", zap.Error(err))
	}
}

func (uc *ClassificationUseCase) cacheKey(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return fmt.Sprintf("prediction:%s:%s", uc.cacheScope, hex.EncodeToString(sum[:]))
}

// cacheScope changes whenever the label table or resize filter changes, so
// stale results are never served after a reconfiguration.
func cacheScope(namespace string, labels classifier.LabelTable, filter string) string {
	sum := sha256.Sum256([]byte(strings.Join(labels, "\x00") + "\x00" + filter))
	return namespace + ":" + hex.EncodeToString(sum[:4])
}

// StageOf reports which pipeline stage produced err, or "" if none did.
func StageOf(err error) string {
	var (
		decodeErr   *imageprocessor.DecodeError
		modeErr     *imageprocessor.UnsupportedModeError
		inferErr    *classifier.InferenceError
		mismatchErr *classifier.LabelTableMismatchError
	)
	switch {
	case errors.As(err, &decodeErr):
		return StageDecode
	case errors.As(err, &modeErr):
		return StageNormalize
	case errors.As(err, &inferErr):
		return StageClassify
	case errors.As(err, &mismatchErr):
		return StageFormat
	default:
		return ""
	}
}
