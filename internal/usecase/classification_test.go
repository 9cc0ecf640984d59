package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/weed-id/internal/classifier"
	"github.com/example/weed-id/internal/imageprocessor"
	"github.com/example/weed-id/internal/logging"
	"github.com/example/weed-id/internal/tensor"
)

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	err := ErrCacheMiss
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubModel struct {
	scores []float32
	err    error
	calls  int
	inputs []tensor.Tensor
}

func (s *stubModel) Predict(ctx context.Context, input tensor.Tensor) (tensor.Tensor, error) {
	s.calls++
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return tensor.Tensor{}, s.err
	}
	return tensor.Tensor{Shape: tensor.Shape{1, len(s.scores)}, Data: s.scores}, nil
}

type transientCacheError struct{}

func (transientCacheError) Error() string   { return "redis transient" }
func (transientCacheError) Timeout() bool   { return true }
func (transientCacheError) Temporary() bool { return true }

func newUseCase(model classifier.Model, labels classifier.LabelTable, cache Cache) *ClassificationUseCase {
	uc := NewClassificationUseCase(
		imageprocessor.NewProcessor(imageprocessor.Bilinear),
		classifier.New(model, imageprocessor.InputShape),
		labels,
		cache,
		zap.NewNop(),
		Options{},
	)
	uc.retry.initialBackoff = time.Millisecond
	uc.retry.maxBackoff = 2 * time.Millisecond
	return uc
}

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestClassifyEndToEnd(t *testing.T) {
	model := &stubModel{scores: []float32{0.05, 0.87, 0.08}}
	uc := newUseCase(model, classifier.DefaultLabels, nil)

	outcome, err := uc.Classify(context.Background(), sampleJPEG(t, 500, 500))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.Result.Label != "CROWFOOT_GRASS" {
		t.Fatalf("expected CROWFOOT_GRASS, got %s", outcome.Result.Label)
	}
	if outcome.Result.ConfidenceText() != "0.87" {
		t.Fatalf("expected confidence 0.87, got %s", outcome.Result.ConfidenceText())
	}
	if outcome.RequestID == "" || outcome.Cached {
		t.Fatalf("unexpected outcome metadata: %+v", outcome)
	}
	if model.calls != 1 || !model.inputs[0].Shape.Equal(imageprocessor.InputShape) {
		t.Fatalf("model received unexpected input: calls=%d", model.calls)
	}
}

func TestClassifyReportsStageErrors(t *testing.T) {
	cases := []struct {
		name      string
		model     *stubModel
		labels    classifier.LabelTable
		image     []byte
		stage     string
		operation string
	}{
		{
			name:      "malformed bytes",
			model:     &stubModel{scores: []float32{1, 0, 0}},
			labels:    classifier.DefaultLabels,
			image:     []byte("not an image"),
			stage:     StageDecode,
			operation: "usecase.decode",
		},
		{
			name:      "backend failure",
			model:     &stubModel{err: errors.New("backend down")},
			labels:    classifier.DefaultLabels,
			image:     sampleJPEG(t, 32, 32),
			stage:     StageClassify,
			operation: "usecase.classify",
		},
		{
			name:      "label mismatch",
			model:     &stubModel{scores: []float32{0.2, 0.3, 0.5}},
			labels:    classifier.LabelTable{"A", "B"},
			image:     sampleJPEG(t, 32, 32),
			stage:     StageFormat,
			operation: "usecase.format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := newUseCase(tc.model, tc.labels, nil)
			outcome, err := uc.Classify(context.Background(), tc.image)
			if err == nil {
				t.Fatalf("expected error, got outcome %+v", outcome)
			}
			if got := StageOf(err); got != tc.stage {
				t.Fatalf("expected stage %s, got %q (%v)", tc.stage, got, err)
			}
			var opErr *logging.OperationError
			if !errors.As(err, &opErr) || opErr.Operation != tc.operation {
				t.Fatalf("expected OperationError %s, got %v", tc.operation, err)
			}
			summary := uc.GetMetricsSummary()
			if summary.FailuresByStage[tc.stage] != 1 || summary.SuccessfulRequests != 0 {
				t.Fatalf("unexpected metrics: %+v", summary)
			}
		})
	}
}

func TestClassifyServesCachedResult(t *testing.T) {
	cached, err := json.Marshal(classifier.Result{Label: "PURPLE_CHLORIS", Index: 2, Confidence: 0.91})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cache := &stubCache{getValues: []string{string(cached)}, getErrs: []error{nil}}
	model := &stubModel{scores: []float32{1, 0, 0}}
	uc := newUseCase(model, classifier.DefaultLabels, cache)

	outcome, err := uc.Classify(context.Background(), sampleJPEG(t, 16, 16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Cached || outcome.Result.Label != "PURPLE_CHLORIS" {
		t.Fatalf("expected cached outcome, got %+v", outcome)
	}
	if model.calls != 0 {
		t.Fatalf("model should not run on a cache hit, got %d calls", model.calls)
	}
	if !strings.HasPrefix(cache.getKeys[0], "prediction:weedid:") {
		t.Fatalf("unexpected cache key %s", cache.getKeys[0])
	}
	if uc.GetMetricsSummary().CacheHits != 1 {
		t.Fatal("expected cache hit to be counted")
	}
}

func TestClassifyStoresResultAfterMiss(t *testing.T) {
	cache := &stubCache{}
	model := &stubModel{scores: []float32{0.1, 0.2, 0.7}}
	uc := newUseCase(model, classifier.DefaultLabels, cache)
	data := sampleJPEG(t, 16, 16)

	if _, err := uc.Classify(context.Background(), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != cache.getKeys[0] {
		t.Fatalf("expected result stored under lookup key, got set=%v get=%v", cache.setKeys, cache.getKeys)
	}

	var stored classifier.Result
	if err := json.Unmarshal([]byte(cache.setValues[0].(string)), &stored); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if stored.Label != "PURPLE_CHLORIS" {
		t.Fatalf("unexpected stored result %+v", stored)
	}
}

func TestClassifyRetriesTransientCacheSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientCacheError{}}}
	uc := newUseCase(&stubModel{scores: []float32{0.1, 0.8, 0.1}}, classifier.DefaultLabels, cache)

	if _, err := uc.Classify(context.Background(), sampleJPEG(t, 16, 16)); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 2 {
		t.Fatalf("expected retry of cache set, got %d calls", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestClassifyIgnoresCacheFailures(t *testing.T) {
	cache := &stubCache{
		getErrs: []error{errors.New("connection refused")},
		setErrs: []error{errors.New("connection refused")},
	}
	uc := newUseCase(&stubModel{scores: []float32{0.6, 0.3, 0.1}}, classifier.DefaultLabels, cache)

	outcome, err := uc.Classify(context.Background(), sampleJPEG(t, 16, 16))
	if err != nil {
		t.Fatalf("cache failures must not fail the request: %v", err)
	}
	if outcome.Result.Label != "CELOSIA_ARGENTEA_L" {
		t.Fatalf("unexpected label %s", outcome.Result.Label)
	}
}

func TestCacheScopeTracksConfiguration(t *testing.T) {
	a := cacheScope("weedid", classifier.DefaultLabels, "bilinear")
	if a != cacheScope("weedid", classifier.DefaultLabels, "bilinear") {
		t.Fatal("scope must be deterministic")
	}
	if a == cacheScope("weedid", classifier.DefaultLabels, "lanczos3") {
		t.Fatal("scope must change with the resize filter")
	}
	if a == cacheScope("weedid", classifier.LabelTable{"A", "B", "C"}, "bilinear") {
		t.Fatal("scope must change with the label table")
	}
}

func TestWithCacheRetryReturnsOperationError(t *testing.T) {
	uc := newUseCase(&stubModel{}, classifier.DefaultLabels, nil)

	attempts := 0
	err := uc.withCacheRetry(context.Background(), "req-2", "test.operation", func() error {
		attempts++
		return errors.New("boom")
	})

	if attempts != 1 {
		t.Fatalf("expected 1 attempt for a permanent error, got %d", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected error metadata: %+v", opErr)
	}
}

func TestMetricsSummary(t *testing.T) {
	uc := newUseCase(&stubModel{scores: []float32{0.25, 0.5, 0.25}}, classifier.DefaultLabels, nil)
	for i := 0; i < 2; i++ {
		if _, err := uc.Classify(context.Background(), sampleJPEG(t, 8, 8)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := uc.Classify(context.Background(), []byte("junk")); err == nil {
		t.Fatal("expected decode failure")
	}

	summary := uc.GetMetricsSummary()
	if summary.TotalRequests != 3 || summary.SuccessfulRequests != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.SuccessRate < 0.66 || summary.SuccessRate > 0.67 {
		t.Fatalf("unexpected success rate %f", summary.SuccessRate)
	}
	if summary.AverageConfidence != 0.5 {
		t.Fatalf("unexpected average confidence %f", summary.AverageConfidence)
	}
	if summary.FailuresByStage[StageDecode] != 1 {
		t.Fatalf("expected one decode failure, got %v", summary.FailuresByStage)
	}
}

func TestMetricsSkipNaNConfidence(t *testing.T) {
	nan := float32(math.NaN())
	uc := newUseCase(&stubModel{scores: []float32{nan, nan, nan}}, classifier.DefaultLabels, nil)

	outcome, err := uc.Classify(context.Background(), sampleJPEG(t, 8, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result.Label != "CELOSIA_ARGENTEA_L" {
		t.Fatalf("expected first label for an all-NaN output, got %s", outcome.Result.Label)
	}
	if n := uc.metrics.confidence.Count(); n != 0 {
		t.Fatalf("NaN confidence must not be recorded, histogram has %d samples", n)
	}

	if _, err := uc.Classify(context.Background(), sampleJPEG(t, 9, 9)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary := uc.GetMetricsSummary()
	if summary.SuccessfulRequests != 2 || summary.AverageConfidence != 0 {
		t.Fatalf("unexpected metrics: %+v", summary)
	}
}

func TestClassifyReportsUploadFormat(t *testing.T) {
	uc := newUseCase(&stubModel{scores: []float32{0.1, 0.2, 0.7}}, classifier.DefaultLabels, nil)

	outcome, err := uc.Classify(context.Background(), sampleJPEG(t, 8, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Format != "jpeg" {
		t.Fatalf("expected jpeg format, got %q", outcome.Format)
	}
}
