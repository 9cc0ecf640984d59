package usecase

import (
	"math"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// Pipeline stage names used in metrics, logs and user-facing errors.
const (
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageClassify  = "classify"
	StageFormat    = "format"
)

var stages = []string{StageDecode, StageNormalize, StageClassify, StageFormat}

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalRequests              int64              `json:"total_requests"`
	SuccessfulRequests         int64              `json:"successful_requests"`
	CacheHits                  int64              `json:"cache_hits"`
	SuccessRate                float64            `json:"success_rate"`
	AverageConfidence          float64            `json:"average_confidence"`
	AverageProcessingLatencyMs float64            `json:"average_processing_latency_ms"`
	FailuresByStage            map[string]int64   `json:"failures_by_stage"`
	StageLatencyMs             map[string]float64 `json:"stage_latency_ms"`
}

type pipelineMetrics struct {
	registry   metrics.Registry
	requests   metrics.Counter
	successes  metrics.Counter
	cacheHits  metrics.Counter
	latency    metrics.Timer
	confidence metrics.Histogram
	stageTimer map[string]metrics.Timer
	stageFails map[string]metrics.Counter
}

func newPipelineMetrics(registry metrics.Registry) *pipelineMetrics {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	m := &pipelineMetrics{
		registry:   registry,
		requests:   metrics.GetOrRegisterCounter("classify.requests", registry),
		successes:  metrics.GetOrRegisterCounter("classify.successes", registry),
		cacheHits:  metrics.GetOrRegisterCounter("classify.cache_hits", registry),
		latency:    metrics.GetOrRegisterTimer("classify.latency", registry),
		confidence: metrics.GetOrRegisterHistogram("classify.confidence", registry, metrics.NewUniformSample(1028)),
		stageTimer: make(map[string]metrics.Timer, len(stages)),
		stageFails: make(map[string]metrics.Counter, len(stages)),
	}
	for _, stage := range stages {
		m.stageTimer[stage] = metrics.GetOrRegisterTimer("stage."+stage+".latency", registry)
		m.stageFails[stage] = metrics.GetOrRegisterCounter("stage."+stage+".failures", registry)
	}
	return m
}

func (m *pipelineMetrics) observeStage(stage string, start time.Time, err error) {
	m.stageTimer[stage].UpdateSince(start)
	if err != nil {
		m.stageFails[stage].Inc(1)
	}
}

func (m *pipelineMetrics) observeSuccess(start time.Time, confidence float32, cached bool) {
	m.successes.Inc(1)
	m.latency.UpdateSince(start)
	// The histogram stores int64 samples; confidence is kept in basis points.
	// An all-NaN score vector has no meaningful confidence to record.
	if !math.IsNaN(float64(confidence)) {
		m.confidence.Update(int64(confidence * 10000))
	}
	if cached {
		m.cacheHits.Inc(1)
	}
}

// GetMetricsSummary aggregates metrics recorded since startup.
func (uc *ClassificationUseCase) GetMetricsSummary() *MetricsSummary {
	m := uc.metrics
	summary := &MetricsSummary{
		TotalRequests:              m.requests.Count(),
		SuccessfulRequests:         m.successes.Count(),
		CacheHits:                  m.cacheHits.Count(),
		AverageConfidence:          m.confidence.Mean() / 10000,
		AverageProcessingLatencyMs: m.latency.Mean() / float64(time.Millisecond),
		FailuresByStage:            make(map[string]int64, len(stages)),
		StageLatencyMs:             make(map[string]float64, len(stages)),
	}
	for _, stage := range stages {
		summary.FailuresByStage[stage] = m.stageFails[stage].Count()
		summary.StageLatencyMs[stage] = m.stageTimer[stage].Mean() / float64(time.Millisecond)
	}

	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(summary.SuccessfulRequests) / float64(summary.TotalRequests)
	}

	return summary
}
