package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels applied to all pipeline metrics.
type Config struct {
	ServiceName string
	Environment string
}

const (
	TierNative    = "native_structured"
	TierVision    = "ai_vision"
	TierLinkCrawl = "link_crawl"
)

const (
	OutcomeCompleted      = "completed"
	OutcomeFailed         = "failed"
	OutcomeSkippedQuota   = "skipped_quota"
	OutcomeRetryRequested = "retry_requested"
)

// PipelineMetrics captures ingestion pipeline health signals.
type PipelineMetrics struct {
	candidatesDiscovered *prometheus.CounterVec
	claimsGranted        *prometheus.CounterVec
	claimsContended      *prometheus.CounterVec
	itemsEnqueued        *prometheus.CounterVec
	extractionOutcomes   *prometheus.CounterVec
	quotaSkips           *prometheus.CounterVec
	leasesReclaimed      prometheus.Counter
	extractionDuration   *prometheus.HistogramVec
	discoveryErrors      *prometheus.CounterVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "facturio"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	candidatesDiscovered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_candidates_discovered_total",
		Help:        "Source candidates yielded by discovery, by match source.",
		ConstLabels: constLabels,
	}, []string{"match_source"})
	claimsGranted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_claims_granted_total",
		Help:        "Ledger claims granted, by trigger mode.",
		ConstLabels: constLabels,
	}, []string{"mode"})
	claimsContended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_claims_contended_total",
		Help:        "Claim attempts that observed an existing owner. Not an error condition.",
		ConstLabels: constLabels,
	}, []string{"mode"})
	itemsEnqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_items_enqueued_total",
		Help:        "Work items handed to the extraction queue, by trigger mode.",
		ConstLabels: constLabels,
	}, []string{"mode"})
	extractionOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_extraction_outcomes_total",
		Help:        "Extraction finalizations by tier and outcome.",
		ConstLabels: constLabels,
	}, []string{"tier", "outcome"})
	quotaSkips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_quota_skips_total",
		Help:        "Items deferred because the tenant AI quota was exhausted. Tracked apart from errors.",
		ConstLabels: constLabels,
	}, []string{"tenant_id"})
	leasesReclaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "facturio_pipeline_leases_reclaimed_total",
		Help:        "Expired claims force-released by the reconciliation sweep.",
		ConstLabels: constLabels,
	})
	extractionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "facturio_pipeline_extraction_duration_seconds",
		Help:        "End-to-end extraction latency per work item, by tier.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"tier"})
	discoveryErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facturio_pipeline_discovery_errors_total",
		Help:        "Per-account discovery errors, by class.",
		ConstLabels: constLabels,
	}, []string{"class"})

	registerer.MustRegister(
		candidatesDiscovered,
		claimsGranted,
		claimsContended,
		itemsEnqueued,
		extractionOutcomes,
		quotaSkips,
		leasesReclaimed,
		extractionDuration,
		discoveryErrors,
	)

	return &PipelineMetrics{
		candidatesDiscovered: candidatesDiscovered,
		claimsGranted:        claimsGranted,
		claimsContended:      claimsContended,
		itemsEnqueued:        itemsEnqueued,
		extractionOutcomes:   extractionOutcomes,
		quotaSkips:           quotaSkips,
		leasesReclaimed:      leasesReclaimed,
		extractionDuration:   extractionDuration,
		discoveryErrors:      discoveryErrors,
	}
}

func (m *PipelineMetrics) IncCandidateDiscovered(matchSource string) {
	if m == nil {
		return
	}
	m.candidatesDiscovered.WithLabelValues(matchSource).Inc()
}

func (m *PipelineMetrics) IncClaimGranted(mode string) {
	if m == nil {
		return
	}
	m.claimsGranted.WithLabelValues(mode).Inc()
}

func (m *PipelineMetrics) IncClaimContended(mode string) {
	if m == nil {
		return
	}
	m.claimsContended.WithLabelValues(mode).Inc()
}

func (m *PipelineMetrics) IncItemEnqueued(mode string) {
	if m == nil {
		return
	}
	m.itemsEnqueued.WithLabelValues(mode).Inc()
}

func (m *PipelineMetrics) IncExtractionOutcome(tier, outcome string) {
	if m == nil {
		return
	}
	m.extractionOutcomes.WithLabelValues(tier, outcome).Inc()
}

func (m *PipelineMetrics) IncQuotaSkip(tenantID string) {
	if m == nil {
		return
	}
	m.quotaSkips.WithLabelValues(tenantID).Inc()
}

func (m *PipelineMetrics) IncLeaseReclaimed() {
	if m == nil {
		return
	}
	m.leasesReclaimed.Inc()
}

func (m *PipelineMetrics) ObserveExtractionDuration(tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractionDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncDiscoveryError(class string) {
	if m == nil {
		return
	}
	m.discoveryErrors.WithLabelValues(class).Inc()
}
