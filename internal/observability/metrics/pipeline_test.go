package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersCarryConstLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newPipelineMetrics(registry, Config{
		ServiceName: "facturio",
		Environment: "test",
	})

	m.IncCandidateDiscovered("subject")
	m.IncCandidateDiscovered("subject")
	m.IncClaimGranted("manual")
	m.IncClaimContended("scheduled")
	m.IncItemEnqueued("manual")
	m.IncExtractionOutcome(TierNative, OutcomeCompleted)
	m.IncQuotaSkip("7")
	m.IncLeaseReclaimed()
	m.IncDiscoveryError("auth")
	m.ObserveExtractionDuration(TierVision, 2*time.Second)

	if got := testutil.ToFloat64(m.candidatesDiscovered.WithLabelValues("subject")); got != 2 {
		t.Fatalf("expected 2 discovered candidates, got %v", got)
	}
	if got := testutil.ToFloat64(m.claimsGranted.WithLabelValues("manual")); got != 1 {
		t.Fatalf("expected 1 granted claim, got %v", got)
	}
	if got := testutil.ToFloat64(m.extractionOutcomes.WithLabelValues(TierNative, OutcomeCompleted)); got != 1 {
		t.Fatalf("expected 1 completed extraction, got %v", got)
	}
	if got := testutil.ToFloat64(m.leasesReclaimed); got != 1 {
		t.Fatalf("expected 1 reclaimed lease, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["service"] != "facturio" || labels["env"] != "test" {
				t.Fatalf("metric %s missing const labels: %v", family.GetName(), labels)
			}
		}
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.IncCandidateDiscovered("subject")
	m.IncClaimGranted("manual")
	m.IncExtractionOutcome(TierLinkCrawl, OutcomeFailed)
	m.ObserveExtractionDuration(TierNative, time.Second)
	m.IncLeaseReclaimed()
}
