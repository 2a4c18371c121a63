package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/psantana5/edgeconnect/pkg/logging"
)

func TestMetricsRecordLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordStart("Gatsby")
	m.RecordReady("Gatsby", 1500*time.Millisecond)

	if got := testutil.ToFloat64(m.running.WithLabelValues("Gatsby")); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}

	m.RecordResult(&Result{Label: "Gatsby", Outcome: OutcomeStopped, Ready: true, ReadyAfter: 1500 * time.Millisecond})
	if got := testutil.ToFloat64(m.running.WithLabelValues("Gatsby")); got != 0 {
		t.Errorf("running after stop = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.starts.WithLabelValues("Gatsby")); got != 1 {
		t.Errorf("starts = %v, want 1", got)
	}
}

func TestMetricsRecordFailure(t *testing.T) {
	m := NewMetrics()
	m.RecordResult(&Result{Label: "Next", Outcome: OutcomeTimeout})

	if got := testutil.ToFloat64(m.failures.WithLabelValues("Next", string(OutcomeTimeout))); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestMetricsExport(t *testing.T) {
	m := NewMetrics()
	m.RecordRebuild(true)
	m.RecordRebuild(false)
	m.RecordBundle("copied", 3)
	m.RecordBundle("skipped", 0)

	out, err := m.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for _, want := range []string{
		`edgeconnect_asset_rebuilds_total{result="success"} 1`,
		`edgeconnect_asset_rebuilds_total{result="failure"} 1`,
		`edgeconnect_bundler_files_total{action="copied"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, `action="skipped"`) {
		t.Error("zero-count actions should not be recorded")
	}
}

func TestFailureLogRingBuffer(t *testing.T) {
	log := NewFailureLog(2)

	log.Record(&Result{SessionID: "ok", Outcome: OutcomeStopped})
	log.Record(&Result{SessionID: "a", Outcome: OutcomePremature})
	log.Record(&Result{SessionID: "b", Outcome: OutcomeTimeout})
	log.Record(&Result{SessionID: "c", Outcome: OutcomeSpawnFailed})

	if log.Count() != 2 {
		t.Fatalf("count = %d, want 2", log.Count())
	}
	recent := log.Recent(0)
	if recent[0].SessionID != "c" || recent[1].SessionID != "b" {
		t.Errorf("unexpected order: %+v", recent)
	}
	if len(log.Recent(1)) != 1 {
		t.Error("Recent(1) should return one sample")
	}
}

func TestLogSummary(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(logging.INFO, false)
	l.SetOutput(&buf)

	r := &Result{SessionID: "s1", Label: "Nuxt", Outcome: OutcomePremature, ExitCode: 2, Reason: "exited before ready"}
	r.LogSummary(l)

	out := buf.String()
	if !strings.Contains(out, "ERROR: DEV SESSION") || !strings.Contains(out, "label=Nuxt") || !strings.Contains(out, "exit=2") {
		t.Errorf("unexpected summary: %q", out)
	}
}
