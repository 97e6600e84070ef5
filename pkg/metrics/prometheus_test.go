package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsCollector_ExposesRecordedSeries(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.RecordTransfer("COMPLETED", 20*time.Millisecond)
	m.RecordFraudDecision("DENY", 95)
	m.RecordLimitRejection("daily")
	m.RecordWebhook("failed", "applied")

	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`pix_transfers_total{status="COMPLETED"} 1`,
		`pix_fraud_decisions_total{decision="DENY"} 1`,
		`pix_limit_rejections_total{constraint="daily"} 1`,
		`pix_webhook_events_total{event_type="failed",outcome="applied"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}

func TestMetricsCollector_NilIsNoop(t *testing.T) {
	var m *MetricsCollector
	m.RecordTransfer("FAILED", time.Second)
	m.RecordSettlement("timeout", time.Second)
	m.UpdateAccountBalance("a1", "BRL", 10)
}
