package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns a private registry. Every recording method is safe
// to call on a nil collector so components can run without metrics.
type MetricsCollector struct {
	registry              *prometheus.Registry
	transfersTotal        *prometheus.CounterVec
	transferDuration      prometheus.Histogram
	riskScoreDistribution prometheus.Histogram
	fraudDecisions        *prometheus.CounterVec
	limitRejections       *prometheus.CounterVec
	settlementLatency     *prometheus.HistogramVec
	webhookOutcomes       *prometheus.CounterVec
	accountBalance        *prometheus.GaugeVec
	server                *http.Server
	logger                *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		transfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_transfers_total",
			Help: "Transfers by the status they ended the request in",
		}, []string{"status"}),
		transferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pix_transfer_processing_duration_seconds",
			Help:    "Time taken to process a transfer request",
			Buckets: prometheus.DefBuckets,
		}),
		riskScoreDistribution: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pix_fraud_risk_score_distribution",
			Help:    "Distribution of fraud risk scores",
			Buckets: []float64{0, 20, 40, 60, 80, 90, 100},
		}),
		fraudDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_fraud_decisions_total",
			Help: "Fraud analysis decisions",
		}, []string{"decision"}),
		limitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_limit_rejections_total",
			Help: "Transfers rejected by a spending limit",
		}, []string{"constraint"}),
		settlementLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pix_settlement_duration_seconds",
			Help:    "Latency of payment network settlement calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"outcome"}),
		webhookOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_webhook_events_total",
			Help: "Settlement webhook events by type and processing outcome",
		}, []string{"event_type", "outcome"}),
		accountBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pix_account_balance",
			Help: "Current account balance",
		}, []string{"account_id", "currency"}),
		logger: logger,
	}
}

func (m *MetricsCollector) RecordTransfer(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(status).Inc()
	m.transferDuration.Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordFraudDecision(decision string, score int) {
	if m == nil {
		return
	}
	m.fraudDecisions.WithLabelValues(decision).Inc()
	m.riskScoreDistribution.Observe(float64(score))
}

func (m *MetricsCollector) RecordLimitRejection(constraint string) {
	if m == nil {
		return
	}
	m.limitRejections.WithLabelValues(constraint).Inc()
}

func (m *MetricsCollector) RecordSettlement(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.settlementLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(eventType, outcome).Inc()
}

func (m *MetricsCollector) UpdateAccountBalance(accountID, currency string, balance float64) {
	if m == nil {
		return
	}
	m.accountBalance.WithLabelValues(accountID, currency).Set(balance)
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return m.server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
