package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for chainmail
type Metrics struct {
	// Generation
	MailsGeneratedTotal    *prometheus.CounterVec
	RecipientsSkippedTotal *prometheus.CounterVec
	LedgerRowsTotal        prometheus.Counter
	DescriptionsTotal      prometheus.Counter

	// Dispatch
	MessagesSentTotal      *prometheus.CounterVec
	MessagesFailedTotal    *prometheus.CounterVec
	ArtifactsSkippedTotal  prometheus.Counter
	DispatchPausesSeconds  *prometheus.CounterVec
	DispatchLastRunSuccess prometheus.Gauge

	// Tracking
	PixelOpensTotal            *prometheus.CounterVec
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MailsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_mails_generated_total",
				Help: "Total number of rendered mail artifacts",
			},
			[]string{"wave"},
		),
		RecipientsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_recipients_skipped_total",
				Help: "Total number of placeholder recipients skipped during generation",
			},
			[]string{"wave"},
		),
		LedgerRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainmail_ledger_rows_total",
				Help: "Total number of tracking ledger rows written",
			},
		),
		DescriptionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainmail_descriptions_total",
				Help: "Total number of video descriptions written",
			},
		),

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_messages_sent_total",
				Help: "Total number of messages accepted by the outbound server",
			},
			[]string{"mode"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_messages_failed_total",
				Help: "Total number of messages that could not be sent",
			},
			[]string{"mode", "error_type"},
		),
		ArtifactsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainmail_artifacts_skipped_total",
				Help: "Total number of malformed mail artifacts ignored by the sender",
			},
		),
		DispatchPausesSeconds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_dispatch_pause_seconds_total",
				Help: "Time spent pausing between sends",
			},
			[]string{"kind"},
		),
		DispatchLastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainmail_dispatch_last_run_success",
				Help: "1 if the last dispatch run completed, 0 if it aborted",
			},
		),

		PixelOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_pixel_opens_total",
				Help: "Total number of tracking pixel hits",
			},
			[]string{"wave"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmail_http_requests_total",
				Help: "Total number of tracking server requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainmail_http_request_duration_seconds",
				Help:    "Tracking server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"method", "route"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MailsGeneratedTotal,
		m.RecipientsSkippedTotal,
		m.LedgerRowsTotal,
		m.DescriptionsTotal,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.ArtifactsSkippedTotal,
		m.DispatchPausesSeconds,
		m.DispatchLastRunSuccess,
		m.PixelOpensTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMailsGenerated increments the generated mail counter
func IncMailsGenerated(wave int) {
	if m := Global(); m != nil {
		m.MailsGeneratedTotal.WithLabelValues(waveLabel(wave)).Inc()
	}
}

// IncRecipientsSkipped increments the placeholder counter
func IncRecipientsSkipped(wave int) {
	if m := Global(); m != nil {
		m.RecipientsSkippedTotal.WithLabelValues(waveLabel(wave)).Inc()
	}
}

// AddLedgerRows adds to the ledger row counter
func AddLedgerRows(n int) {
	if m := Global(); m != nil {
		m.LedgerRowsTotal.Add(float64(n))
	}
}

// IncDescriptions increments the description counter
func IncDescriptions() {
	if m := Global(); m != nil {
		m.DescriptionsTotal.Inc()
	}
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(mode string) {
	if m := Global(); m != nil {
		m.MessagesSentTotal.WithLabelValues(mode).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(mode, errorType string) {
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(mode, errorType).Inc()
	}
}

// AddArtifactsSkipped adds to the malformed artifact counter
func AddArtifactsSkipped(n int) {
	if m := Global(); m != nil {
		m.ArtifactsSkippedTotal.Add(float64(n))
	}
}

// AddPause records time spent in a pause of the given kind (message, wave, grace)
func AddPause(kind string, seconds float64) {
	if m := Global(); m != nil {
		m.DispatchPausesSeconds.WithLabelValues(kind).Add(seconds)
	}
}

// SetDispatchResult records whether the last dispatch run completed
func SetDispatchResult(ok bool) {
	if m := Global(); m != nil {
		if ok {
			m.DispatchLastRunSuccess.Set(1)
		} else {
			m.DispatchLastRunSuccess.Set(0)
		}
	}
}

// IncPixelOpens increments the pixel hit counter
func IncPixelOpens(wave int) {
	if m := Global(); m != nil {
		m.PixelOpensTotal.WithLabelValues(waveLabel(wave)).Inc()
	}
}

func waveLabel(wave int) string {
	return fmt.Sprintf("%02d", wave)
}
