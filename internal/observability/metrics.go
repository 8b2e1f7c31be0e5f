package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/odyssey-invoicing/internal/jobs"
)

// Metrics collects the Prometheus series exported by the invoicing service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	invoices      *prometheus.CounterVec
	numbers       prometheus.Counter
	numbersByUnit *prometheus.CounterVec
	adjustments   *prometheus.CounterVec
	negative      prometheus.Gauge

	jobs *jobmetrics.Metrics
}

// NewMetrics builds a private registry with HTTP, domain and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_invoices_total",
		Help: "Sales invoice operations partitioned by operation and outcome.",
	}, []string{"operation", "outcome"})
	numbers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_invoice_numbers_allocated_total",
		Help: "Invoice numbers consumed by committed transactions.",
	})
	numbersByUnit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_invoice_numbers_allocated_by_unit_total",
		Help: "Invoice numbers consumed per business unit.",
	}, []string{"business_unit"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_adjustments_total",
		Help: "Applied stock deltas partitioned by direction.",
	}, []string{"direction"})
	negative := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_negative_stock_articles",
		Help: "Articles whose stock quantity is below zero at the last scan.",
	})
	registry.MustRegister(requests, duration, invoices, numbers, numbersByUnit, adjustments, negative)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		invoices:        invoices,
		numbers:         numbers,
		numbersByUnit:   numbersByUnit,
		adjustments:     adjustments,
		negative:        negative,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Jobs returns the job collectors registered on the same registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// InvoiceOperation counts one sales operation with its outcome.
func (m *Metrics) InvoiceOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(operation, outcome).Inc()
}

// NumberAllocated counts an invoice number that survived its transaction.
func (m *Metrics) NumberAllocated(businessUnitID int64) {
	if m == nil {
		return
	}
	m.numbers.Inc()
	m.numbersByUnit.WithLabelValues(strconv.FormatInt(businessUnitID, 10)).Inc()
}

// StockAdjusted counts applied stock deltas. Direction is "in" or "out".
func (m *Metrics) StockAdjusted(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.adjustments.WithLabelValues(direction).Add(float64(n))
}

// SetNegativeStock publishes the result of the latest negative stock scan.
func (m *Metrics) SetNegativeStock(n int) {
	if m == nil {
		return
	}
	m.negative.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
