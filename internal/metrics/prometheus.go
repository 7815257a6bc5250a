// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_token_refresh_total{outcome}
	tokenRefreshTotal *prometheus.CounterVec

	// gateway_token_refresh_duration_seconds
	tokenRefreshDuration prometheus.Histogram

	// gateway_registry_refresh_total{outcome}
	registryRefreshTotal *prometheus.CounterVec

	// gateway_registry_bindings — current size of the resolved Snapshot
	registryBindings prometheus.Gauge

	// gateway_upstream_requests_total{family,outcome}
	upstreamRequestsTotal *prometheus.CounterVec

	// gateway_upstream_request_duration_seconds{family}
	upstreamDuration *prometheus.HistogramVec

	// gateway_tokens_total{family,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_usage_observed_total{family,present}
	usageObservedTotal *prometheus.CounterVec

	// gateway_dropped_logs_total
	droppedLogsTotal prometheus.Counter

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, end-to-end including the upstream round trip",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		tokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_refresh_total",
				Help: "UAA token exchanges by outcome",
			},
			[]string{"outcome"},
		),

		tokenRefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_token_refresh_duration_seconds",
			Help:    "UAA token exchange duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		registryRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_registry_refresh_total",
				Help: "Deployment Registry refreshes by outcome",
			},
			[]string{"outcome"},
		),

		registryBindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_registry_bindings",
			Help: "Number of logical model bindings in the current Snapshot",
		}),

		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Total proxied upstream requests by family and outcome",
			},
			[]string{"family", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds, by family",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"family"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token usage totals observed from upstream usage fields",
			},
			[]string{"family", "direction"},
		),

		usageObservedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_usage_observed_total",
				Help: "Proxied responses by family and whether a usage field was observed",
			},
			[]string{"family", "present"},
		),

		droppedLogsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dropped_logs_total",
			Help: "Usage-event log entries dropped because the async logger's channel was full",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.tokenRefreshTotal,
		r.tokenRefreshDuration,
		r.registryRefreshTotal,
		r.registryBindings,
		r.upstreamRequestsTotal,
		r.upstreamDuration,
		r.tokensTotal,
		r.usageObservedTotal,
		r.droppedLogsTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one inbound request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordTokenRefresh records one UAA exchange outcome ("ok" or "error").
func (r *Registry) RecordTokenRefresh(outcome string, dur time.Duration) {
	r.tokenRefreshTotal.WithLabelValues(outcome).Inc()
	r.tokenRefreshDuration.Observe(dur.Seconds())
}

// RecordRegistryRefresh records one Registry refresh outcome and, on
// success, the resulting Snapshot size.
func (r *Registry) RecordRegistryRefresh(outcome string, bindingCount int) {
	r.registryRefreshTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		r.registryBindings.Set(float64(bindingCount))
	}
}

// RecordUpstreamRequest records one proxied upstream request.
func (r *Registry) RecordUpstreamRequest(family, outcome string, dur time.Duration) {
	r.upstreamRequestsTotal.WithLabelValues(family, outcome).Inc()
	r.upstreamDuration.WithLabelValues(family).Observe(dur.Seconds())
}

// RecordUsage records observed token counts and whether usage was present
// at all for a proxied response, streamed or not.
func (r *Registry) RecordUsage(family string, inputTokens, outputTokens int, present bool) {
	r.usageObservedTotal.WithLabelValues(family, strconv.FormatBool(present)).Inc()
	if !present {
		return
	}
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(family, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(family, "output").Add(float64(outputTokens))
	}
}

// RecordDroppedLog increments the dropped-log counter by n.
func (r *Registry) RecordDroppedLog(n int64) {
	if n <= 0 {
		return
	}
	r.droppedLogsTotal.Add(float64(n))
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
