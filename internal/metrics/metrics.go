// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus instrumentation on a dedicated
// listener, kept separate from the message API so scraping never competes
// with UI traffic.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Collector struct {
	registry *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiDuration  *prometheus.HistogramVec
	pollTicks    *prometheus.CounterVec
	activeCount  prometheus.Gauge
	notifyEvents prometheus.Counter
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "debridarr_api_requests_total",
			Help: "Outbound debrid API requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "debridarr_api_request_duration_seconds",
			Help:    "Outbound debrid API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "debridarr_poll_ticks_total",
			Help: "Torrent poll ticks by result.",
		}, []string{"result"}),
		activeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "debridarr_active_torrents",
			Help: "Active torrents observed by the last poll.",
		}),
		notifyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debridarr_events_published_total",
			Help: "Events published to UI surfaces.",
		}),
	}

	registry.MustRegister(c.apiRequests, c.apiDuration, c.pollTicks, c.activeCount, c.notifyEvents)
	return c
}

// ObserveAPIRequest records one outbound debrid API exchange.
func (c *Collector) ObserveAPIRequest(method, path string, status int, elapsed time.Duration) {
	c.apiRequests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	c.apiDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObservePollTick records one monitor tick.
func (c *Collector) ObservePollTick(active int, err error) {
	if err != nil {
		c.pollTicks.WithLabelValues("error").Inc()
		return
	}
	c.pollTicks.WithLabelValues("ok").Inc()
	c.activeCount.Set(float64(active))
}

// ObserveEvent records one published UI event.
func (c *Collector) ObserveEvent() {
	c.notifyEvents.Inc()
}

// RegisterBudgetGauge exposes the rate limiter fill level via a callback.
func (c *Collector) RegisterBudgetGauge(pending func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "debridarr_rate_budget_pending",
		Help: "Requests currently counted against the rate window.",
	}, func() float64 { return float64(pending()) }))
}

// RegisterSubscriberGauge exposes the SSE subscriber count via a callback.
func (c *Collector) RegisterSubscriberGauge(subscribers func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "debridarr_event_subscribers",
		Help: "Connected event stream subscribers.",
	}, func() float64 { return float64(subscribers()) }))
}

// Server serves the metrics endpoint.
type Server struct {
	server *http.Server
}

func NewServer(collector *Collector, host string, port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.registry, promhttp.HandlerOpts{}))

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
