package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commutewatch_extractions_total",
			Help: "Route extractions by the tier that produced the outcome",
		},
		[]string{"route", "tier"},
	)

	NavigationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commutewatch_navigation_errors_total",
			Help: "Route cycles aborted because the page could not be loaded",
		},
		[]string{"route"},
	)

	ExtractionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commutewatch_extraction_latency_seconds",
			Help:    "Time to navigate and extract one route",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"route"},
	)

	TravelMinutes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "commutewatch_travel_minutes",
			Help: "Most recent extracted travel time in minutes",
		},
		[]string{"route"},
	)

	SamplesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commutewatch_samples_appended_total",
			Help: "Rows appended to route tables, by whether a duration was present",
		},
		[]string{"route", "null"},
	)

	ChartsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commutewatch_charts_rendered_total",
			Help: "Chart renders by outcome",
		},
		[]string{"route", "status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commutewatch_cycle_duration_seconds",
			Help:    "Wall time of a full scrape cycle across all routes",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		},
	)

	LastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commutewatch_last_cycle_timestamp_seconds",
			Help: "Unix time the last scrape cycle finished",
		},
	)
)
