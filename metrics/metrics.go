// Package metrics registers the Prometheus collectors the dispatcher, cache
// store and resize pool update, namespaced under the app name ("imgproxy_"
// prefix, the same one main.go gives the Go collector) with a subsystem per
// component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omalloc/imgproxy/internal/constants"
)

var namespace = constants.AppName

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served by the dispatcher, by cache status.",
	}, []string{"cache_status", "code"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Dispatcher request latency, from accept to last byte written.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"cache_status"})

	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Upstream fetch latency, from dial to EOF or error.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	FetchBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "bytes_total",
		Help:      "Total bytes streamed from upstream into the cache store.",
	})

	ResizeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "resize",
		Name:      "duration_seconds",
		Help:      "Resize worker job latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	ResizeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "resize",
		Name:      "queue_depth",
		Help:      "Number of resize jobs currently queued or in flight.",
	})

	FlightWaitersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flight",
		Name:      "coalesced_waiters_total",
		Help:      "Total requests that joined an in-flight fetch instead of starting a new one.",
	})

	FlightInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "flight",
		Name:      "in_flight",
		Help:      "Number of fingerprints with a fetch currently in flight.",
	})

	CacheEntriesTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cachestore",
		Name:      "entries_total",
		Help:      "Approximate number of entries in the on-disk cache store.",
	}, []string{"state"})

	HostRequestsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "requests_total",
		Help:      "Observed request count per upstream host, from internal/hostcounter.",
	}, []string{"host"})

	CacheStoreByteRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cachestore",
		Name:      "store_bytes_per_second",
		Help:      "Rolling one-second rate of bytes promoted into the cache store.",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		FetchDuration,
		FetchBytesTotal,
		ResizeDuration,
		ResizeQueueDepth,
		FlightWaitersTotal,
		FlightInFlight,
		CacheEntriesTotal,
		HostRequestsTotal,
		CacheStoreByteRate,
	)
}
