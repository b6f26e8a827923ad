// Package metrics exposes hub and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"parley/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

// Collector implements realtime.Metrics on top of Prometheus instruments.
type Collector struct {
	sessionsOpened     prometheus.Counter
	sessionsSuperseded prometheus.Counter
	sessionsRemoved    *prometheus.CounterVec
	onlineUsers        prometheus.Gauge
	broadcasts         prometheus.Counter
	broadcastPushes    prometheus.Counter
	broadcastsSkipped  prometheus.Counter
	deliveries         *prometheus.CounterVec
	sideEffectDrops    *prometheus.CounterVec
	sideEffectFails    *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

var _ realtime.Metrics = (*Collector)(nil)

// NewCollector registers every instrument on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions installed in the registry.",
		}),
		sessionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_superseded_total",
			Help:      "Sessions force-closed because the same user registered again.",
		}),
		sessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions removed from the registry, by reason.",
		}, []string{"reason"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Size of the last announced online set.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcasts_total",
			Help:      "Online-set announcements sent.",
		}),
		broadcastPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcast_recipients_total",
			Help:      "Sessions that received an online-set announcement.",
		}),
		broadcastsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcasts_suppressed_total",
			Help:      "Debounced broadcasts skipped because the online set was unchanged.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Reachability-gated deliveries, by event and outcome.",
		}, []string{"event", "delivered"}),
		sideEffectDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_dropped_total",
			Help:      "Mirror writes and announcements dropped because the queue was full.",
		}, []string{"job"}),
		sideEffectFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_failed_total",
			Help:      "Mirror writes and announcements that returned an error.",
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.sessionsOpened,
		c.sessionsSuperseded,
		c.sessionsRemoved,
		c.onlineUsers,
		c.broadcasts,
		c.broadcastPushes,
		c.broadcastsSkipped,
		c.deliveries,
		c.sideEffectDrops,
		c.sideEffectFails,
		c.httpRequests,
		c.httpLatency,
	)
	return c
}

func (c *Collector) SessionOpened()               { c.sessionsOpened.Inc() }
func (c *Collector) SessionSuperseded()           { c.sessionsSuperseded.Inc() }
func (c *Collector) SessionRemoved(reason string) { c.sessionsRemoved.WithLabelValues(reason).Inc() }
func (c *Collector) OnlineUsers(n int)            { c.onlineUsers.Set(float64(n)) }
func (c *Collector) BroadcastSuppressed()         { c.broadcastsSkipped.Inc() }
func (c *Collector) SideEffectDropped(job string) { c.sideEffectDrops.WithLabelValues(job).Inc() }
func (c *Collector) SideEffectFailed(job string)  { c.sideEffectFails.WithLabelValues(job).Inc() }

func (c *Collector) BroadcastSent(recipients int) {
	c.broadcasts.Inc()
	c.broadcastPushes.Add(float64(recipients))
}

func (c *Collector) Delivery(event string, delivered bool) {
	c.deliveries.WithLabelValues(event, strconv.FormatBool(delivered)).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(d.Seconds())
}

// Handler serves the Prometheus scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
