package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector satisfies trip.Metrics, stream.Metrics and relay.ConnectionMetrics
// on a private registry.
type Collector struct {
	reg *prometheus.Registry

	TripsCreated       prometheus.Counter
	ScheduleItems      prometheus.Counter
	VehiclesRegistered prometheus.Counter
	PositionReports    prometheus.Counter
	ChatMessages       prometheus.Counter

	Connections      prometheus.Gauge
	Broadcasts       *prometheus.CounterVec // event label
	BroadcastFanout  prometheus.Histogram
	DroppedMessages  prometheus.Counter
	InboundEvents    *prometheus.CounterVec // event label
	MirrorErrors     *prometheus.CounterVec // sink label
	MirrorConnection *prometheus.GaugeVec   // sink label
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_trips_created_total",
			Help: "Total trips created.",
		}),
		ScheduleItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_schedule_items_added_total",
			Help: "Total schedule items added.",
		}),
		VehiclesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_vehicles_registered_total",
			Help: "Total vehicles registered.",
		}),
		PositionReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_position_reports_total",
			Help: "Total accepted location updates.",
		}),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_chat_messages_total",
			Help: "Total chat messages posted.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripshare_ws_connections",
			Help: "Currently open realtime connections.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripshare_broadcasts_total",
			Help: "Room broadcasts by event name.",
		}, []string{"event"}),
		BroadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripshare_broadcast_recipients",
			Help:    "Connections that accepted each broadcast.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		DroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_dropped_messages_total",
			Help: "Messages dropped because a connection's send buffer was full.",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripshare_inbound_events_total",
			Help: "Inbound realtime events by name.",
		}, []string{"event"}),
		MirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripshare_mirror_errors_total",
			Help: "Failed mirror publishes by sink.",
		}, []string{"sink"}),
		MirrorConnection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tripshare_mirror_connected",
			Help: "1 if the mirror sink is connected, 0 otherwise.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		c.TripsCreated, c.ScheduleItems, c.VehiclesRegistered, c.PositionReports, c.ChatMessages,
		c.Connections, c.Broadcasts, c.BroadcastFanout, c.DroppedMessages, c.InboundEvents,
		c.MirrorErrors, c.MirrorConnection,
	)
	return c
}

// WatchTrips exposes the live trip count through fn.
func (c *Collector) WatchTrips(fn func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tripshare_trips",
		Help: "Trips currently held in memory.",
	}, func() float64 { return float64(fn()) }))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) TripCreated()       { c.TripsCreated.Inc() }
func (c *Collector) ScheduleItemAdded() { c.ScheduleItems.Inc() }
func (c *Collector) VehicleRegistered() { c.VehiclesRegistered.Inc() }
func (c *Collector) PositionReported()  { c.PositionReports.Inc() }
func (c *Collector) ChatPosted()        { c.ChatMessages.Inc() }

func (c *Collector) ClientConnected()    { c.Connections.Inc() }
func (c *Collector) ClientDisconnected() { c.Connections.Dec() }
func (c *Collector) MessageDropped()     { c.DroppedMessages.Inc() }

func (c *Collector) MessageBroadcast(event string, recipients int) {
	c.Broadcasts.WithLabelValues(event).Inc()
	c.BroadcastFanout.Observe(float64(recipients))
}

func (c *Collector) EventReceived(event string) { c.InboundEvents.WithLabelValues(event).Inc() }
func (c *Collector) MirrorFailed(sink string)   { c.MirrorErrors.WithLabelValues(sink).Inc() }

func (c *Collector) MirrorConnected(sink string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	c.MirrorConnection.WithLabelValues(sink).Set(v)
}
