package netreplica

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every netreplica Prometheus collector, registered on an
// isolated prometheus.Registry so they never collide with a host
// application's default registry. Each Peer may own its own Metrics
// instance, and tests construct a fresh one per case.
type Metrics struct {
	Registry *prometheus.Registry

	LinksOpenedTotal  *prometheus.CounterVec
	LinksClosedTotal  *prometheus.CounterVec
	ConnectedLinks    *prometheus.GaugeVec

	BytesSentTotal     *prometheus.CounterVec
	BytesReceivedTotal *prometheus.CounterVec

	ReplicasSpawnedTotal *prometheus.CounterVec
	ReplicasDestroyedTotal *prometheus.CounterVec
	LiveReplicas           prometheus.Gauge

	PingsSentTotal     *prometheus.CounterVec
	PingsTimedOutTotal *prometheus.CounterVec

	HostRecordsHeld    prometheus.Gauge
	HostRecordsExpired *prometheus.CounterVec

	PartialSendBufferBytes *prometheus.GaugeVec

	BuildInfo *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics instance with all collectors registered.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		LinksOpenedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_links_opened_total",
				Help: "Total number of links that reached the Connected state.",
			},
			[]string{"role"},
		),
		LinksClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_links_closed_total",
				Help: "Total number of links destroyed, by disconnect reason.",
			},
			[]string{"reason"},
		),
		ConnectedLinks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netreplica_connected_links",
				Help: "Number of links currently in the Connected state.",
			},
			[]string{"role"},
		),

		BytesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_bytes_sent_total",
				Help: "Total bytes written to the UDP socket.",
			},
			[]string{"message_type"},
		),
		BytesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_bytes_received_total",
				Help: "Total bytes read from the UDP socket.",
			},
			[]string{"message_type"},
		),

		ReplicasSpawnedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_replicas_spawned_total",
				Help: "Total net-objects spawned, emplaced, or cloned into the arena.",
			},
			[]string{"via"},
		),
		ReplicasDestroyedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_replicas_destroyed_total",
				Help: "Total net-objects removed from the arena.",
			},
			[]string{"via"},
		),
		LiveReplicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netreplica_live_replicas",
			Help: "Number of net-objects currently held in the replica arena.",
		}),

		PingsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_pings_sent_total",
				Help: "Total host-discovery pings sent, by kind.",
			},
			[]string{"kind"},
		),
		PingsTimedOutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_pings_timed_out_total",
				Help: "Total host-discovery pings dropped after exceeding their timeout.",
			},
			[]string{"kind"},
		),

		HostRecordsHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netreplica_host_records_held",
			Help: "Number of host records currently held by the master-server registry.",
		}),
		HostRecordsExpired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netreplica_host_records_expired_total",
				Help: "Total host records expired for exceeding their lifetime.",
			},
			[]string{"project"},
		),

		PartialSendBufferBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netreplica_partial_send_buffer_bytes",
				Help: "Bytes currently queued in a link's partial-send buffer.",
			},
			[]string{"remote_addr"},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netreplica_info",
				Help: "Build information for the running netreplica instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.LinksOpenedTotal,
		m.LinksClosedTotal,
		m.ConnectedLinks,
		m.BytesSentTotal,
		m.BytesReceivedTotal,
		m.ReplicasSpawnedTotal,
		m.ReplicasDestroyedTotal,
		m.LiveReplicas,
		m.PingsSentTotal,
		m.PingsTimedOutTotal,
		m.HostRecordsHeld,
		m.HostRecordsExpired,
		m.PartialSendBufferBytes,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return m
}

// Handler serves the Prometheus exposition format over the isolated registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
