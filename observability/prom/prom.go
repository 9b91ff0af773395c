// Package prom exports RelayObserver events to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/privmsg/relay/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayObserver exports relay metrics to Prometheus.
type RelayObserver struct {
	connGauge        prometheus.Gauge
	onlineUsersGauge prometheus.Gauge
	authTotal        *prometheus.CounterVec
	closeTotal       *prometheus.CounterVec
	messagesStored   prometheus.Counter
	messagesDelivered *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	filesUploaded    prometheus.Counter
	filesUploadedBytes prometheus.Counter
	filesDownloaded  prometheus.Counter
	reaperSweeps     *prometheus.CounterVec
}

// NewRelayObserver registers relay metrics on the registry.
func NewRelayObserver(reg *prometheus.Registry) *RelayObserver {
	o := &RelayObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Current live websocket connection count.",
		}),
		onlineUsersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Current distinct online user count.",
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_auth_total",
			Help: "Authentication attempts by result and reason.",
		}, []string{"result", "reason"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connection_close_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_stored_total",
			Help: "Messages persisted to the pending spool.",
		}),
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_delivered_total",
			Help: "Messages delivered, by delivery mode.",
		}, []string{"mode"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Outbound frames dropped before reaching a socket.",
		}, []string{"reason"}),
		filesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_files_uploaded_total",
			Help: "Files accepted by the upload endpoint.",
		}),
		filesUploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_files_uploaded_bytes_total",
			Help: "Total bytes accepted by the upload endpoint.",
		}),
		filesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_files_downloaded_total",
			Help: "File downloads served.",
		}),
		reaperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_reaper_sweep_total",
			Help: "Records removed by the reaper, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.onlineUsersGauge,
		o.authTotal,
		o.closeTotal,
		o.messagesStored,
		o.messagesDelivered,
		o.messagesDropped,
		o.filesUploaded,
		o.filesUploadedBytes,
		o.filesDownloaded,
		o.reaperSweeps,
	)
	return o
}

func (o *RelayObserver) ConnCount(n int64) { o.connGauge.Set(float64(n)) }

func (o *RelayObserver) OnlineUsers(n int) { o.onlineUsersGauge.Set(float64(n)) }

func (o *RelayObserver) Auth(result observability.AuthResult, reason observability.AuthReason) {
	o.authTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *RelayObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *RelayObserver) MessageStored() { o.messagesStored.Inc() }

func (o *RelayObserver) MessageDelivered(mode observability.DeliveryMode) {
	o.messagesDelivered.WithLabelValues(string(mode)).Inc()
}

func (o *RelayObserver) MessageDropped(reason observability.DropReason) {
	o.messagesDropped.WithLabelValues(string(reason)).Inc()
}

func (o *RelayObserver) FileUploaded(sizeBytes int64) {
	o.filesUploaded.Inc()
	o.filesUploadedBytes.Add(float64(sizeBytes))
}

func (o *RelayObserver) FileDownloaded() { o.filesDownloaded.Inc() }

func (o *RelayObserver) ReaperSweep(kind observability.ReapKind, count int) {
	o.reaperSweeps.WithLabelValues(string(kind)).Add(float64(count))
}
