// Package metrics exposes the handful of Prometheus collectors that
// give an operator visibility into transfer volume and LAN flakiness
// without touching the wire protocol.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter the server updates.
type Metrics struct {
	TransfersStarted   prometheus.Counter
	TransfersCompleted prometheus.Counter
	TransfersFailed    prometheus.Counter
	TransfersTimedOut  prometheus.Counter
	BytesSent          prometheus.Counter
	Retransmits        prometheus.Counter
}

// New creates and registers the collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "transfers_started_total",
			Help:      "RRQs that produced a spawned session.",
		}),
		TransfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "transfers_completed_total",
			Help:      "Sessions that reached Terminated after the final DATA was acked.",
		}),
		TransfersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "transfers_failed_total",
			Help:      "Sessions that terminated on a filesystem or protocol error.",
		}),
		TransfersTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "transfers_timed_out_total",
			Help:      "Sessions that terminated after exhausting their retry budget.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes sent in DATA packets, across all sessions.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "retransmits_total",
			Help:      "DATA/OACK retransmissions caused by a missing ACK.",
		}),
	}
	reg.MustRegister(
		m.TransfersStarted,
		m.TransfersCompleted,
		m.TransfersFailed,
		m.TransfersTimedOut,
		m.BytesSent,
		m.Retransmits,
	)
	return m
}
