package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_total",
		Help: "Messages processed by the ingest session, by payload kind",
	}, []string{"kind", "outcome"})

	DecodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_decode_failures_total",
		Help: "Messages dropped because the payload was not valid JSON",
	})

	StoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_store_errors_total",
		Help: "Messages dropped because the event store insert failed",
	})

	UnownedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_unowned_messages_total",
		Help: "Messages stored without a matching tenant topic root",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_queue_depth",
		Help: "Messages waiting between the MQTT callback and the consume loop",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_connected",
		Help: "Whether the session currently holds a broker subscription (1=yes)",
	})
)
