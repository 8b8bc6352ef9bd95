package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Worker metrics
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoneworker_events_received_total",
		Help: "The total number of state change events received from Home Assistant",
	})

	EventsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoneworker_events_filtered_total",
		Help: "The total number of events dropped because the state value did not change",
	})

	EventBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoneworker_event_batch_size",
		Help:    "Histogram of coalesced state change batch sizes",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1, 2, 4, ... 128
	})

	SwitchState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zoneworker_switch_state",
		Help: "Aggregated state of a zone switch (1=on, 0=off)",
	}, []string{"switch"})

	SwitchTrackedEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zoneworker_switch_tracked_entities",
		Help: "Number of entities tracked by a zone switch",
	}, []string{"switch"})

	SwitchCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneworker_switch_commands_total",
		Help: "The total number of turn_on/turn_off commands by service and status",
	}, []string{"service", "status"})

	ConfigEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zoneworker_config_entries",
		Help: "Number of loaded config entries",
	})

	// Home Assistant client metrics
	HassConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zoneworker_hass_connection_status",
		Help: "Status of the Home Assistant connection (1=connected, 0=disconnected)",
	})

	HassReconnectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoneworker_hass_reconnect_total",
		Help: "Total number of reconnection attempts to Home Assistant",
	})

	HassCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zoneworker_hass_command_duration_seconds",
		Help:    "Duration of Home Assistant websocket commands",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// MQTT metrics
	MQTTConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zoneworker_mqtt_connection_status",
		Help: "Status of the MQTT broker connection (1=connected, 0=disconnected)",
	})

	MQTTPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneworker_mqtt_publish_total",
		Help: "The total number of MQTT publishes by kind and status",
	}, []string{"kind", "status"})
)

// BoolValue converts a boolean to a gauge value.
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
