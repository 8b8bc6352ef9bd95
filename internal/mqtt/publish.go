package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/jkaflik/zoneworker/internal/metrics"
)

func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return ErrTimeout
	}
	return token.Error()
}

// publish sends a retained message. A disconnected client fails fast, the
// state is published again after reconnecting.
func (p *Publisher) publish(kind, topic string, payload any) error {
	if !p.client.IsConnected() {
		metrics.MQTTPublishTotal.WithLabelValues(kind, "error").Inc()
		return ErrNotConnected
	}

	if err := wait(p.client.Publish(topic, qos, true, payload)); err != nil {
		metrics.MQTTPublishTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	metrics.MQTTPublishTotal.WithLabelValues(kind, "success").Inc()
	return nil
}

func (p *Publisher) publishJSON(kind, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return p.publish(kind, topic, payload)
}
