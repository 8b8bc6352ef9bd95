package hass

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

func decodeResult[T any](raw json.RawMessage, what string) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return out, nil
}

// GetStates returns the current state of every entity.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	raw, err := c.execute(ctx, &BaseMessage{Type: MessageTypeGetStates}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}

	states, err := decodeResult[[]State](raw, "states")
	if err != nil {
		return nil, err
	}

	log.Debug().Int("count", len(states)).Msg("Received states")

	return states, nil
}

// GetAreaRegistry lists all areas.
func (c *Client) GetAreaRegistry(ctx context.Context) ([]AreaRegistryEntry, error) {
	raw, err := c.execute(ctx, &BaseMessage{Type: MessageTypeAreaRegistryList}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}
	return decodeResult[[]AreaRegistryEntry](raw, "area registry")
}

// GetEntityRegistry lists all registered entities.
func (c *Client) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	raw, err := c.execute(ctx, &BaseMessage{Type: MessageTypeEntityRegistryList}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return decodeResult[[]EntityRegistryEntry](raw, "entity registry")
}

// GetDeviceRegistry lists all registered devices.
func (c *Client) GetDeviceRegistry(ctx context.Context) ([]DeviceRegistryEntry, error) {
	raw, err := c.execute(ctx, &BaseMessage{Type: MessageTypeDeviceRegistryList}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return decodeResult[[]DeviceRegistryEntry](raw, "device registry")
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any, target *ServiceTarget) error {
	cmd := &CallServiceMessage{
		BaseMessage: BaseMessage{Type: MessageTypeCallService},
		Domain:      domain,
		Service:     service,
		ServiceData: data,
		Target:      target,
	}

	if _, err := c.execute(ctx, cmd, nil); err != nil {
		return fmt.Errorf("failed to call %s.%s: %w", domain, service, err)
	}

	return nil
}

// Ping checks that the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	payload, err := c.roundTrip(ctx, &BaseMessage{Type: MessageTypePing}, nil)
	if err != nil {
		return err
	}

	var m BaseMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("failed to decode pong: %w", err)
	}
	if m.Type != MessageTypePong {
		return fmt.Errorf("unexpected message type received waiting for pong: %s", m.Type)
	}

	return nil
}
