package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/internal/zone"
	"github.com/jkaflik/zoneworker/pkg/channel"
)

const eventBufferSize = 256

// Run subscribes to state changes and keeps switches up to date until ctx is
// done.
func (m *Manager) Run(ctx context.Context, src EventSource) error {
	events, err := src.SubscribeEvents(ctx, hass.SubscribeEventsWithEventType(hass.EventTypeStateChanged))
	if err != nil {
		return fmt.Errorf("failed to subscribe to state changes: %w", err)
	}

	log.Info().Msg("Watching state changes")

	m.HandleEvents(ctx, events)

	return nil
}

// HandleEvents consumes events until the channel is closed.
func (m *Manager) HandleEvents(ctx context.Context, events <-chan *hass.EventMessage) {
	counted := channel.Map(events, func(ev *hass.EventMessage) *hass.EventMessage {
		metrics.EventsReceived.Inc()
		return ev
	})
	relevant := channel.Filter(channel.Buffered(counted, eventBufferSize), isStateTransition)

	batches, errs := channel.Batch(relevant, channel.BatchOptions[*hass.EventMessage]{
		MaxSize: m.batchSize,
		MaxWait: m.batchWait,
	})

	for batches != nil || errs != nil {
		select {
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			m.applyBatch(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error().Err(err).Msg("Failed to batch events")
		}
	}
}

// isStateTransition drops attribute-only updates.
func isStateTransition(ev *hass.EventMessage) bool {
	if ev == nil || ev.Event.EventType != hass.EventTypeStateChanged {
		metrics.EventsFiltered.Inc()
		return false
	}
	data := ev.Event.Data
	if data.OldState != nil && data.NewState != nil && data.OldState.State == data.NewState.State {
		metrics.EventsFiltered.Inc()
		return false
	}
	return true
}

func (m *Manager) applyBatch(ctx context.Context, batch []*hass.EventMessage) {
	metrics.EventBatchSize.Observe(float64(len(batch)))

	changed := make(map[string]struct{}, len(batch))
	resolve := false
	for _, ev := range batch {
		change, ok := m.world.Apply(ev)
		if !ok || !change.StateChanged {
			continue
		}
		changed[change.EntityID] = struct{}{}
		if change.Added || change.Removed {
			resolve = true
		}
	}

	if len(changed) == 0 {
		return
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	var entities []zone.Entity
	if resolve {
		entities = m.world.Entities()
	}

	for _, sw := range m.switches {
		if resolve {
			m.resolve(sw, entities)
			m.update(ctx, sw)
			continue
		}
		for id := range changed {
			if sw.tracks(id) {
				m.update(ctx, sw)
				break
			}
		}
	}

	log.Debug().Int("events", len(batch)).Int("entities", len(changed)).Bool("resolved", resolve).Msg("Applied state changes")
}
