// Package worker owns the zone switches: it creates them from config entries,
// keeps their state in line with Home Assistant and forwards toggles.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/internal/world"
	"github.com/jkaflik/zoneworker/internal/zone"
)

var (
	ErrUnknownSwitch = errors.New("unknown switch")
	ErrAlreadyLoaded = errors.New("entry already loaded")
	ErrNotLoaded     = errors.New("entry not loaded")
	ErrSwitchExists  = errors.New("switch already exists")
)

// Publisher exposes switches outside of the process.
type Publisher interface {
	PublishSwitch(ctx context.Context, sw Switch) error
	PublishState(ctx context.Context, sw Switch) error
	RemoveSwitch(ctx context.Context, sw Switch) error
}

// ServiceCaller calls Home Assistant services.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any, target *hass.ServiceTarget) error
}

// EventSource provides Home Assistant events.
type EventSource interface {
	SubscribeEvents(ctx context.Context, opts ...hass.SubscribeEventsOption) (<-chan *hass.EventMessage, error)
}

type Option func(*Manager)

// WithPublisher sets where switches are published.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithBatch sets how state changes are coalesced before switches are updated.
func WithBatch(maxSize int, maxWait time.Duration) Option {
	return func(m *Manager) {
		m.batchSize = maxSize
		m.batchWait = maxWait
	}
}

type Manager struct {
	world     *world.World
	caller    ServiceCaller
	publisher Publisher
	batchSize int
	batchWait time.Duration

	mtx      sync.RWMutex
	switches map[string]*zoneSwitch
	entries  map[string][]string // entry id -> switch ids
}

func NewManager(w *world.World, caller ServiceCaller, opts ...Option) *Manager {
	m := &Manager{
		world:     w,
		caller:    caller,
		publisher: nopPublisher{},
		batchSize: 100,
		batchWait: 250 * time.Millisecond,
		switches:  make(map[string]*zoneSwitch),
		entries:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetupEntry creates the main switch of an entry and one switch per domain.
func (m *Manager) SetupEntry(ctx context.Context, e *entry.Entry) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.entries[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, e.ID)
	}

	switches := plan(e)
	if err := m.conflict(switches, e.ID); err != nil {
		return err
	}

	m.install(ctx, e.ID, switches)

	return nil
}

// plan builds the switches of an entry without registering them.
func plan(e *entry.Entry) []*zoneSwitch {
	data := e.Effective()
	all := data.Selector()

	selectors := map[string]zone.Selector{"": all}
	for _, domain := range data.Domains {
		sel := all
		sel.Domains = []string{domain}
		selectors[domain] = sel
	}

	domains := make([]string, 0, len(selectors))
	for domain := range selectors {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	switches := make([]*zoneSwitch, 0, len(selectors))
	for _, domain := range domains {
		objectID := ObjectID(data.RoomName, domain)
		switches = append(switches, &zoneSwitch{
			Switch: Switch{
				ID:       switchDomain + "." + objectID,
				ObjectID: objectID,
				Name:     switchName(data.RoomName, domain),
				EntryID:  e.ID,
				Room:     data.RoomName,
				Domain:   domain,
			},
			selector: selectors[domain],
		})
	}
	return switches
}

// conflict reports a switch id already owned by another entry. Rooms whose
// names differ only in punctuation, or a room named after another room plus
// a domain, end up with the same ids.
func (m *Manager) conflict(switches []*zoneSwitch, entryID string) error {
	for _, sw := range switches {
		if taken, ok := m.switches[sw.ID]; ok && taken.EntryID != entryID {
			return fmt.Errorf("%w: %s belongs to entry %s", ErrSwitchExists, sw.ID, taken.EntryID)
		}
	}
	return nil
}

func (m *Manager) install(ctx context.Context, entryID string, switches []*zoneSwitch) {
	ids := make([]string, 0, len(switches))
	for _, sw := range switches {
		ids = append(ids, sw.ID)
		m.switches[sw.ID] = sw
	}
	m.entries[entryID] = ids

	entities := m.world.Entities()
	for _, sw := range switches {
		m.resolve(sw, entities)
		sw.On = zone.Aggregate(sw.Tracked, m.world.State)
		m.observe(sw)

		if err := m.publisher.PublishSwitch(ctx, sw.snapshot()); err != nil {
			log.Warn().Err(err).Str("switch", sw.ID).Msg("Failed to publish switch")
		}
		m.publishState(ctx, sw)

		log.Info().
			Str("switch", sw.ID).
			Str("entry", entryID).
			Int("tracked", len(sw.Tracked)).
			Bool("on", sw.On).
			Msg("Set up switch")
	}
}

// UnloadEntry removes the switches of an entry.
func (m *Manager) UnloadEntry(ctx context.Context, id string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.unload(ctx, id)
}

func (m *Manager) unload(ctx context.Context, id string) error {
	ids, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	for _, switchID := range ids {
		sw := m.switches[switchID]
		delete(m.switches, switchID)
		metrics.SwitchState.DeleteLabelValues(switchID)
		metrics.SwitchTrackedEntities.DeleteLabelValues(switchID)

		if err := m.publisher.RemoveSwitch(ctx, sw.snapshot()); err != nil {
			log.Warn().Err(err).Str("switch", switchID).Msg("Failed to remove switch")
		}
	}
	delete(m.entries, id)

	log.Info().Str("entry", id).Int("switches", len(ids)).Msg("Unloaded entry")

	return nil
}

// ReloadEntry replaces the switches of an entry. When the new switches would
// collide with another entry the loaded switches are left untouched.
func (m *Manager) ReloadEntry(ctx context.Context, e *entry.Entry) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	switches := plan(e)
	if err := m.conflict(switches, e.ID); err != nil {
		return err
	}

	if err := m.unload(ctx, e.ID); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	m.install(ctx, e.ID, switches)

	return nil
}

// Switches returns every switch sorted by id.
func (m *Manager) Switches() []Switch {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	out := make([]Switch, 0, len(m.switches))
	for _, sw := range m.switches {
		out = append(out, sw.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Switch(id string) (Switch, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	sw, ok := m.switches[id]
	if !ok {
		return Switch{}, fmt.Errorf("%w: %s", ErrUnknownSwitch, id)
	}
	return sw.snapshot(), nil
}

// TurnOn turns on every entity tracked by the switch.
func (m *Manager) TurnOn(ctx context.Context, id string) error {
	return m.toggle(ctx, id, hass.ServiceTurnOn)
}

// TurnOff turns off every entity tracked by the switch.
func (m *Manager) TurnOff(ctx context.Context, id string) error {
	return m.toggle(ctx, id, hass.ServiceTurnOff)
}

func (m *Manager) toggle(ctx context.Context, id, service string) error {
	sw, err := m.Switch(id)
	if err != nil {
		return err
	}

	if len(sw.Tracked) == 0 {
		log.Debug().Str("switch", id).Str("service", service).Msg("Switch tracks no entities")
		return nil
	}

	err = m.caller.CallService(ctx, hass.DomainHomeAssistant, service, nil, &hass.ServiceTarget{EntityID: sw.Tracked})
	if err != nil {
		metrics.SwitchCommandsTotal.WithLabelValues(service, "error").Inc()
		return err
	}
	metrics.SwitchCommandsTotal.WithLabelValues(service, "success").Inc()

	log.Info().Str("switch", id).Str("service", service).Int("entities", len(sw.Tracked)).Msg("Toggled switch")

	return nil
}

// Refresh resolves the tracked entities of every switch again, for example
// after the area registry changed.
func (m *Manager) Refresh(ctx context.Context) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	entities := m.world.Entities()
	for _, sw := range m.switches {
		m.resolve(sw, entities)
		m.update(ctx, sw)
	}
}

// Resync reloads the world from src and refreshes every switch. It covers
// state changes missed while the connection to Home Assistant was down.
func (m *Manager) Resync(ctx context.Context, src world.Source) error {
	if err := m.world.Load(ctx, src); err != nil {
		return err
	}
	m.Refresh(ctx)
	return nil
}

// Republish publishes every switch and its state again.
func (m *Manager) Republish(ctx context.Context) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	for _, sw := range m.switches {
		if err := m.publisher.PublishSwitch(ctx, sw.snapshot()); err != nil {
			log.Warn().Err(err).Str("switch", sw.ID).Msg("Failed to publish switch")
			continue
		}
		m.publishState(ctx, sw)
	}
}

// resolve never tracks a zone switch: they are published back into Home
// Assistant and would otherwise feed their own state.
func (m *Manager) resolve(sw *zoneSwitch, entities []zone.Entity) {
	sw.Tracked = slices.DeleteFunc(zone.Resolve(entities, sw.selector), IsZoneSwitch)
	metrics.SwitchTrackedEntities.WithLabelValues(sw.ID).Set(float64(len(sw.Tracked)))
}

// update aggregates the switch state and publishes it when it changed.
func (m *Manager) update(ctx context.Context, sw *zoneSwitch) {
	on := zone.Aggregate(sw.Tracked, m.world.State)
	if on == sw.On {
		return
	}

	sw.On = on
	m.observe(sw)
	m.publishState(ctx, sw)

	log.Info().Str("switch", sw.ID).Bool("on", on).Msg("Switch state changed")
}

func (m *Manager) observe(sw *zoneSwitch) {
	metrics.SwitchState.WithLabelValues(sw.ID).Set(metrics.BoolValue(sw.On))
}

func (m *Manager) publishState(ctx context.Context, sw *zoneSwitch) {
	if err := m.publisher.PublishState(ctx, sw.snapshot()); err != nil {
		log.Warn().Err(err).Str("switch", sw.ID).Msg("Failed to publish switch state")
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishSwitch(context.Context, Switch) error { return nil }
func (nopPublisher) PublishState(context.Context, Switch) error  { return nil }
func (nopPublisher) RemoveSwitch(context.Context, Switch) error  { return nil }
