// Package world keeps a live copy of the Home Assistant entities, their
// states and the areas they belong to.
package world

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/internal/zone"
)

// Source provides the initial snapshot of Home Assistant.
type Source interface {
	GetStates(ctx context.Context) ([]hass.State, error)
	GetAreaRegistry(ctx context.Context) ([]hass.AreaRegistryEntry, error)
	GetEntityRegistry(ctx context.Context) ([]hass.EntityRegistryEntry, error)
	GetDeviceRegistry(ctx context.Context) ([]hass.DeviceRegistryEntry, error)
}

// Change describes the effect of a single state_changed event.
type Change struct {
	EntityID string
	// Added is set when the entity was not known before the event.
	Added bool
	// Removed is set when the event carried no new state.
	Removed bool
	// StateChanged is set when the state value differs from the previous one.
	StateChanged bool
}

// World is safe for concurrent use.
type World struct {
	mtx        sync.RWMutex
	states     map[string]string
	entityArea map[string]string
	areas      map[string]string // area id -> name
}

func New() *World {
	return &World{
		states:     make(map[string]string),
		entityArea: make(map[string]string),
		areas:      make(map[string]string),
	}
}

// Load replaces the world with a fresh snapshot from src.
func (w *World) Load(ctx context.Context, src Source) error {
	if err := w.LoadRegistries(ctx, src); err != nil {
		return err
	}

	states, err := src.GetStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load states: %w", err)
	}

	next := make(map[string]string, len(states))
	for _, s := range states {
		next[s.EntityID] = s.State
	}

	w.mtx.Lock()
	w.states = next
	w.mtx.Unlock()

	log.Info().Int("entities", len(next)).Msg("Loaded Home Assistant states")

	return nil
}

// LoadRegistries refreshes areas and entity area assignments. An entity
// without an area of its own inherits the area of its device.
func (w *World) LoadRegistries(ctx context.Context, src Source) error {
	areas, err := src.GetAreaRegistry(ctx)
	if err != nil {
		return fmt.Errorf("failed to load areas: %w", err)
	}
	entities, err := src.GetEntityRegistry(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entity registry: %w", err)
	}
	devices, err := src.GetDeviceRegistry(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device registry: %w", err)
	}

	areaNames := make(map[string]string, len(areas))
	for _, a := range areas {
		areaNames[a.AreaID] = a.Name
	}

	deviceArea := make(map[string]string, len(devices))
	for _, d := range devices {
		if d.AreaID != nil && *d.AreaID != "" {
			deviceArea[d.ID] = *d.AreaID
		}
	}

	entityArea := make(map[string]string, len(entities))
	for _, e := range entities {
		switch {
		case e.AreaID != nil && *e.AreaID != "":
			entityArea[e.EntityID] = *e.AreaID
		case e.DeviceID != nil:
			if area, ok := deviceArea[*e.DeviceID]; ok {
				entityArea[e.EntityID] = area
			}
		}
	}

	w.mtx.Lock()
	w.areas = areaNames
	w.entityArea = entityArea
	w.mtx.Unlock()

	log.Debug().
		Int("areas", len(areaNames)).
		Int("entities", len(entityArea)).
		Msg("Loaded Home Assistant registries")

	return nil
}

// Apply updates the world from a state_changed event.
func (w *World) Apply(ev *hass.EventMessage) (Change, bool) {
	if ev == nil || ev.Event.EventType != hass.EventTypeStateChanged || ev.Event.Data.EntityID == "" {
		return Change{}, false
	}

	id := ev.Event.Data.EntityID
	change := Change{EntityID: id}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	previous, known := w.states[id]
	if ev.Event.Data.NewState == nil {
		if !known {
			return change, false
		}
		delete(w.states, id)
		change.Removed = true
		change.StateChanged = true
		return change, true
	}

	next := ev.Event.Data.NewState.State
	w.states[id] = next
	change.Added = !known
	change.StateChanged = !known || previous != next

	return change, true
}

// Entities returns a snapshot of all entities sorted by id.
func (w *World) Entities() []zone.Entity {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	out := make([]zone.Entity, 0, len(w.states))
	for id, state := range w.states {
		out = append(out, zone.NewEntity(id, w.entityArea[id], state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State returns the state of a single entity.
func (w *World) State(id string) (string, bool) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	s, ok := w.states[id]
	return s, ok
}

// AreaByName resolves a room name to an area id. The name is compared with
// area names case-insensitively and with area ids.
func (w *World) AreaByName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	w.mtx.RLock()
	defer w.mtx.RUnlock()

	if _, ok := w.areas[name]; ok {
		return name, true
	}

	slug := zone.Slug(name)
	for id, areaName := range w.areas {
		if strings.EqualFold(areaName, name) || id == slug {
			return id, true
		}
	}
	return "", false
}

// Areas returns the area ids and names.
func (w *World) Areas() map[string]string {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	out := make(map[string]string, len(w.areas))
	for id, name := range w.areas {
		out[id] = name
	}
	return out
}
