package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/internal/zone"
)

type fakeSource struct {
	states   []hass.State
	areas    []hass.AreaRegistryEntry
	entities []hass.EntityRegistryEntry
	devices  []hass.DeviceRegistryEntry
	err      error
}

func (f *fakeSource) GetStates(context.Context) ([]hass.State, error) {
	return f.states, f.err
}

func (f *fakeSource) GetAreaRegistry(context.Context) ([]hass.AreaRegistryEntry, error) {
	return f.areas, nil
}

func (f *fakeSource) GetEntityRegistry(context.Context) ([]hass.EntityRegistryEntry, error) {
	return f.entities, nil
}

func (f *fakeSource) GetDeviceRegistry(context.Context) ([]hass.DeviceRegistryEntry, error) {
	return f.devices, nil
}

func ptr(s string) *string { return &s }

func newSource() *fakeSource {
	return &fakeSource{
		states: []hass.State{
			{EntityID: "light.kitchen_ceiling", State: "on"},
			{EntityID: "switch.kitchen_kettle", State: "off"},
			{EntityID: "light.hallway", State: "off"},
		},
		areas: []hass.AreaRegistryEntry{
			{AreaID: "kitchen", Name: "Kitchen"},
			{AreaID: "living_room", Name: "Living Room"},
		},
		entities: []hass.EntityRegistryEntry{
			{EntityID: "light.kitchen_ceiling", AreaID: ptr("kitchen")},
			{EntityID: "switch.kitchen_kettle", DeviceID: ptr("kettle")},
			{EntityID: "light.hallway", DeviceID: ptr("unassigned")},
		},
		devices: []hass.DeviceRegistryEntry{
			{ID: "kettle", AreaID: ptr("kitchen")},
			{ID: "unassigned"},
		},
	}
}

func TestWorld_Load(t *testing.T) {
	w := New()
	require.NoError(t, w.Load(context.Background(), newSource()))

	assert.Equal(t, []zone.Entity{
		{ID: "light.hallway", Domain: "light", AreaID: "", State: "off"},
		{ID: "light.kitchen_ceiling", Domain: "light", AreaID: "kitchen", State: "on"},
		{ID: "switch.kitchen_kettle", Domain: "switch", AreaID: "kitchen", State: "off"},
	}, w.Entities())

	state, ok := w.State("light.kitchen_ceiling")
	assert.True(t, ok)
	assert.Equal(t, "on", state)

	_, ok = w.State("light.missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"kitchen": "Kitchen", "living_room": "Living Room"}, w.Areas())
}

func TestWorld_LoadError(t *testing.T) {
	src := newSource()
	src.err = assert.AnError

	err := New().Load(context.Background(), src)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWorld_AreaByName(t *testing.T) {
	w := New()
	require.NoError(t, w.Load(context.Background(), newSource()))

	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{name: "Kitchen", wantID: "kitchen", wantOK: true},
		{name: "kitchen", wantID: "kitchen", wantOK: true},
		{name: "LIVING ROOM", wantID: "living_room", wantOK: true},
		{name: "living_room", wantID: "living_room", wantOK: true},
		{name: "Garage", wantOK: false},
		{name: " ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := w.AreaByName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func stateChanged(id string, newState *hass.State) *hass.EventMessage {
	return &hass.EventMessage{Event: hass.Event{
		EventType: hass.EventTypeStateChanged,
		Data:      hass.EventData{EntityID: id, NewState: newState},
	}}
}

func TestWorld_Apply(t *testing.T) {
	w := New()
	require.NoError(t, w.Load(context.Background(), newSource()))

	change, ok := w.Apply(stateChanged("light.hallway", &hass.State{State: "on"}))
	require.True(t, ok)
	assert.Equal(t, Change{EntityID: "light.hallway", StateChanged: true}, change)

	change, ok = w.Apply(stateChanged("light.hallway", &hass.State{State: "on"}))
	require.True(t, ok)
	assert.False(t, change.StateChanged)

	change, ok = w.Apply(stateChanged("light.new", &hass.State{State: "off"}))
	require.True(t, ok)
	assert.Equal(t, Change{EntityID: "light.new", Added: true, StateChanged: true}, change)

	change, ok = w.Apply(stateChanged("light.new", nil))
	require.True(t, ok)
	assert.True(t, change.Removed)
	_, exists := w.State("light.new")
	assert.False(t, exists)

	_, ok = w.Apply(stateChanged("light.never_seen", nil))
	assert.False(t, ok)

	_, ok = w.Apply(&hass.EventMessage{Event: hass.Event{EventType: hass.EventTypeAreaRegistryUpdated}})
	assert.False(t, ok)

	_, ok = w.Apply(nil)
	assert.False(t, ok)
}
