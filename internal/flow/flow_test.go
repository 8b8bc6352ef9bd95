package flow

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/worker"
	"github.com/jkaflik/zoneworker/internal/zone"
)

type areas map[string]string

func (a areas) AreaByName(name string) (string, bool) {
	id, ok := a[zone.Slug(name)]
	return id, ok
}

type lifecycle struct {
	mtx      sync.Mutex
	setup    []string
	unloaded []string
	reloaded []string
	err      error
	// collides reports entries whose switches clash with another entry
	collides func(e *entry.Entry) bool
}

func (l *lifecycle) collision(e *entry.Entry) error {
	if l.collides != nil && l.collides(e) {
		return fmt.Errorf("%w: %s", worker.ErrSwitchExists, e.Effective().RoomName)
	}
	return nil
}

func (l *lifecycle) SetupEntry(_ context.Context, e *entry.Entry) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.collision(e); err != nil {
		return err
	}
	l.setup = append(l.setup, e.ID)
	return l.err
}

func (l *lifecycle) UnloadEntry(_ context.Context, id string) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.unloaded = append(l.unloaded, id)
	return l.err
}

func (l *lifecycle) ReloadEntry(_ context.Context, e *entry.Entry) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.collision(e); err != nil {
		return err
	}
	l.reloaded = append(l.reloaded, e.ID)
	return l.err
}

func newFlow(t *testing.T) (*Flow, *entry.SQLiteStore, *lifecycle) {
	t.Helper()

	store, err := entry.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "zoneworker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := &lifecycle{}
	return New(store, areas{"kitchen": "kitchen", "living_room": "living_room"}, l), store, l
}

func TestEnsureList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     any
		want   []string
		wantOK bool
	}{
		{name: "nil", in: nil, want: []string{}, wantOK: true},
		{name: "comma string", in: " light.a , light.b,,light.a ", want: []string{"light.a", "light.b"}, wantOK: true},
		{name: "empty string", in: "", want: []string{}, wantOK: true},
		{name: "string slice", in: []string{"light", " switch "}, want: []string{"light", "switch"}, wantOK: true},
		{name: "json list", in: []any{"light", "fan"}, want: []string{"light", "fan"}, wantOK: true},
		{name: "json list with number", in: []any{"light", 1.0}, wantOK: false},
		{name: "number", in: 3, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := EnsureList(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFlow_UserStepForm(t *testing.T) {
	f, _, _ := newFlow(t)

	res, err := f.UserStep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, res.Type)
	require.NotNil(t, res.Form)
	assert.Equal(t, StepUser, res.Form.StepID)
	assert.Empty(t, res.Form.Errors)

	byName := map[string]Field{}
	for _, field := range res.Form.Fields {
		byName[field.Name] = field
	}
	assert.True(t, byName[FieldRoomName].Required)
	assert.Equal(t, []string{"light", "switch"}, byName[FieldDomains].Default)
	assert.Equal(t, []string{}, byName[FieldIncludeEntities].Default)
	assert.Equal(t, []string{}, byName[FieldExcludeEntities].Default)
	assert.Equal(t, "area", byName[FieldMatch].Default)
}

func TestFlow_UserStepCreate(t *testing.T) {
	f, store, l := newFlow(t)
	ctx := context.Background()

	res, err := f.UserStep(ctx, Input{
		FieldRoomName:        "Kitchen",
		FieldExcludeEntities: "switch.kitchen_fridge, light.kitchen_hood",
	})
	require.NoError(t, err)
	require.Equal(t, ResultTypeCreateEntry, res.Type)

	e := res.Entry
	assert.Equal(t, "Kitchen", e.Title)
	assert.Equal(t, entry.Data{
		RoomName:        "Kitchen",
		AreaID:          "kitchen",
		Match:           zone.MatchArea,
		Domains:         []string{"light", "switch"},
		IncludeEntities: []string{},
		ExcludeEntities: []string{"switch.kitchen_fridge", "light.kitchen_hood"},
	}, e.Data)
	assert.Equal(t, []string{e.ID}, l.setup)

	stored, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Data, stored.Data)

	res, err = f.UserStep(ctx, Input{FieldRoomName: "kitchen"})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, res.Type)
	assert.Equal(t, ErrCodeAlreadyConfigured, res.Form.Errors[FieldBase])
}

func TestFlow_UserStepNameMatch(t *testing.T) {
	f, _, _ := newFlow(t)

	res, err := f.UserStep(context.Background(), Input{
		FieldRoomName: "Garage",
		FieldMatch:    "name",
		FieldDomains:  []any{"light"},
	})
	require.NoError(t, err)
	require.Equal(t, ResultTypeCreateEntry, res.Type)
	assert.Equal(t, zone.MatchName, res.Entry.Data.Match)
	assert.Empty(t, res.Entry.Data.AreaID)
}

func TestFlow_UserStepValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input Input
		want  map[string]string
	}{
		{
			name:  "missing room",
			input: Input{},
			want:  map[string]string{FieldRoomName: ErrCodeRequired},
		},
		{
			name:  "unknown area",
			input: Input{FieldRoomName: "Garage"},
			want:  map[string]string{FieldRoomName: ErrCodeUnknownArea},
		},
		{
			name:  "empty domains",
			input: Input{FieldRoomName: "Kitchen", FieldDomains: []any{}},
			want:  map[string]string{FieldDomains: ErrCodeRequired},
		},
		{
			name:  "invalid domain",
			input: Input{FieldRoomName: "Kitchen", FieldDomains: "light, Not A Domain"},
			want:  map[string]string{FieldDomains: ErrCodeInvalidDomain},
		},
		{
			name:  "invalid include",
			input: Input{FieldRoomName: "Kitchen", FieldIncludeEntities: "kitchen"},
			want:  map[string]string{FieldIncludeEntities: ErrCodeInvalidEntityID},
		},
		{
			name:  "invalid list",
			input: Input{FieldRoomName: "Kitchen", FieldExcludeEntities: 42.0},
			want:  map[string]string{FieldExcludeEntities: ErrCodeInvalidList},
		},
		{
			name:  "invalid match",
			input: Input{FieldRoomName: "Kitchen", FieldMatch: "floor"},
			want:  map[string]string{FieldMatch: ErrCodeInvalidMatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, _, l := newFlow(t)

			res, err := f.UserStep(context.Background(), tt.input)
			require.NoError(t, err)
			require.Equal(t, ResultTypeForm, res.Type)
			assert.Equal(t, tt.want, res.Form.Errors)
			assert.Empty(t, l.setup)
		})
	}
}

func TestFlow_OptionsStep(t *testing.T) {
	f, _, l := newFlow(t)
	ctx := context.Background()

	created, err := f.UserStep(ctx, Input{FieldRoomName: "Kitchen", FieldIncludeEntities: "fan.kitchen"})
	require.NoError(t, err)
	id := created.Entry.ID

	res, err := f.OptionsStep(ctx, id, nil)
	require.NoError(t, err)
	require.Equal(t, ResultTypeForm, res.Type)
	assert.Equal(t, StepOptions, res.Form.StepID)
	assert.Equal(t, []string{"light", "switch"}, res.Form.Fields[0].Default)
	assert.Equal(t, []string{"fan.kitchen"}, res.Form.Fields[1].Default)
	assert.Equal(t, []string{}, res.Form.Fields[2].Default)

	res, err = f.OptionsStep(ctx, id, Input{FieldDomains: "light", FieldExcludeEntities: "light.kitchen_hood"})
	require.NoError(t, err)
	require.Equal(t, ResultTypeCreateEntry, res.Type)
	assert.Equal(t, entry.Options{
		Domains:         []string{"light"},
		IncludeEntities: []string{"fan.kitchen"},
		ExcludeEntities: []string{"light.kitchen_hood"},
	}, res.Entry.Options)
	assert.Equal(t, []string{id}, l.reloaded)

	res, err = f.OptionsStep(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"light"}, res.Form.Fields[0].Default)

	res, err = f.OptionsStep(ctx, id, Input{FieldDomains: ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{FieldDomains: ErrCodeRequired}, res.Form.Errors)

	_, err = f.OptionsStep(ctx, "missing", nil)
	assert.ErrorIs(t, err, entry.ErrNotFound)
}

func TestFlow_RemoveAndSetupAll(t *testing.T) {
	f, store, l := newFlow(t)
	ctx := context.Background()

	kitchen, err := f.UserStep(ctx, Input{FieldRoomName: "Kitchen"})
	require.NoError(t, err)
	living, err := f.UserStep(ctx, Input{FieldRoomName: "Living Room"})
	require.NoError(t, err)

	l.setup = nil
	require.NoError(t, f.SetupAll(ctx))
	assert.ElementsMatch(t, []string{kitchen.Entry.ID, living.Entry.ID}, l.setup)

	require.NoError(t, f.Remove(ctx, kitchen.Entry.ID))
	assert.Equal(t, []string{kitchen.Entry.ID}, l.unloaded)

	_, err = store.Get(ctx, kitchen.Entry.ID)
	assert.ErrorIs(t, err, entry.ErrNotFound)

	assert.ErrorIs(t, f.Remove(ctx, kitchen.Entry.ID), entry.ErrNotFound)
}

func TestFlow_SetupFailureKeepsEntry(t *testing.T) {
	f, store, l := newFlow(t)
	l.err = assert.AnError
	ctx := context.Background()

	res, err := f.UserStep(ctx, Input{FieldRoomName: "Kitchen"})
	require.NoError(t, err)
	require.Equal(t, ResultTypeCreateEntry, res.Type)

	_, err = store.Get(ctx, res.Entry.ID)
	assert.NoError(t, err)
	assert.NoError(t, f.SetupAll(ctx))
}

func TestFlow_UserStepSwitchCollision(t *testing.T) {
	f, store, l := newFlow(t)
	ctx := context.Background()

	// "Kitchen Light" would reuse the light switch id of "Kitchen"
	l.collides = func(e *entry.Entry) bool { return e.Data.RoomName == "Kitchen Light" }

	res, err := f.UserStep(ctx, Input{FieldRoomName: "Kitchen Light", FieldMatch: "name"})
	require.NoError(t, err)
	require.Equal(t, ResultTypeForm, res.Type)
	assert.Equal(t, map[string]string{FieldRoomName: ErrCodeAlreadyConfigured}, res.Form.Errors)
	assert.Empty(t, l.setup)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFlow_OptionsStepSwitchCollision(t *testing.T) {
	f, store, l := newFlow(t)
	ctx := context.Background()

	created, err := f.UserStep(ctx, Input{FieldRoomName: "Kitchen", FieldDomains: "light"})
	require.NoError(t, err)
	id := created.Entry.ID

	l.collides = func(e *entry.Entry) bool { return slices.Contains(e.Effective().Domains, "switch") }

	res, err := f.OptionsStep(ctx, id, Input{FieldDomains: "light, switch"})
	require.NoError(t, err)
	require.Equal(t, ResultTypeForm, res.Type)
	assert.Equal(t, map[string]string{FieldDomains: ErrCodeAlreadyConfigured}, res.Form.Errors)
	assert.Empty(t, l.reloaded)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"light"}, stored.Effective().Domains)
	assert.Nil(t, stored.Options.Domains)
}
