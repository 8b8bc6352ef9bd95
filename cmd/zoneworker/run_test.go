package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/hass/hasstest"
	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/worker"
	"github.com/jkaflik/zoneworker/internal/world"
	"github.com/jkaflik/zoneworker/internal/zone"
)

func TestWatchRegistry(t *testing.T) {
	srv := hasstest.NewServer("token",
		hasstest.WithAreas(hass.AreaRegistryEntry{AreaID: "kitchen", Name: "Kitchen"}),
		hasstest.WithStates(map[string]string{"light.counter": "on"}),
	)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := hass.NewClient(srv.URL(), "token")
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.WaitAuthenticated(ctx))

	w := world.New()
	require.NoError(t, w.Load(ctx, client))

	manager := worker.NewManager(w, client)
	require.NoError(t, manager.SetupEntry(ctx, &entry.Entry{
		ID: "e1",
		Data: entry.Data{
			RoomName: "Kitchen",
			AreaID:   "kitchen",
			Match:    zone.MatchArea,
			Domains:  []string{"light"},
		},
	}))

	sw, err := manager.Switch("switch.zone_worker_kitchen")
	require.NoError(t, err)
	assert.False(t, sw.On)

	events := make(chan *hass.EventMessage, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchRegistry(ctx, client, w, manager, events)
	}()

	srv.AssignArea("light.counter", "kitchen")
	events <- &hass.EventMessage{Event: hass.Event{EventType: hass.EventTypeEntityRegistryUpdated}}

	assert.Eventually(t, func() bool {
		sw, err := manager.Switch("switch.zone_worker_kitchen")
		return err == nil && sw.On
	}, 5*time.Second, 10*time.Millisecond)

	close(events)
	<-done
}

func TestSubscribeRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     []hasstest.Option
		wantErr  bool
		wantSubs int
	}{
		{name: "subscribes every registry", wantSubs: 3},
		{name: "failure", opts: []hasstest.Option{hasstest.WithFailure(hass.MessageTypeSubscribeEvents, "unknown_error")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := hasstest.NewServer("token", tt.opts...)
			t.Cleanup(srv.Close)

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			client := hass.NewClient(srv.URL(), "token")
			require.NoError(t, client.Connect(ctx))
			t.Cleanup(func() { _ = client.Close() })
			require.NoError(t, client.WaitAuthenticated(ctx))

			registry, err := subscribeRegistry(ctx, client)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, registry)
				assert.Zero(t, srv.Subscriptions())
				return
			}
			require.NoError(t, err)
			assert.Len(t, registry, tt.wantSubs)
			assert.Eventually(t, func() bool { return srv.Subscriptions() == tt.wantSubs }, 5*time.Second, 10*time.Millisecond)

			cancel()
			assert.Eventually(t, func() bool { return srv.Subscriptions() == 0 }, 5*time.Second, 10*time.Millisecond)
		})
	}
}
