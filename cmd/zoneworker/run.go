package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jkaflik/zoneworker/hass"
	"github.com/jkaflik/zoneworker/internal/api"
	"github.com/jkaflik/zoneworker/internal/config"
	"github.com/jkaflik/zoneworker/internal/discovery"
	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/flow"
	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/internal/mqtt"
	"github.com/jkaflik/zoneworker/internal/worker"
	"github.com/jkaflik/zoneworker/internal/world"
	"github.com/jkaflik/zoneworker/pkg/retry"
)

const shutdownTimeout = 10 * time.Second

var registryEvents = []hass.EventType{
	hass.EventTypeAreaRegistryUpdated,
	hass.EventTypeEntityRegistryUpdated,
	hass.EventTypeDeviceRegistryUpdated,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Home Assistant and serve zone switches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.FromViper(viper.GetViper())
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return run(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().String("host", "", "Home Assistant URL, discovered over mDNS when empty")
	runCmd.Flags().String("addr", "", "Address of the HTTP API")
	_ = viper.BindPFlag("hass.host", runCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("http.addr", runCmd.Flags().Lookup("addr"))
}

func run(ctx context.Context, cfg config.Config) error {
	host := cfg.Hass.Host
	if host == "" {
		instance, err := discovery.Find(ctx, cfg.Discovery.Timeout)
		if err != nil {
			return fmt.Errorf("hass.host is not set and discovery failed: %w", err)
		}
		log.Info().Str("name", instance.Name).Str("url", instance.URL).Str("version", instance.Version).Msg("Discovered Home Assistant")
		host = instance.URL
	}

	client := hass.NewClient(host, cfg.Hass.Token,
		hass.WithUserAgent("zoneworker/"+version),
		hass.WithResultTimeout(cfg.Hass.ResultTimeout),
		hass.WithReceiverBufferSize(cfg.Hass.BufferSize),
		hass.WithReconnectConfig(time.Second, cfg.Hass.ReconnectMax, 2),
	)
	// Home Assistant may still be starting next to us
	connect := func() error { return client.Connect(ctx) }
	if err := retry.Do(ctx, connect, retry.IsNetworkError, retry.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Home Assistant connection")
		}
	}()

	if err := client.WaitAuthenticated(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with Home Assistant: %w", err)
	}
	log.Info().Str("version", client.Version()).Msg("Authenticated with Home Assistant")

	w := world.New()
	if err := w.Load(ctx, client); err != nil {
		return err
	}

	store, err := entry.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close entry store")
		}
	}()

	checks := []metrics.HealthCheck{
		client.Healthy,
		func() error { return store.Healthy(ctx) },
	}

	opts := []worker.Option{worker.WithBatch(cfg.Worker.BatchSize, cfg.Worker.BatchWait)}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		publisher = mqtt.NewPublisher(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		})
		defer publisher.Close()
		opts = append(opts, worker.WithPublisher(publisher))
		checks = append(checks, publisher.Healthy)
	}

	manager := worker.NewManager(w, client, opts...)

	if publisher != nil {
		publisher.SetCommander(manager)
		publisher.SetOnConnect(func() { manager.Republish(ctx) })
		// the client keeps retrying in the background
		if err := publisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT broker not reachable yet")
		}
	}

	entries := flow.New(store, w, manager)
	if err := entries.SetupAll(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.HTTP.Addr, entries, store, manager, w, checks...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry, err := subscribeRegistry(ctx, client)
	if err != nil {
		return err
	}

	client.SetOnReconnect(func() {
		if err := manager.Resync(ctx, client); err != nil {
			log.Error().Err(err).Msg("Failed to reload Home Assistant after reconnect")
			return
		}
		log.Info().Msg("Reloaded Home Assistant after reconnect")
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(ctx, client)
	})

	for _, events := range registry {
		g.Go(func() error {
			watchRegistry(ctx, client, w, manager, events)
			return nil
		})
	}

	g.Go(server.Start)

	if cfg.Metrics.Addr != "" {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, checks...)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(metricsServer.Shutdown)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		return shutdown(server.Shutdown)
	})

	return g.Wait()
}

// subscribeRegistry subscribes to every registry update event. The
// subscriptions end with ctx.
func subscribeRegistry(ctx context.Context, src worker.EventSource) ([]<-chan *hass.EventMessage, error) {
	registry := make([]<-chan *hass.EventMessage, 0, len(registryEvents))
	for _, eventType := range registryEvents {
		events, err := src.SubscribeEvents(ctx, hass.SubscribeEventsWithEventType(eventType))
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
		registry = append(registry, events)
	}
	return registry, nil
}

// watchRegistry re-resolves every switch when Home Assistant reports a
// registry change.
func watchRegistry(ctx context.Context, src world.Source, w *world.World, manager *worker.Manager, events <-chan *hass.EventMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Debug().Str("event", string(ev.Event.EventType)).Msg("Registry updated")
			if err := w.LoadRegistries(ctx, src); err != nil {
				log.Error().Err(err).Msg("Failed to reload registries")
				continue
			}
			manager.Refresh(ctx)
		}
	}
}

func shutdown(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return fn(ctx)
}
