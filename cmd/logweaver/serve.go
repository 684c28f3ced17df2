package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/spf13/cobra"

	"github.com/0tSystemsPublicRepos/logweaver/internal/api"
	"github.com/0tSystemsPublicRepos/logweaver/internal/database"
	"github.com/0tSystemsPublicRepos/logweaver/internal/honeypot"
	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
	"github.com/0tSystemsPublicRepos/logweaver/internal/metrics"
	"github.com/0tSystemsPublicRepos/logweaver/internal/notifications"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, profiles, err := loadConfig()
	if err != nil {
		return err
	}

	var console io.Writer
	if cfg.Log.ConsoleEnabled() {
		console = os.Stdout
	}
	sink, err := logging.Open(logging.Options{
		Path:    cfg.Log.File,
		Console: console,
		Color:   cfg.Log.Color,
	})
	if err != nil {
		return err
	}
	defer sink.Close()
	logging.SetDefault(sink)

	if gopsAddr != "" {
		if err := agent.Listen(agent.Options{Addr: gopsAddr}); err != nil {
			logging.Error("gops agent failed: %v", err)
		} else {
			defer agent.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store database.Provider
	var collector *metrics.Collector
	if cfg.API.Enabled {
		collector = metrics.New()
		sink.Subscribe(collector)
	}

	if database.Enabled(cfg.Store) {
		store, err = database.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		recorder := database.NewRecorder(store, cfg.Store.QueueSize)
		defer recorder.Close()
		sink.Subscribe(recorder)
		if collector != nil {
			collector.WatchStore(recorder)
		}
	}

	if cfg.Webhooks.Enabled {
		webhooks, err := notifications.NewWebhookProvider(&cfg.Webhooks)
		if err != nil {
			return err
		}
		sink.Subscribe(webhooks)
		logging.Info("[WEBHOOK] Forwarding %v to %d endpoint(s)", cfg.Webhooks.Events, len(cfg.Webhooks.Endpoints))
	}

	if cfg.API.Enabled {
		hub := api.NewHub()
		sink.Subscribe(hub)
		srv := api.NewServer(api.Options{
			ListenAddr:  cfg.API.ListenAddr,
			BindAddress: cfg.BindAddress,
			Profiles:    profiles,
			Store:       store,
			Metrics:     collector,
			Hub:         hub,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				logging.Error("[api] Status API stopped: %v", err)
			}
		}()
	}

	sup := honeypot.NewSupervisor(honeypot.SupervisorOptions{
		Profiles:    profiles,
		BindAddress: cfg.BindAddress,
		Stagger:     cfg.StaggerDelay(),
		ReadChunk:   cfg.ReadChunk,
		Recorder:    sink,
		LogPath:     cfg.Log.File,
	})
	return sup.Run(ctx)
}
