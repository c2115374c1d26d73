// embedg serves the Embed Generator API and handles message component
// interactions on the Discord gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/embedg/embedg/pkg/api"
	"github.com/embedg/embedg/pkg/app"
	"github.com/embedg/embedg/pkg/channels/discord"
	"github.com/embedg/embedg/pkg/config"
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/infrastructure/cache"
	"github.com/embedg/embedg/pkg/infrastructure/eventbus"
	"github.com/embedg/embedg/pkg/infrastructure/persistence"
	"github.com/embedg/embedg/pkg/logger"
	"github.com/embedg/embedg/pkg/metrics"
	"github.com/embedg/embedg/pkg/platform"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "embedg",
		Short:         "Discord embed generator backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "embedg", version)
		},
	}
}

type serveOptions struct {
	configPath string
	workers    int
	queueSize  int
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gateway interaction handler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "embedg.yaml", "path to the YAML config file")
	cmd.Flags().IntVar(&opts.workers, "workers", 8, "concurrent interaction handlers")
	cmd.Flags().IntVar(&opts.queueSize, "queue-size", 256, "pending interactions before the oldest is dropped")
	return cmd
}

func serve(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	stores, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeWithTimeout("storage", stores.Close)

	caches, err := cache.NewFactory(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer caches.Close()
	webhookKV, err := caches.New("webhooks", cfg.Cache.WebhookTTL)
	if err != nil {
		return err
	}
	sessionKV, err := caches.New("sessions", cfg.API.SessionTTL)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	m := metrics.MustNewMetrics(prometheus.DefaultRegisterer)
	m.Subscribe(bus)

	container := app.NewContainer(app.Deps{
		EventBus:      bus,
		Client:        platform.NewDiscordClient(session),
		Cache:         platform.NewStateCache(session.State),
		Provenance:    stores.Provenance,
		SavedMessages: stores.SavedMessages,
		WebhookKV:     webhookKV,
		SessionKV:     sessionKV,
		BotID:         cfg.Discord.ApplicationID,
	})

	server := api.NewServer(api.Options{
		Config:    cfg,
		Container: container,
		Metrics:   m,
		Gatherer:  prometheus.DefaultGatherer,
		Ready: func(ctx context.Context) error {
			return errors.Join(stores.Ping(ctx), caches.Ping(ctx))
		},
	})

	gateway := discord.NewGateway(session, container.Interactions.HandleComponent, opts.workers, opts.queueSize)
	if err := gateway.Open(ctx); err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		gateway.Close()
		return err
	}

	bus.Publish(domain.NewEvent(domain.EventSystemStartup, domain.EntityID(cfg.Discord.ApplicationID), map[string]string{
		"version": version,
	}))
	logger.InfoCF("main", "embedg started", map[string]interface{}{
		"version": version,
		"addr":    cfg.Addr(),
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")
	bus.Publish(domain.NewEvent(domain.EventSystemShutdown, domain.EntityID(cfg.Discord.ApplicationID), nil))
	defer bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.WarnCF("main", "API shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	if err := gateway.Close(); err != nil {
		logger.WarnCF("main", "Gateway close failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func closeWithTimeout(name string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		logger.WarnCF("main", "Close failed", map[string]interface{}{
			"resource": name,
			"error":    err.Error(),
		})
	}
}
