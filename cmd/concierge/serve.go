package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/concierge/internal/db"
	"github.com/zulandar/concierge/internal/escalation"
	"github.com/zulandar/concierge/internal/hub"
	"github.com/zulandar/concierge/internal/server"
	"github.com/zulandar/concierge/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Serves the realtime chat socket, the answer endpoints and the
operator escalation API. Run "concierge db init" first to create tables and
seed websites.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if notifier != nil {
		fmt.Fprintf(out, "Operator notifications go to %s channel %s\n", cfg.Notify.Platform, cfg.Notify.Channel)
	}
	if cfg.Generator.APIKey == "" {
		fmt.Fprintln(out, "No generator api key configured: unmatched questions get the fallback notice")
	}

	st := store.New(gormDB)
	resolver := newResolver(cfg, gormDB)
	tracker := escalation.New(st, notifier, cfg.Escalation.TriggerPhrases)
	defer tracker.Close()
	h := hub.New(st, tracker, resolver, hub.Options{})
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if rc := cfg.Escalation.Reminder; rc.Enabled {
		reminder := escalation.NewReminder(st, notifier, h.Remind, time.Duration(rc.AfterMin)*time.Minute)
		runner, err := reminder.Schedule(ctx, rc.Cron)
		if err != nil {
			return err
		}
		defer runner.Stop()
		fmt.Fprintf(out, "Support reminders scheduled (%s, after %d min)\n", rc.Cron, rc.AfterMin)
	}

	srv, err := server.New(server.Opts{
		Store:          st,
		Hub:            h,
		Resolver:       resolver,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		InternalSecret: cfg.Escalation.InternalSecret,
		DefaultWebsite: cfg.Knowledge.DefaultWebsite,
		Out:            out,
	})
	if err != nil {
		return err
	}
	if cfg.Escalation.InternalSecret == "" {
		log.Printf("serve: escalation.internal_secret unset, internal support endpoint disabled")
	}
	return srv.Start(ctx)
}
