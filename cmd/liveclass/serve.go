package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"liveclass/internal/app"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			// STEP 1: Shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// STEP 2: Wire and start every component
			application, err := app.NewApplication(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := application.Start(ctx); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}

			// STEP 3: Serve until signalled, then drain
			<-ctx.Done()
			log.Println("Received shutdown signal, shutting down gracefully")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "HTTP listen host")
	flags.Int("port", 0, "HTTP listen port")
	flags.String("storage", "", "storage backend: sqlite, redis or none")
	flags.String("sqlite-path", "", "sqlite database file")
	flags.String("redis-url", "", "redis URL for the redis backend")
	flags.Bool("terminals", false, "enable per-user terminals")
	flags.StringSlice("allowed-origins", nil, "allowed browser origins (default: any)")

	bindFlag(c, "http.host", cmd, "host")
	bindFlag(c, "http.port", cmd, "port")
	bindFlag(c, "storage.backend", cmd, "storage")
	bindFlag(c, "storage.sqlite_path", cmd, "sqlite-path")
	bindFlag(c, "storage.redis_url", cmd, "redis-url")
	bindFlag(c, "terminal.enabled", cmd, "terminals")
	bindFlag(c, "http.allowed_origins", cmd, "allowed-origins")
	return cmd
}

// bindFlag makes a flag override the key only when it was set explicitly.
func bindFlag(c *cli, key string, cmd *cobra.Command, name string) {
	cobra.CheckErr(c.v.BindPFlag(key, cmd.Flags().Lookup(name)))
}
