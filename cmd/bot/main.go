package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gatewarden/gatewarden/internal/bot"
	"github.com/gatewarden/gatewarden/internal/setup"
)

// shutdownTimeout bounds how long shutdown waits for pending work.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "gatewarden",
		Usage: "Whitelist-based group membership gatekeeper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-dir",
				Usage: "Override the configured log directory",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			// Initialize application with required dependencies
			app, err := setup.InitializeApp(ctx, c.String("log-dir"))
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Cleanup(ctx)

			guardBot, err := bot.New(app.Config, app.Store, app.Settings, app.LogManager.RecentLogs, app.Logger)
			if err != nil {
				return fmt.Errorf("failed to create bot: %w", err)
			}

			if err := guardBot.Start(ctx); err != nil {
				return fmt.Errorf("failed to start bot: %w", err)
			}

			log.Println("Bot has been started. Waiting for interrupt signal to gracefully shutdown...")

			// Wait for interrupt signal to gracefully shutdown the bot
			sc := make(chan os.Signal, 1)
			signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
			<-sc

			// Pending reinstatements are drained before the process exits
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			guardBot.Close(shutdownCtx)

			return nil
		},
	}

	return app.Run(context.Background(), os.Args)
}
