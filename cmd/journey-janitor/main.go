package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/journey/pkg/cmd"
	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/log"
	"github.com/dukex/journey/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:                  "journey-janitor",
		Usage:                 "Abandon journey runs that stopped moving",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression the sweep runs on",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("JANITOR_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "idle-for",
				Usage:   "How long a run may sit on a step before it is abandoned",
				Value:   30 * 24 * time.Hour,
				Sources: cli.EnvVars("JANITOR_IDLE_FOR"),
			},
			&cli.IntFlag{
				Name:    "batch",
				Usage:   "Runs abandoned per batch",
				Value:   100,
				Sources: cli.EnvVars("JANITOR_BATCH"),
			},
			&cli.BoolFlag{
				Name:    "watch-failures",
				Usage:   "Log failed and abandoned runs published on the event bus (needs a shared bus such as kafka)",
				Sources: cli.EnvVars("JANITOR_WATCH_FAILURES"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated list of Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("janitor")

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			runtime := services.NewRuntime(persistence, conditions.NewRegistry(), services.Options{
				Logger:   logger,
				EventBus: eventBus,
			})

			janitor, err := NewJanitor(
				runtime,
				command.String("schedule"),
				command.Duration("idle-for"),
				command.Int("batch"),
				logger,
			)
			if err != nil {
				return err
			}

			if err := janitor.Start(ctx); err != nil {
				return err
			}

			if command.Bool("watch-failures") {
				if err := janitor.WatchFailures(ctx, eventBus); err != nil {
					return err
				}
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

			sig := <-signals
			logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig)

			cancel()

			return janitor.Stop(context.Background())
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
