package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"gorvnbridge/config"
	"gorvnbridge/redis"
	"gorvnbridge/workers"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bridgectl",
		Usage: "RVN/ETH bridge operator CLI",
		Description: `Inspect and repair bridge state without going through the HTTP API.

Connection settings are read the same way the server reads them.`,
		Commands: []*cli.Command{
			{
				Name:  "deadletter",
				Usage: "Dead lettered payout jobs",
				Subcommands: []*cli.Command{
					listDeadLettersCommand(),
					requeueCommand(),
				},
			},
			{
				Name:  "processed",
				Usage: "Processed deposit ledger",
				Subcommands: []*cli.Command{
					getProcessedCommand(),
				},
			},
			registerCommand(),
			scanCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DEFAULT_CONFIG_FILE,
				Usage:   "path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output JSON",
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Configuration, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func getStore(c *cli.Context, cfg *config.Configuration) (workers.Store, error) {
	store, err := workers.OpenStore(c.Context, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func getQueue(c *cli.Context, cfg *config.Configuration) (*redis.Queue, error) {
	return workers.OpenQueue(c.Context, cfg)
}

// commands log to stderr, results go to the app writer
func newLogger(c *cli.Context) *slog.Logger {
	return slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
