package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/veldrane/eidolon/internal"
	"github.com/veldrane/eidolon/internal/catalog"
	"github.com/veldrane/eidolon/internal/executor"
	"github.com/veldrane/eidolon/internal/mcpserver"
	"github.com/veldrane/eidolon/internal/notices"
	"github.com/veldrane/eidolon/internal/opclient"
	"github.com/veldrane/eidolon/internal/relay"
	"github.com/veldrane/eidolon/internal/store"
	pkgconfig "github.com/veldrane/eidolon/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	// Protocol traffic owns stdout; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	broker := notices.NewBroker()
	defer broker.Close()

	hub := relay.NewHub()
	defer hub.Close()

	mirrors := catalog.NewSynchronizer(db, logger, cfg.Catalog.RootName)
	exec := executor.New(db, mirrors, broker, logger, cfg.Templates.ContainerName)
	hub.Elect(exec)
	defer hub.Resign(exec.ID())

	client := opclient.New(hub, exec)
	return mcpserver.New(db, client).ServeStdio()
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "eidolon",
		Usage:  "Single-executor privilege relay with a mirrored, category-foldered catalog over a shared record store",
		Action: run,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Serve record, catalog, and notice tools over MCP stdio",
				Action: runMCP,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
