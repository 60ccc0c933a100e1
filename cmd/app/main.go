package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/helmsman/internal"
	pkgconfig "github.com/starford/helmsman/pkg/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func fetch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("fetch takes exactly one document path")
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunFetch(ctx, cmd.Args().First(), cmd.Bool("refresh"), opts...)
}

func deck(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunDeck(ctx, cmd.Args().Slice(), cmd.Bool("refresh"), opts...)
}

func cacheAction(action string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		opts, err := options(cmd)
		if err != nil {
			return err
		}
		return internal.RunCache(ctx, action, opts...)
	}
}

func refreshFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "refresh",
		Aliases: []string{"r"},
		Usage:   "Bypass the local cache and fetch from the remote",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "helmsman",
		Usage:   "Fetch, cache and study Markdown content from a remote repository",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, SSE stream and cache watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:      "fetch",
				Usage:     "Fetch and parse one document",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{refreshFlag()},
				Action:    fetch,
			},
			{
				Name:      "deck",
				Usage:     "Sync flashcard decks",
				ArgsUsage: "[folder...]",
				Flags:     []cli.Flag{refreshFlag()},
				Action:    deck,
			},
			{
				Name:  "cache",
				Usage: "Maintain the local content cache",
				Commands: []*cli.Command{
					{
						Name:   internal.CachePrune,
						Usage:  "Remove entries older than cache.max_age",
						Action: cacheAction(internal.CachePrune),
					},
					{
						Name:   internal.CacheClear,
						Usage:  "Remove every cached entry",
						Action: cacheAction(internal.CacheClear),
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
