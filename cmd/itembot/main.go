// Command itembot answers game item lookups over Telegram (and an optional
// HTTP webhook), with a status API and an MCP stdio server.
//
// usage:
//
//	itembot [-config itembot.yaml]       serve chat users
//	itembot mcp [-config itembot.yaml]   serve the item_search MCP tool on stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/itembot/bot"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	mode := "serve"
	if len(args) > 0 && args[0] == "mcp" {
		mode, args = "mcp", args[1:]
	}

	fs := flag.NewFlagSet("itembot", flag.ExitOnError)
	cfgPath := fs.String("config", env("ITEMBOT_CONFIG", "itembot.yaml"), "path to the YAML config file")
	fs.Parse(args)

	cfg, err := bot.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol in mcp mode.
	var out io.Writer = os.Stdout
	if mode == "mcp" {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch mode {
	case "mcp":
		err = runMCP(ctx, cfg, logger)
	default:
		err = runBot(ctx, cfg, logger)
	}
	if err != nil {
		slog.Error("itembot failed", "mode", mode, "error", err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context, cfg *bot.Config, logger *slog.Logger) error {
	if err := cfg.ValidateChat(); err != nil {
		return err
	}
	app, err := bot.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("itembot starting", "version", version, "db", cfg.DBPath,
		"directory", cfg.Directory.URL != "", "http", cfg.HTTP.Addr, "webhook", cfg.Webhook.ListenAddr)
	return app.Run(ctx)
}

func runMCP(ctx context.Context, cfg *bot.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	app, err := bot.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "itembot", Version: version}, nil)
	bot.RegisterMCP(srv, app.Searcher, logger)
	logger.Info("mcp server starting", "transport", "stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func level(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
