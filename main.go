package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryan-buckman/groupsfeed/internal/cache"
	"github.com/bryan-buckman/groupsfeed/internal/config"
	"github.com/bryan-buckman/groupsfeed/internal/groups"
	"github.com/bryan-buckman/groupsfeed/internal/groupsio"
	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
	"github.com/bryan-buckman/groupsfeed/internal/rss"
	"github.com/bryan-buckman/groupsfeed/internal/server"
)

func main() {
	configPath := flag.String("config", "", "config file (.env or .yaml); defaults to CONFIG_PATH or ./.env")
	addr := flag.String("addr", "", "listen address, overrides SERVER_ADDR")
	once := flag.Bool("once", false, "generate the feed once, write it to -out and exit")
	out := flag.String("out", "", "output file for -once, overrides OUTPUT_FILE")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *out != "" {
		cfg.Feed.OutputFile = *out
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client := groupsio.NewClient(cfg.GroupsIO.BaseURL, cfg.GroupsIO.APIKey,
		groupsio.WithTimeout(cfg.GroupsIO.Timeout),
		groupsio.WithRateLimit(cfg.GroupsIO.RateLimit),
	)
	gen := rss.NewGenerator(groups.NewResolver(client), client, rss.Options{
		Meta: model.FeedMeta{
			Title:       cfg.Feed.Title,
			Link:        cfg.Feed.Link,
			Description: cfg.Feed.Description,
		},
		TopicsPerGroup: cfg.Feed.TopicsPerGroup,
		FetchFullBody:  cfg.Feed.FetchFullBody,
		Concurrency:    cfg.Feed.FetchConcurrency,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := runOnce(ctx, gen, cfg.Feed.OutputFile); err != nil {
			logger.Errorf("[rss] %v", err)
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, cfg, gen); err != nil {
		logger.Errorf("[server] %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// runOnce generates one document and writes it atomically to path.
func runOnce(ctx context.Context, gen *rss.Generator, path string) error {
	doc, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err := rss.WriteFile(path, doc.XML); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Infof("[rss] wrote %d topics to %s", doc.Topics, path)
	return nil
}

// serve runs the HTTP server and the periodic refresh until ctx is done.
func serve(ctx context.Context, cfg *config.Config, gen *rss.Generator) error {
	ctrl := cache.New(gen, cfg.Feed.RefreshInterval())
	srv, err := server.New(ctrl, cfg.Server.Addr, cfg.Feed.Title)
	if err != nil {
		return err
	}

	ctrl.Start()
	logger.Infof("[cache] auto-refresh every %s", ctrl.Interval())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Infof("[server] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}

	ctrl.Stop()
	return err
}
