package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/granary/internal/api"
	"github.com/eteran/granary/internal/clients"
	"github.com/eteran/granary/internal/config"
	"github.com/eteran/granary/internal/identity"
	"github.com/eteran/granary/internal/objects"
	"github.com/eteran/granary/internal/permission"
	"github.com/eteran/granary/internal/quota"
	"github.com/eteran/granary/internal/ratelimit"
	"github.com/eteran/granary/internal/upload"
)

func Run(ctx context.Context) error {

	listen := flag.String("listen", "", "HTTP listen address (overrides GRANARY_LISTEN)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")

	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	var opts []config.ConfigOption
	if *listen != "" {
		opts = append(opts, config.WithListenAddr(*listen))
	}
	cfg, err := config.FromEnv(opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory, err := clients.New(cfg)
	if err != nil {
		return fmt.Errorf("create client factory: %w", err)
	}

	admin, err := factory.Admin()
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	limits, err := factory.RateLimits()
	if err != nil {
		return fmt.Errorf("create rate-limit client: %w", err)
	}

	repo := objects.New(factory, objects.WithPresignExpiry(cfg.PresignExpiry))
	server := api.NewServer(api.Services{
		Objects:     repo,
		Uploads:     upload.New(factory, upload.WithPartSize(cfg.PartSize), upload.WithConcurrency(cfg.UploadConcurrency)),
		Quotas:      quota.New(admin, repo),
		Permissions: permission.New(factory, repo),
		Identities:  identity.New(admin),
		RateLimits:  ratelimit.New(limits, admin),
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Granary HTTP server",
			"listen", cfg.ListenAddr,
			"s3", cfg.S3Endpoint,
			"admin", cfg.AdminEndpoint,
			"rateLimit", cfg.RateLimitEndpoint,
		)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Granary exited with error", "error", err)
		os.Exit(1)
	}
}
