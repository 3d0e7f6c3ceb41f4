package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tus-upload-server/backend/internal/api"
	"github.com/tus-upload-server/backend/internal/upload"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, cmd.OutOrStdout())
		},
	}
}

func newEcho(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		Logger:         a.log,
		RequestLogging: cfg.Server.RequestLogging,
		MaxBodySize:    cfg.Storage.MaxUploadSize,
	})

	handlers := api.NewHandlers(&api.Dependencies{
		Engine: a.engine,
		Options: api.Options{
			BasePath:      cfg.Server.BasePath,
			MaxUploadSize: cfg.Storage.MaxUploadSize,
			Logger:        a.log,
		},
		Version: Version,
	})
	api.RegisterRoutes(e, handlers, cfg.Server.BasePath)
	return e
}

// serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, a *app, out io.Writer) error {
	cfg := a.cfg
	e := newEcho(a)

	if cfg.Cleanup.Enabled {
		stopJanitor := upload.StartJanitor(ctx, a.engine, cfg.Cleanup.Interval, a.log)
		defer stopJanitor()
	}

	// Configure server with settings from config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	printBanner(out, a)

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// e.Shutdown only stops echo's own server, not s
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func printBanner(out io.Writer, a *app) {
	cfg := a.cfg
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "TUS Upload Server %s (built %s)\n", Version, BuildTime)
	fmt.Fprintf(out, "  Config:        %s\n", a.configPath)
	fmt.Fprintf(out, "  Listen:        http://%s%s\n", cfg.GetServerAddr(), cfg.Server.BasePath)
	fmt.Fprintf(out, "  Upload dir:    %s\n", cfg.Storage.UploadDir)
	fmt.Fprintf(out, "  Session store: %s\n", cfg.SessionStore.Driver)
	fmt.Fprintf(out, "\n")

	a.log.WithFields(logrus.Fields{
		"addr":            cfg.GetServerAddr(),
		"max_upload_size": cfg.Storage.MaxUploadSize,
		"retention":       cfg.Storage.Retention.String(),
	}).Info("server starting")
}
