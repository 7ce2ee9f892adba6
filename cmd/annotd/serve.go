package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"annotd/internal/annotate"
	"annotd/internal/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr           string
		checkLocations bool
		maxBodyBytes   int64
		timeout        time.Duration
		maxWait        time.Duration
		cors           bool
		corsOrigins    string
		logRequests    string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the app over HTTP",
		Example: "  annotd serve --metadata app.yaml --addr :5000",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			overlay(&c.cfg.Addr, addr)
			if flags.Changed("check-locations") {
				c.cfg.CheckLocations = checkLocations
			}
			if flags.Changed("max-body-bytes") {
				c.cfg.MaxBodyBytes = maxBodyBytes
			}
			if flags.Changed("cors") {
				c.cfg.CORSEnabled = cors
			}
			if flags.Changed("cors-origins") {
				c.cfg.CORSAllowedOrigins = splitCSV(corsOrigins)
			}
			c.cfg.ApplyDefaults()
			return c.serve(maxWait, timeout, logRequests)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", os.Getenv("ANNOTD_ADDR"), "HTTP listen address (defaults ANNOTD_ADDR, then :5000)")
	f.BoolVar(&checkLocations, "check-locations", false, "Reject documents whose local files are missing")
	f.Int64Var(&maxBodyBytes, "max-body-bytes", 0, "Maximum request body size (default 64 MiB)")
	f.DurationVar(&timeout, "timeout", 0, "Per-request annotate timeout (0 disables)")
	f.DurationVar(&maxWait, "max-wait", 30*time.Second, "How long a request may wait for the accelerator")
	f.BoolVar(&cors, "cors", false, "Enable CORS")
	f.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	f.StringVar(&logRequests, "log-requests", envOr("ANNOTD_LOG_REQUESTS", "info"), "Request log level: off|error|info|debug")
	return cmd
}

func (c *cli) serve(maxWait, timeout time.Duration, logRequests string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := c.openStore()
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}
	defer func() { _ = closeStore() }()

	orch, err := c.orchestrator(annotate.Options{
		Device:  c.device(ctx),
		Store:   store,
		MaxWait: maxWait,
	})
	if err != nil {
		return err
	}

	httpapi.SetLogger(c.log)
	httpapi.SetDefaultLogLevel(logRequests)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(c.cfg.MaxBodyBytes)
	httpapi.SetAnnotateTimeout(timeout)
	httpapi.SetCORSOptions(c.cfg.CORSEnabled, c.cfg.CORSAllowedOrigins, c.cfg.CORSAllowedMethods, c.cfg.CORSAllowedHeaders)

	srv := &http.Server{
		Addr:              c.cfg.Addr,
		Handler:           httpapi.NewMux(orch),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		c.log.Info().
			Str("addr", c.cfg.Addr).
			Str("app", orch.Metadata().Identifier).
			Bool("admission", orch.AdmissionEnabled()).
			Msg("annotd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	// Graceful shutdown (Ctrl+C / SIGTERM)
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		c.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
