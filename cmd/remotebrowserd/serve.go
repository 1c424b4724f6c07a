package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/browserhive/remotebrowser/internal/config"
	"github.com/browserhive/remotebrowser/internal/display"
	"github.com/browserhive/remotebrowser/internal/httpapi"
	"github.com/browserhive/remotebrowser/internal/intervention"
	"github.com/browserhive/remotebrowser/internal/procsupervisor"
	"github.com/browserhive/remotebrowser/internal/rblog"
	"github.com/browserhive/remotebrowser/internal/session"
	"github.com/browserhive/remotebrowser/internal/transport"
)

func newServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the remote browser service",
		Example: `  remotebrowserd serve
  # Starts the service on the configured port (default 3000)

  PORT=8080 remotebrowserd serve
  # Starts the service on port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				rblog.SetLevel("debug")
			}
			return runServe()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := rblog.Base()
	baseURL := fmt.Sprintf("%s://%s:%d", cfg.Scheme(), displayHost(cfg.Host), cfg.Port)

	coordinator := intervention.New()

	// Registry needs a Publisher before it exists; hub needs the Registry
	// before it exists. Break the cycle the way the teacher's router/server
	// pair does: construct the hub with a forward reference, set it once the
	// registry is built.
	hub := transport.NewHub(nil, coordinator, log)

	registry := session.New(session.Options{
		MaxSessions:    cfg.MaxSessions,
		IdleTimeout:    cfg.SessionIdleTimeout,
		MaxLifetime:    cfg.SessionMaxLifetime,
		GCInterval:     cfg.SessionGCInterval,
		Headless:       cfg.Headless,
		ViewerBaseURL:  baseURL,
		CommandTimeout: cfg.CommandTimeout,
		Publisher:      hub,
		Interventions:  coordinator,
		Log:            log,
	})
	hub.SetRegistry(registry)

	disp := display.New(display.Options{Log: log})
	if err := disp.Start(cfg.Headless); err != nil {
		return fmt.Errorf("starting virtual display: %w", err)
	}

	ctx := context.Background()
	if err := registry.Initialize(ctx); err != nil {
		disp.Stop()
		return fmt.Errorf("launching browser: %w", err)
	}

	api := httpapi.New(httpapi.Options{
		Registry:      registry,
		Hub:           hub,
		Interventions: coordinator,
		BaseURL:       baseURL,
		Log:           log,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: api.Handler(),
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("remotebrowserd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
			os.Exit(1)
		}
	}()

	supervisor := procsupervisor.New(log)
	supervisor.AddStep("http server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})
	supervisor.AddStep("session registry", func() error {
		registry.Close()
		return nil
	})
	supervisor.AddStep("virtual display", func() error {
		disp.Stop()
		return nil
	})
	supervisor.Wait()

	return nil
}

// displayHost renders 0.0.0.0 as localhost in client-facing URLs; operators
// bind the wildcard address but remote clients never dial it directly.
func displayHost(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "localhost"
	}
	return host
}
