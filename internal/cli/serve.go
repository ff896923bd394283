package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/warrant/internal/app"
	"github.com/ppiankov/warrant/internal/server"
)

var (
	servePort           int
	serveHealthInterval time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (default from config)")
	serveCmd.Flags().DurationVar(&serveHealthInterval, "health-interval", 10*time.Second, "How often component health is published")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC decision server",
	Long: "Runs warrant as a central decision server over gRPC.\n" +
		"Agents connect as clients for decisions and token verification.\n" +
		"The policy file is hot-reloaded; expired tokens are swept periodically.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHealthInterval <= 0 {
		return fmt.Errorf("--health-interval must be positive")
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	srv := server.New(server.Config{Port: cfg.Server.Port}, a, logger)
	srv.UpdateHealth(ctx)

	reloader, err := server.NewReloader(srv, []string{cfg.PolicyPath}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down decision server...")
		srv.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return a.Tokens.RunJanitor(gctx, cfg.Tokens.CleanupInterval.Std())
	})
	g.Go(func() error {
		return srv.WatchHealth(gctx, serveHealthInterval)
	})
	if reloader != nil {
		g.Go(func() error { return reloader.Run(gctx) })
	}

	fmt.Fprintf(os.Stderr, "warrant decision server listening on :%d\n", cfg.Server.Port)
	fmt.Fprintf(os.Stderr, "Policy: %s (%s)\n", cfg.PolicyPath, a.Engine.Snapshot().VersionHash())
	fmt.Fprintf(os.Stderr, "Ledger: %s %s (%d entries)\n", cfg.Ledger.Backend, cfg.Ledger.Path, a.Chain.Len())
	fmt.Fprintln(os.Stderr)

	return g.Wait()
}
