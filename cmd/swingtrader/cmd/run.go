package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/swingtrader/internal/api"
	"github.com/rustyeddy/swingtrader/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine and the HTTP API until interrupted",
	Long: `Start the trading engine and serve the HTTP API.

With engine.cycle_interval set, cycles run automatically; otherwise they
are triggered with POST /api/cycles. The guidelines file is watched and
reloaded when guidelines.watch is true.

Example:
  swingtrader run -c swingtrader.yaml`,
	RunE: runRun,
}

var (
	runAddr    string
	runNoStart bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runAddr, "addr", "", "API listen address (overrides api.addr)")
	runCmd.Flags().BoolVar(&runNoStart, "no-start", false, "serve the API without starting the engine")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runAddr != "" {
		cfg.API.Addr = runAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Guidelines.Watch {
		if err := a.rules.Watch(ctx); err != nil {
			return err
		}
	}
	if !runNoStart {
		if err := a.engine.Start(ctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(a.engine, a.rules, logging.Component(a.log, "api")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.log.WithField("addr", cfg.API.Addr).Info("api listening")
	fmt.Fprintf(cmd.OutOrStdout(), "✓ swingtrader running, API on %s\n", cfg.API.Addr)

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		a.log.WithError(err).Warn("api shutdown")
	}
	if a.engine.Status().Running {
		if err := a.engine.Stop(); err != nil {
			a.log.WithError(err).Warn("engine stop")
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ stopped")
	return nil
}
