package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/fxhook/logging"
	"github.com/rustyeddy/fxhook/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Serve accepts alerts on POST / and POST /webhook.

Also exposes:
  GET /healthz    - liveness
  GET /metrics    - Prometheus metrics
  GET /trades     - recent journal records (?limit=n)
  GET /trades/:id - one journal record

Example:
  OANDA_ENV=practice OANDA_API_KEY=... OANDA_ACCOUNT_ID=... fxhook serve -c fxhook.yaml`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info("starting fxhook",
		zap.String("version", version),
		zap.String("oanda_env", cfg.OANDA.Env),
		zap.String("ledger", cfg.Ledger.Type),
		zap.String("journal", cfg.Journal.Type),
		zap.String("idempotency", cfg.Idempotency.Type),
		zap.String("reconcile_policy", cfg.Trading.ReconcilePolicy),
		zap.String("balance_source", cfg.Trading.BalanceSource),
	)

	srv := server.New(server.Options{
		Addr:            cfg.Server.Addr,
		WebhookSecret:   cfg.Server.WebhookSecret,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		Gatherer:        a.registry,
		Log:             log,
	}, a.engine, a.journal)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("stopped")
	return nil
}

