package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/perps/bot"
	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/broker/binance"
	"github.com/rustyeddy/perps/config"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/logging"
	"github.com/rustyeddy/perps/signal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workers against the exchange",
	Long: `Start one worker per configured symbol against the futures API and
run until interrupted.

Example:
  PERPS_API_KEY=... PERPS_API_SECRET=... perps run -c perps.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		return errors.New("PERPS_API_KEY and PERPS_API_SECRET must be set")
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := binance.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret,
		binance.WithTimeout(cfg.Exchange.Timeout),
		binance.WithRecvWindow(cfg.Exchange.RecvWindowMs),
	)

	ledger, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer ledger.Close()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	log.Info("perps starting",
		zap.String("base_url", cfg.Exchange.BaseURL),
		zap.Strings("symbols", cfg.Trading.Symbols),
		zap.Int("leverage", cfg.Trading.Leverage),
		zap.String("journal", cfg.Journal.DBPath))

	return newSupervisor(cfg, client, ledger, log).Run(ctx)
}

// newSupervisor wires one worker per symbol around a shared capital guard.
func newSupervisor(cfg *config.Config, b broker.Broker, ledger journal.Ledger, log *zap.Logger) *bot.Supervisor {
	scorer := signal.NewScorer(cfg.Signal.Weights)
	guard := bot.NewCapitalGuard()

	runners := make([]bot.Runner, 0, len(cfg.Trading.Symbols))
	for _, s := range cfg.Trading.Symbols {
		wc := bot.NewConfig(s, cfg.Exchange, cfg.Trading)
		runners = append(runners, bot.NewWorker(wc, b, ledger, scorer, guard, log))
	}

	return bot.NewSupervisor(bot.SupervisorConfig{
		PollInterval:  cfg.Trading.PollInterval,
		RetryDelay:    cfg.Trading.RetryDelay,
		MaxRetryDelay: cfg.Trading.MaxRetryDelay,
		StartStagger:  cfg.Trading.StartStagger,
	}, log, runners...)
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	return srv
}
