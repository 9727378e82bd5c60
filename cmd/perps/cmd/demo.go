package cmd

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/perps/bot"
	"github.com/rustyeddy/perps/broker/sim"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/logging"
	"github.com/rustyeddy/perps/market"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the workers against a simulated exchange",
	Long: `Run the full engine offline: the configured symbols are listed on an
in-memory futures venue whose prices follow a random walk. Stops and
targets fire as the walk crosses them and every trade is journaled.

Example:
  perps demo --duration 2m --tick 500ms`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoDuration   time.Duration
	demoTick       time.Duration
	demoPoll       time.Duration
	demoBalance    float64
	demoVolatility float64
	demoDB         string
	demoSeed       uint64
)

// demoPrices are rough starting prices; unknown symbols start at 100.
var demoPrices = map[string]float64{
	"BTCUSDT": 60000,
	"ETHUSDT": 3000,
	"SOLUSDT": 150,
	"BNBUSDT": 550,
}

var demoPrecision = map[string]market.Precision{
	"BTCUSDT": {Quantity: 3, Price: 1},
	"ETHUSDT": {Quantity: 3, Price: 2},
	"SOLUSDT": {Quantity: 0, Price: 2},
	"BNBUSDT": {Quantity: 2, Price: 2},
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().DurationVar(&demoDuration, "duration", 2*time.Minute, "how long to run")
	demoCmd.Flags().DurationVar(&demoTick, "tick", time.Second, "price update interval")
	demoCmd.Flags().DurationVar(&demoPoll, "poll", 2*time.Second, "worker cycle interval")
	demoCmd.Flags().Float64Var(&demoBalance, "balance", 10000, "starting USDT balance")
	demoCmd.Flags().Float64Var(&demoVolatility, "volatility", 0.002, "per-tick return standard deviation")
	demoCmd.Flags().StringVar(&demoDB, "db", "", "journal path (default: a temporary file)")
	demoCmd.Flags().Uint64Var(&demoSeed, "seed", 0, "random seed (0 picks one)")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Trading.PollInterval = demoPoll
	cfg.Trading.RetryDelay = demoPoll
	cfg.Trading.MaxRetryDelay = 4 * demoPoll
	cfg.Trading.StartStagger = 200 * time.Millisecond
	cfg.Trading.SettleDelay = 100 * time.Millisecond

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	dbPath := demoDB
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "perps-demo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "demo.db")
	}
	ledger, err := journal.NewSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer ledger.Close()

	seed := demoSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	venue := sim.NewEngine(cfg.Exchange.QuoteAsset, demoBalance)
	venue.OnClose(func(symbol, reason string, pnl float64) {
		log.Info("venue closed position",
			zap.String("symbol", symbol), zap.String("order", reason), zap.Float64("pnl", pnl))
	})

	var symbols []string
	for _, s := range cfg.Trading.Symbols {
		symbol := market.ExchangeSymbol(s)
		symbols = append(symbols, symbol)

		price, ok := demoPrices[symbol]
		if !ok {
			price = 100
		}
		prec, ok := demoPrecision[symbol]
		if !ok {
			prec = market.FallbackPrecision
		}
		venue.AddSymbol(market.SymbolInfo{Symbol: symbol, Precision: prec, MinNotional: 5}, price)
		venue.SetCandles(symbol, randomWalk(rng, price, cfg.Trading.KlineLimit, demoVolatility, 5*time.Minute))
	}

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, demoDuration)
	defer cancel()

	go walk(ctx, venue, rng, symbols)

	log.Info("demo starting",
		zap.Strings("symbols", symbols),
		zap.Float64("balance", demoBalance),
		zap.Duration("duration", demoDuration),
		zap.Uint64("seed", seed),
		zap.String("journal", dbPath))

	sup := newSupervisor(cfg, venue, ledger, log)
	sup.OnCycle = func(symbol string, c bot.Cycle, err error) {
		if c.Action == bot.ActionEntered || c.Action == bot.ActionReversed || c.Closed != nil {
			fmt.Printf("%s %-8s %-16s p=%.3f price=%.4f\n",
				time.Now().Format("15:04:05"), symbol, c.Action, c.Probability, c.Price)
		}
	}
	if err := sup.Run(ctx); err != nil {
		return err
	}

	trades, err := ledger.ListRecent(1000)
	if err != nil {
		return err
	}
	s := journal.Summarize(trades)
	fmt.Println()
	fmt.Printf("Final wallet: %.2f %s (start %.2f)\n", venue.Wallet(), cfg.Exchange.QuoteAsset, demoBalance)
	fmt.Printf("Closed trades: %d (wins %d, losses %d), net %.4f, profit factor %.2f\n",
		s.Trades, s.Wins, s.Losses, s.NetPnl, s.ProfitFactor)
	if len(trades) > 0 {
		fmt.Println()
		fmt.Println(journal.FormatTradesOrg(trades))
	}
	return nil
}

// walk moves every symbol one random step per tick until ctx ends.
func walk(ctx context.Context, venue *sim.Engine, rng *rand.Rand, symbols []string) {
	t := time.NewTicker(demoTick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range symbols {
				candles, err := venue.Candles(ctx, s, "", 1)
				if err != nil || len(candles) == 0 {
					continue
				}
				next := step(rng, candles[0].Close, demoVolatility)
				_ = venue.SetPrice(s, next)
			}
		}
	}
}

func step(rng *rand.Rand, price, vol float64) float64 {
	return price * math.Exp(rng.NormFloat64()*vol)
}

// randomWalk builds n candles ending at last.
func randomWalk(rng *rand.Rand, last float64, n int, vol float64, every time.Duration) []market.Candle {
	if n <= 0 {
		n = 300
	}
	closes := make([]float64, n)
	closes[n-1] = last
	for i := n - 2; i >= 0; i-- {
		closes[i] = step(rng, closes[i+1], vol)
	}

	start := time.Now().Add(-time.Duration(n) * every)
	out := make([]market.Candle, n)
	open := closes[0]
	for i, c := range closes {
		hi, lo := math.Max(open, c), math.Min(open, c)
		out[i] = market.Candle{
			Time:   start.Add(time.Duration(i) * every),
			Open:   open,
			High:   hi * (1 + rng.Float64()*vol/2),
			Low:    lo * (1 - rng.Float64()*vol/2),
			Close:  c,
			Volume: 100 + rng.Float64()*900,
		}
		open = c
	}
	return out
}
