// Command triarb runs the triangular-arbitrage engine: it wires the
// market-data ingestion plane, the triangle catalog, the wallet, the
// scanner, the simulator/executor pair, the CSV log sinks, and the
// read-only introspection API into one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chonky-labs/triarb/api"
	"github.com/chonky-labs/triarb/internal/config"
	"github.com/chonky-labs/triarb/internal/secrets"
	"github.com/chonky-labs/triarb/pkg/catalog"
	"github.com/chonky-labs/triarb/pkg/executor"
	"github.com/chonky-labs/triarb/pkg/logsink"
	"github.com/chonky-labs/triarb/pkg/marketdata"
	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/scanner"
	"github.com/chonky-labs/triarb/pkg/simulator"
	"github.com/chonky-labs/triarb/pkg/types"
	"github.com/chonky-labs/triarb/pkg/wallet"
)

var (
	cfgFile      string
	liveFlag     bool
	exportCycles string
	logger       *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "triarb",
		Short: "Triangular arbitrage scanning and execution engine",
		Long:  "Scans a directed asset graph for profitable three-leg cycles and executes them, in dry-run or live mode.",
		Run:   run,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&liveFlag, "live", false, "override config: enable live order placement")
	rootCmd.PersistentFlags().StringVar(&exportCycles, "export-cycles", "", "rescore every triangle once, write results to the given CSV path, then exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) {
	logger = logrus.New()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if cmd.Flags().Changed("live") {
		cfg.Live = liveFlag
	}

	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	log := logger.WithField("component", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	products, err := loadCatalogProducts(cfg.Executor.BaseURL, cfg.PairsFile, log)
	if err != nil {
		log.WithError(err).Fatal("failed to load product catalog")
	}
	cat, err := catalog.Build(products)
	if err != nil {
		log.WithError(err).Fatal("failed to build triangle catalog")
	}
	log.WithField("triangles", len(cat.Triangles())).Info("catalog built")

	store := orderbook.NewStore()

	w := wallet.New()
	if err := w.Load(cfg.Wallet.Path); err != nil {
		log.WithError(err).Warn("no existing wallet state, starting from configured initial balances")
	}
	for assetStr, amountStr := range cfg.WalletInit {
		w.SetBalance(types.Asset(assetStr), config.MustDecimal(amountStr))
	}

	limiter := executor.NewRateLimiter(cfg.Executor.MaxRequestsPerMinute, cfg.Executor.MaxOrdersPerSecond)

	var exec simulator.Executor
	var accountSync *executor.AccountSync
	if cfg.Live {
		creds, err := resolveCredentials(ctx, cfg, log)
		if err != nil {
			log.WithError(err).Fatal("failed to resolve venue credentials for live mode")
		}
		realCfg := executor.RealConfig{
			APIKey:     creds.APIKey,
			SecretKey:  creds.SecretKey,
			BaseURL:    cfg.Executor.BaseURL,
			RecvWindow: cfg.Executor.RecvWindowMs,
		}
		realExec := executor.NewRealExecutor(realCfg, store, limiter, log.WithField("component", "executor"))
		exec = realExec
		accountSync = executor.NewAccountSync(realCfg, w, cfg.Executor.AccountSyncInterval(), log.WithField("component", "accountsync"))
	} else {
		dryCfg := executor.DryConfig{
			BaseLatency:    cfg.Executor.DryBaseLatency(),
			PTransientFail: cfg.Executor.DryPTransientFail,
			FillRatio:      config.MustDecimal(cfg.Executor.DryFillRatio),
			SlippageBps:    config.MustDecimal(cfg.Executor.DrySlippageBps),
			MockPrice:      config.MustDecimal(cfg.Executor.DryMockPrice),
		}
		exec = executor.NewDryExecutor(store, limiter, dryCfg, log.WithField("component", "executor"))
	}

	sinks, err := logsink.Open(logsink.Paths{
		SimLog:           cfg.Logs.SimLog,
		LegLog:           cfg.Logs.LegLog,
		ScanLog:          cfg.Logs.ScanLog,
		FailLog:          cfg.Logs.FailLog,
		ProfitableCycles: cfg.Logs.ProfitableCycles,
	}, log.WithField("component", "logsink"))
	if err != nil {
		log.WithError(err).Fatal("failed to open log sinks")
	}
	defer sinks.Close()

	trades := api.NewRecentTrades(200)
	tradeSink := &recordingTradeSink{sinks: sinks, trades: trades}

	simCfg := simulator.Config{
		Fee:                 config.MustDecimal(cfg.Fee),
		SlippageTolerance:   config.MustDecimal(cfg.Slippage),
		MinFillRatio:        config.MustDecimal(cfg.MinFill),
		MaxFractionPerTrade: config.MustDecimal(cfg.MaxFractionPerTrade),
		MinProfitUSDT:       config.MustDecimal(cfg.MinProfitUSDT),
		Live:                cfg.Live,
	}
	sim := simulator.New(w, exec, tradeSink, log.WithField("component", "simulator"), simCfg, cat)

	threshold, _ := config.MustDecimal(cfg.Threshold).Float64()
	scanCfg := scanner.Config{
		TopNPerSymbol:      cfg.Scanner.TopNPerSymbol,
		WorkerPoolSize:     cfg.Scanner.WorkerPoolSize,
		Fee:                config.MustDecimal(cfg.Fee),
		MinProfitThreshold: threshold,
		MinProfitUSDT:      config.MustDecimal(cfg.MinProfitUSDT),
		CooldownSeconds:    cfg.Scanner.Cooldown(),
		FailWindowSeconds:  cfg.Scanner.FailWindow(),
		MaxFailsInWindow:   cfg.Scanner.MaxFailsInWindow,
	}
	sc := scanner.New(cat, store, sim, tradeSink, log.WithField("component", "scanner"), scanCfg)
	defer sc.Close()

	if exportCycles != "" {
		runExportCycles(sc, threshold, exportCycles, cfg, log)
		return
	}

	notify := make(chan types.Symbol, 4096)
	mdCfg := marketdata.Config{
		BaseURL:           marketDataURL(cfg.Executor.BaseURL, cfg.MarketData.BaseURL),
		MaxSymbolsPerConn: cfg.MarketData.MaxSymbolsPerConn,
		DepthLevels:       cfg.MarketData.DepthLevels,
		CadenceMs:         cfg.MarketData.CadenceMs,
		InitialBackoff:    cfg.MarketData.InitialBackoff(),
		MaxBackoff:        cfg.MarketData.MaxBackoff(),
		StalenessWindow:   cfg.MarketData.Staleness(),
		WatchdogInterval:  cfg.MarketData.WatchdogInterval(),
	}
	plane := marketdata.New(store, notify, mdCfg, log.WithField("component", "marketdata"))
	plane.Start(ctx, cat.Symbols())

	go sc.Run(ctx, notify)

	if accountSync != nil {
		go accountSync.Run(ctx)
	}

	apiServer := api.NewServer(w, sc, trades, log.WithField("component", "api"), fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			log.WithError(err).Error("API server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.WithFields(logrus.Fields{"live": cfg.Live, "port": cfg.Server.Port}).Info("triarb is running, press Ctrl+C to stop")

	<-sigChan
	log.Info("received shutdown signal")

	cancel()
	if err := w.Save(cfg.Wallet.Path); err != nil {
		log.WithError(err).Error("failed to persist wallet state on shutdown")
	}
	log.Info("triarb stopped")
}

// runExportCycles rescores every triangle once and writes the ranked
// results to path, per SPEC_FULL.md's --export-cycles CLI flow. The other
// four CSV sinks are opened at their configured default locations since
// logsink.Open manages all five as one lifecycle.
func runExportCycles(sc *scanner.Scanner, minProfitPct float64, path string, cfg *config.Config, log *logrus.Entry) {
	ranked := sc.RescoreAllConcurrently(minProfitPct)

	cycles := make([]logsink.ProfitableCycle, 0, len(ranked))
	for i, r := range ranked {
		symbols := r.Triangle.Symbols()
		legPath := fmt.Sprintf("%s>%s>%s", symbols[0], symbols[1], symbols[2])
		cycles = append(cycles, logsink.ProfitableCycle{Rank: i + 1, TriangleID: r.Triangle.ID, ProfitPct: r.ProfitPct, Path: legPath})
	}

	sinks, err := logsink.Open(logsink.Paths{
		SimLog:           cfg.Logs.SimLog,
		LegLog:           cfg.Logs.LegLog,
		ScanLog:          cfg.Logs.ScanLog,
		FailLog:          cfg.Logs.FailLog,
		ProfitableCycles: path,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open export-cycles output file")
	}
	defer sinks.Close()

	sinks.LogProfitableCycles(time.Now(), cycles)
	log.WithFields(logrus.Fields{"count": len(cycles), "path": path}).Info("exported ranked cycles")
}

func resolveCredentials(ctx context.Context, cfg *config.Config, log *logrus.Entry) (secrets.Credentials, error) {
	if cfg.GCP.UseSecrets {
		provider, err := secrets.NewGCPProvider(ctx, cfg.GCP.ProjectID, secrets.DefaultGCPSecretNames(), log)
		if err != nil {
			return secrets.Credentials{}, fmt.Errorf("build GCP credential provider: %w", err)
		}
		defer provider.Close()
		return provider.Resolve(ctx)
	}

	provider := &secrets.LocalFileProvider{
		PassphrasePath: cfg.Credentials.PassphraseFile,
		KeysPath:       cfg.Credentials.EncryptedKeysFile,
	}
	return provider.Resolve(ctx)
}

// marketDataURL returns the configured marketData.baseURL, falling back to
// the REST base URL when unset. The fallback is returned unchanged: no
// scheme or host translation to a streaming endpoint is applied.
func marketDataURL(restBaseURL, configuredMarketDataURL string) string {
	if configuredMarketDataURL != "" {
		return configuredMarketDataURL
	}
	return restBaseURL
}
