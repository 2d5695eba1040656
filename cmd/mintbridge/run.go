package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/mintbridge/internal/api"
	"github.com/devblac/mintbridge/internal/config"
	"github.com/devblac/mintbridge/internal/engine"
	"github.com/devblac/mintbridge/internal/ledger"
	"github.com/devblac/mintbridge/internal/logging"
	"github.com/devblac/mintbridge/internal/metrics"
	"github.com/devblac/mintbridge/internal/sink"
	"github.com/devblac/mintbridge/internal/source/evm"
	"github.com/devblac/mintbridge/internal/storage"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagFrom    uint64
	flagMetrics bool
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Process one sweep and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Build transactions but do not submit or notify")
	runCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start scanning from this block (ignores saved cursor on first run)")
	runCmd.Flags().BoolVar(&flagMetrics, "metrics", false, "Expose Prometheus metrics on /metrics")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge relayer",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Store.DirPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		src := cfg.Source
		if flagFrom > 0 {
			src.StartBlock = fmt.Sprintf("%d", flagFrom)
		}
		rpcClient, err := evm.NewRPCClient(src.RPCURL)
		if err != nil {
			return err
		}
		watcher, err := evm.NewWatcher(rpcClient, src.ContractAddress, src.Confirmations, src.MaxBlockRange, src.StartBlock)
		if err != nil {
			return err
		}

		algod, err := ledger.NewClient(cfg.Ledger.AlgodURL, cfg.Ledger.AlgodToken)
		if err != nil {
			return err
		}
		builder, err := ledger.NewBuilder(algod, cfg.Ledger.Mnemonic)
		if err != nil {
			return err
		}
		queryClient := algod
		if cfg.Ledger.QueryURL != cfg.Ledger.AlgodURL {
			queryClient, err = ledger.NewClient(cfg.Ledger.QueryURL, cfg.Ledger.AlgodToken)
			if err != nil {
				return err
			}
		}
		submitter := ledger.NewSubmitter(algod, queryClient)
		log.Info("issuer account loaded", "address", builder.Address())

		sinks, err := buildSinks(cfg.Notifiers)
		if err != nil {
			return err
		}

		var mtr *metrics.Metrics
		var metricsHandler http.Handler
		if flagMetrics {
			mtr = metrics.Init()
			metricsHandler = metrics.Handler()
			log.Info("metrics enabled", "path", "/metrics")
		}

		coord := engine.New(store, watcher, builder, submitter, sinks, mtr, log, engine.Config{
			PollInterval: src.Interval(),
			Workers:      cfg.Workers,
			MaxAttempts:  cfg.Retry.MaxAttempts,
			BaseBackoff:  cfg.Retry.Base(),
			MaxBackoff:   cfg.Retry.Max(),
			DryRun:       flagDryRun,
		})

		apiSrv := api.Serve(cfg.ListenAddr(), api.Deps{
			Store: store,
			RPCPing: func(ctx context.Context) error {
				_, err := rpcClient.HeaderByNumber(ctx, big.NewInt(0))
				return err
			},
			LedgerPing: submitter.Ping,
			Trigger:    coord.Trigger,
			Metrics:    metricsHandler,
			Version:    version,
			Commit:     commit,
		})
		log.Info("api listening", "addr", cfg.ListenAddr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = api.Shutdown(shutdownCtx, apiSrv)
		}()

		if flagOnce {
			if err := coord.Sweep(ctx); err != nil {
				log.Error("sweep error", "error", err)
				return err
			}
			log.Info("sweep complete", "dry_run", flagDryRun)
			return nil
		}

		log.Info("relayer started",
			"contract", src.ContractAddress, "poll_interval", src.Interval(), "dry_run", flagDryRun)
		if err := coord.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func buildSinks(notifiers []config.Notifier) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, n := range notifiers {
		var (
			sender sink.Sender
			err    error
		)
		switch n.Type {
		case "slack":
			sender, err = sink.NewSlackSender(n.WebhookURL, n.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(n.WebhookURL, n.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(n.URL, n.Method, n.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("notifier %s: %w", n.ID, err)
		}
		sinks[n.ID] = sender
	}
	return sinks, nil
}
