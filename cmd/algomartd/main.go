// Command algomartd runs the marketplace settlement daemon: an HTTP API over
// the listing catalog plus a reconciliation pass for journaled settlements.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	algomart "github.com/algomart-labs/algomart-go"
	"github.com/algomart-labs/algomart-go/config"
	"github.com/algomart-labs/algomart-go/httpapi"
	"github.com/algomart-labs/algomart-go/ipfs"
	"github.com/algomart-labs/algomart-go/ledger"
	"github.com/algomart-labs/algomart-go/postgres"
	"github.com/algomart-labs/algomart-go/wallet"
)

func main() {
	root := &cobra.Command{
		Use:   "algomartd",
		Short: "Marketplace settlement daemon for Algorand payments",
	}
	root.AddCommand(serveCmd(), reconcileCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime bundles the wired components shared by the subcommands.
type runtime struct {
	cfg         *config.Config
	log         *zap.Logger
	coordinator *algomart.Coordinator
	store       *postgres.Store
	journal     *postgres.Journal
}

func setup(ctx context.Context) (*runtime, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		log.Sync()
		return nil, nil, err
	}

	node, err := ledger.NewAlgod(cfg.AlgodAddress, cfg.AlgodToken)
	if err != nil {
		pool.Close()
		log.Sync()
		return nil, nil, err
	}

	if cfg.OperatorMnemonic == "" {
		pool.Close()
		log.Sync()
		return nil, nil, fmt.Errorf("OPERATOR_MNEMONIC is required")
	}
	agent, err := wallet.NewLocalAgent(cfg.OperatorMnemonic)
	if err != nil {
		pool.Close()
		log.Sync()
		return nil, nil, err
	}
	manager := wallet.NewManager(agent)
	if _, err := manager.Connect(ctx); err != nil {
		pool.Close()
		log.Sync()
		return nil, nil, err
	}

	store := postgres.NewStore(pool)
	journal := postgres.NewJournal(pool)
	watcher := ledger.NewWatcher(node, log.Named("ledger"))

	coordinator := algomart.NewCoordinator(store, manager, watcher,
		algomart.WithJournal(journal),
		algomart.WithLogger(log.Named("coordinator")),
		algomart.WithTimeoutRounds(cfg.TimeoutRounds),
	)

	cleanup := func() {
		pool.Close()
		log.Sync()
	}
	return &runtime{
		cfg:         cfg,
		log:         log,
		coordinator: coordinator,
		store:       store,
		journal:     journal,
	}, cleanup, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the marketplace HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var opts []httpapi.ServerOption
			if rt.cfg.PinToken != "" {
				pin := ipfs.NewPinner(rt.cfg.PinEndpoint, rt.cfg.PinToken,
					ipfs.WithGateway(rt.cfg.PinGateway))
				opts = append(opts, httpapi.WithPinner(pin))
			}
			server := httpapi.NewServer(rt.store, rt.coordinator, rt.log.Named("http"), opts...)
			rt.log.Info("serving", zap.String("addr", rt.cfg.ListenAddr))

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Run(rt.cfg.ListenAddr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				rt.log.Info("shutting down")
				return nil
			}
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve journaled settlements with unknown or incomplete outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := rt.journal.Pending(ctx)
			if err != nil {
				return err
			}
			rt.log.Info("reconciling", zap.Int("pending", len(entries)))

			var failed int
			for _, entry := range entries {
				result, err := rt.coordinator.ResumeConfirmation(ctx, entry)
				if err != nil {
					failed++
					rt.log.Warn("reconciliation incomplete",
						zap.String("txid", entry.TxID),
						zap.Error(err))
					continue
				}
				rt.log.Info("reconciled",
					zap.String("txid", entry.TxID),
					zap.String("state", string(result.State)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d journal entries still unresolved", failed, len(entries))
			}
			return nil
		},
	}
}
