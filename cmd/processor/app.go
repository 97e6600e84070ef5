package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/api"
	"pix_processor/internal/audit"
	"pix_processor/internal/config"
	"pix_processor/internal/domain"
	"pix_processor/internal/keys"
	"pix_processor/internal/limits"
	"pix_processor/internal/network"
	"pix_processor/internal/processor"
	"pix_processor/internal/reconciler"
	"pix_processor/internal/repository"
	"pix_processor/internal/repository/memory"
	"pix_processor/internal/repository/postgres"
	"pix_processor/internal/service"
	"pix_processor/pkg/crypto"
	"pix_processor/pkg/metrics"
)

// app holds every wired component of one process.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	store         repository.Store
	closeStore    func() error
	metrics       *metrics.MetricsCollector
	notifications *service.NotificationService
	simulator     *network.Simulator
	keys          *keys.Directory
	limits        *limits.Ledger
	fraud         *processor.FraudDetector
	chain         *audit.Chain
	processor     *processor.TransactionProcessor
	reconciler    *reconciler.Reconciler
	webhookSigner *crypto.Signer
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, closeStore: func() error { return nil }}

	if cfg.Database.DSN != "" {
		store, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.store, a.closeStore = store, store.Close
		logger.Info("Using PostgreSQL store")
	} else {
		a.store = memory.NewStore()
		logger.Warn("No database configured, using in-memory store")
	}

	if err := a.seedAccounts(ctx); err != nil {
		a.closeStore()
		return nil, err
	}
	if err := a.installRules(ctx); err != nil {
		a.closeStore()
		return nil, err
	}

	loc := cfg.Location()
	perTx, daily, nightly, monthly := cfg.LimitDefaults()

	a.metrics = metrics.NewMetricsCollector(logger)
	sender := service.LogSender{Logger: logger}
	a.notifications = service.NewNotificationService(sender, sender, sender, sender, cfg.Notifications.Workers, logger)
	a.webhookSigner = crypto.NewSigner(cfg.Webhook.Secret, logger)

	a.limits = limits.NewLedger(a.store, logger,
		limits.WithLocation(loc),
		limits.WithDefaults(limits.Defaults{PerTransaction: perTx, Daily: daily, Nightly: nightly, Monthly: monthly}))
	a.chain = audit.NewChain(a.store, crypto.NewSigner(cfg.Audit.Secret, logger), logger)
	a.reconciler = reconciler.NewReconciler(a.store, a.limits, a.chain, logger,
		reconciler.WithMaxAttempts(cfg.Reconciler.MaxAttempts),
		reconciler.WithNotifier(a.notifications),
		reconciler.WithMetrics(a.metrics))

	var (
		adapter network.Adapter
		lookup  network.KeyLookup
	)
	if cfg.Settlement.GatewayURL != "" {
		client := network.NewHTTPClient(cfg.Settlement.GatewayURL, cfg.Settlement.Timeout, logger)
		adapter, lookup = client, client
	} else {
		a.simulator = network.NewSimulator(logger,
			network.WithDecision(pendingShare(cfg.Settlement.PendingRatio)),
			network.WithEventSink(a.reconciler, cfg.Settlement.ConfirmAfter))
		adapter, lookup = a.simulator, a.simulator
		logger.Warn("No settlement gateway configured, using simulated network")
	}

	a.keys = keys.NewDirectory(a.store, lookup, logger,
		keys.WithMaxKeys(cfg.Keys.MaxPerOwner),
		keys.WithBankName(cfg.Keys.BankName))
	a.fraud = processor.NewFraudDetector(a.store, logger,
		processor.WithAlertNotifier(a.notifications),
		processor.WithDetectorMetrics(a.metrics),
		processor.WithDetectorLocation(loc))
	a.processor = processor.NewTransactionProcessor(processor.Dependencies{
		Store:   a.store,
		Keys:    a.keys,
		Limits:  a.limits,
		Fraud:   a.fraud,
		Audit:   a.chain,
		Network: adapter,
	}, logger,
		processor.WithTransferNotifier(a.notifications),
		processor.WithMetrics(a.metrics),
		processor.WithSettlementTimeout(cfg.Settlement.Timeout))

	return a, nil
}

// pendingShare answers a fraction of orders as pending so the webhook path
// is exercised in development.
func pendingShare(ratio float64) func(network.SettlementRequest) network.SettlementResult {
	return func(network.SettlementRequest) network.SettlementResult {
		if ratio > 0 && rand.Float64() < ratio {
			return network.SettlementResult{Success: true, Pending: true}
		}
		return network.SettlementResult{Success: true}
	}
}

func (a *app) seedAccounts(ctx context.Context) error {
	for _, seed := range a.cfg.Accounts {
		_, err := a.store.Accounts().GetByID(ctx, seed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check seed account %s: %w", seed.ID, err)
		}

		balance := decimal.Zero
		if seed.Balance != "" {
			balance = decimal.RequireFromString(seed.Balance)
		}
		now := time.Now().UTC()
		account := &domain.Account{
			ID:        seed.ID,
			OwnerID:   seed.OwnerID,
			OwnerName: seed.OwnerName,
			Balance:   balance,
			Currency:  domain.DefaultCurrency,
			Status:    domain.AccountActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.store.Accounts().Save(ctx, account); err != nil {
			return fmt.Errorf("failed to seed account %s: %w", seed.ID, err)
		}
		a.logger.Info("Seeded account",
			slog.String("account_id", seed.ID),
			slog.String("owner_id", seed.OwnerID))
	}
	return nil
}

func (a *app) installRules(ctx context.Context) error {
	rules := processor.DefaultRules()
	if path := a.cfg.Fraud.RulesFile; path != "" {
		set, err := processor.LoadRuleSetFile(path)
		if err != nil {
			return fmt.Errorf("failed to load fraud rules: %w", err)
		}
		rules = set.Rules
	}

	added, err := processor.InstallRules(ctx, a.store.Rules(), rules)
	if err != nil {
		return fmt.Errorf("failed to install fraud rules: %w", err)
	}
	a.logger.Info("Fraud rules installed", slog.Int("added", added), slog.Int("configured", len(rules)))
	return nil
}

func (a *app) apiHandler() *api.APIHandler {
	return api.NewAPIHandler(api.Services{
		Transfers:  a.processor,
		Keys:       a.keys,
		Limits:     a.limits,
		Fraud:      a.fraud,
		Audit:      a.chain,
		Reconciler: a.reconciler,
		Signer:     a.webhookSigner,
	}, a.logger)
}

// close drains background work, then releases the store.
func (a *app) close(ctx context.Context) {
	if a.simulator != nil {
		a.simulator.Wait()
	}
	if err := a.notifications.Shutdown(ctx); err != nil {
		a.logger.Error("Notification service shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.closeStore(); err != nil {
		a.logger.Error("Store close failed", slog.String("error", err.Error()))
	}
}
