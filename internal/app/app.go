package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"stablemint/internal/alerting"
	"stablemint/internal/config"
	"stablemint/internal/engine"
	"stablemint/internal/oracle"
	"stablemint/internal/scheduler"
	"stablemint/internal/service"
	"stablemint/internal/storage"
	"stablemint/internal/token"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newValuer wires one guarded Chainlink feed per configured asset.
func (a *App) newValuer() (*engine.Valuer, error) {
	assets := a.Config.Engine.Assets
	if len(assets) == 0 {
		return nil, errors.New("engine.assets not configured")
	}

	tokens := make([]common.Address, 0, len(assets))
	guards := make([]*oracle.Guard, 0, len(assets))
	for _, asset := range assets {
		feed := oracle.NewChainlinkFeed(oracle.ChainlinkOptions{
			RPCURL:      a.Config.Ethereum.RPCURL,
			FeedAddress: asset.PriceFeed,
			Timeout:     a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
		tokens = append(tokens, common.HexToAddress(asset.Address))
		guards = append(guards, oracle.NewGuard(feed, a.Logger))
	}

	registry, err := engine.NewRegistry(tokens, guards)
	if err != nil {
		return nil, err
	}
	return engine.NewValuer(registry), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running position watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the watcher needs the persisted book")
	}
	defer closeStore()

	valuer, err := a.newValuer()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Watch.Interval,
		AlignToStart: a.Config.Watch.AlignToBucket,
		StartupDelay: a.Config.Watch.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()

	watcher := service.New(a.Config, sched, valuer, store, store, store, notifier, a.Logger)

	if a.Config.Engine.Custody != "" && a.Config.Ethereum.RPCURL != "" {
		caller := token.NewCaller(token.CallerOptions{
			RPCURL:  a.Config.Ethereum.RPCURL,
			Timeout: a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
		watcher.SetCustodyReconciler(caller, common.HexToAddress(a.Config.Engine.Custody))
	}

	a.Logger.Info().Msg("starting position watcher")
	err = watcher.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("position watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Account   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	Operations bool
}
