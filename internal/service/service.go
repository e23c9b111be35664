package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stablemint/internal/alerting"
	"stablemint/internal/config"
	"stablemint/internal/engine"
	"stablemint/internal/scheduler"
	"stablemint/internal/storage"
	"stablemint/internal/token"
)

// Watcher periodically revalues every open position against live feed
// prices and raises alerts for accounts that drop below the minimum
// health factor.
type Watcher struct {
	scheduler  *scheduler.Scheduler
	valuer     *engine.Valuer
	ledger     storage.LedgerStore
	samples    storage.HealthSampleStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	custody    *token.Caller
	custodyAt  common.Address
	logger     zerolog.Logger

	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	cooldown  time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the position watcher.
func New(cfg *config.Config, sched *scheduler.Scheduler, valuer *engine.Valuer, ledger storage.LedgerStore, samples storage.HealthSampleStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Watcher {
	var locker storage.AdvisoryLocker
	if l, ok := ledger.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Watcher{
		scheduler:  sched,
		valuer:     valuer,
		ledger:     ledger,
		samples:    samples,
		alertStore: alertStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "watcher").Logger(),
		threshold:  decimal.NewFromBigInt(engine.MinHealthFactor(), -18),
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		cooldown:   cfg.Alerting.Cooldown,
		locker:     locker,
		lockKey:    cfg.Watch.AdvisoryLockKey,
	}
}

// SetCustodyReconciler enables an on-chain check of the custody balance
// for each asset against the ledger total.
func (w *Watcher) SetCustodyReconciler(caller *token.Caller, custody common.Address) {
	w.custody = caller
	w.custodyAt = custody
}

// Run begins the aligned scan loop.
func (w *Watcher) Run(ctx context.Context) error {
	if w.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return w.scheduler.Run(ctx, w.ScanBucket)
}

// ScanBucket executes one full scan of the persisted book.
func (w *Watcher) ScanBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := w.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		w.logger.Debug().Time("bucket", bucket).Msg("skip scan because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return w.executeScan(ctx, bucket)
}

type bookEntry struct {
	collateral map[common.Address]*big.Int
	debt       *big.Int
}

func (w *Watcher) executeScan(ctx context.Context, bucket time.Time) error {
	positions, err := w.ledger.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	debts, err := w.ledger.ListDebts(ctx)
	if err != nil {
		return fmt.Errorf("load debts: %w", err)
	}

	book := make(map[common.Address]*bookEntry)
	entry := func(account common.Address) *bookEntry {
		e, ok := book[account]
		if !ok {
			e = &bookEntry{collateral: make(map[common.Address]*big.Int), debt: new(big.Int)}
			book[account] = e
		}
		return e
	}
	for _, row := range positions {
		e := entry(common.HexToAddress(row.Account))
		e.collateral[common.HexToAddress(row.Asset)] = row.Amount.Shift(18).BigInt()
	}
	for _, row := range debts {
		entry(common.HexToAddress(row.Account)).debt = row.Amount.Shift(18).BigInt()
	}

	atRisk := 0
	for account, e := range book {
		if err := w.scanAccount(ctx, bucket, account, e, &atRisk); err != nil {
			w.logger.Error().Err(err).Str("account", account.Hex()).Msg("account scan failed")
		}
	}

	w.logger.Info().Time("bucket", bucket).
		Int("accounts", len(book)).
		Int("at_risk", atRisk).
		Msg("scan complete")

	if w.custody != nil {
		w.reconcileCustody(ctx, positions)
	}
	return nil
}

func (w *Watcher) scanAccount(ctx context.Context, bucket time.Time, account common.Address, e *bookEntry, atRisk *int) error {
	totalUSD := new(big.Int)
	for asset, amount := range e.collateral {
		value, err := w.valuer.Valuation(ctx, asset, amount)
		if err != nil {
			w.recordErrored(ctx, bucket, account, err)
			return fmt.Errorf("value %s: %w", asset.Hex(), err)
		}
		totalUSD.Add(totalUSD, value)
	}

	hf := engine.ComputeHealthFactor(totalUSD, e.debt)

	sample := storage.HealthSample{
		Account:       account.Hex(),
		Bucket:        bucket,
		CollateralUSD: decimal.NewFromBigInt(totalUSD, -18),
		Debt:          decimal.NewFromBigInt(e.debt, -18),
		Status:        storage.SampleStatusOK,
		CreatedAt:     time.Now().UTC(),
	}
	if d, ok := hf.Decimal(); ok {
		sample.HealthFactor = &d
	}
	if !hf.Healthy() {
		sample.Status = storage.SampleStatusAtRisk
		*atRisk++
	}

	if w.samples != nil {
		if err := w.samples.UpsertHealthSample(ctx, sample); err != nil {
			w.logger.Error().Err(err).Str("account", account.Hex()).Msg("failed to upsert health sample")
		}
	}

	if !hf.Healthy() {
		w.raiseAlert(ctx, bucket, account, sample, hf)
	}
	return nil
}

func (w *Watcher) recordErrored(ctx context.Context, bucket time.Time, account common.Address, cause error) {
	if w.samples == nil {
		return
	}
	msg := cause.Error()
	sample := storage.HealthSample{
		Account:   account.Hex(),
		Bucket:    bucket,
		Status:    storage.SampleStatusErrored,
		Error:     &msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.samples.UpsertHealthSample(ctx, sample); err != nil {
		w.logger.Error().Err(err).Str("account", account.Hex()).Msg("failed to record errored sample")
	}
}

func (w *Watcher) raiseAlert(ctx context.Context, bucket time.Time, account common.Address, sample storage.HealthSample, hf engine.HealthFactor) {
	if !w.alertsOn || w.notifier == nil {
		return
	}
	if w.alertStore != nil && w.cooldown > 0 {
		last, found, err := w.alertStore.LastAlertForAccount(ctx, account.Hex())
		if err != nil {
			w.logger.Error().Err(err).Str("account", account.Hex()).Msg("failed to load last alert")
		} else if found && bucket.Sub(last.CreatedAt) < w.cooldown {
			w.logger.Debug().Str("account", account.Hex()).Msg("alert suppressed by cooldown")
			return
		}
	}

	factor, _ := hf.Decimal()
	if w.alertStore != nil {
		record := storage.AlertRecord{
			Account:      account.Hex(),
			SampleTS:     bucket,
			HealthFactor: factor,
			Threshold:    w.threshold,
			Channels:     w.channels,
		}
		if _, err := w.alertStore.InsertAlert(ctx, record); err != nil {
			w.logger.Error().Err(err).Str("account", account.Hex()).Msg("failed to persist alert record")
		}
	}

	note := alerting.Notification{
		Account:       account.Hex(),
		SampleTS:      bucket,
		CollateralUSD: sample.CollateralUSD,
		Debt:          sample.Debt,
		HealthFactor:  factor,
		Threshold:     w.threshold,
		Channels:      w.channels,
	}
	if err := w.notifier.Notify(ctx, note); err != nil {
		w.logger.Error().Err(err).Str("account", account.Hex()).Msg("failed to dispatch alert")
	}
}

// reconcileCustody compares the on-chain custody balance of each asset
// against the ledger total and logs any mismatch.
func (w *Watcher) reconcileCustody(ctx context.Context, positions []storage.PositionRow) {
	totals := make(map[common.Address]*big.Int)
	for _, row := range positions {
		asset := common.HexToAddress(row.Asset)
		if totals[asset] == nil {
			totals[asset] = new(big.Int)
		}
		totals[asset].Add(totals[asset], row.Amount.Shift(18).BigInt())
	}

	for asset, want := range totals {
		held, err := w.custody.BalanceOf(ctx, asset, w.custodyAt)
		if err != nil {
			w.logger.Error().Err(err).Str("asset", asset.Hex()).Msg("custody balance query failed")
			continue
		}
		if held.Cmp(want) < 0 {
			w.logger.Warn().
				Str("asset", asset.Hex()).
				Str("ledger", want.String()).
				Str("custody", held.String()).
				Msg("custody holds less than the ledger total")
		}
	}
}

func (w *Watcher) acquireLock(ctx context.Context) (func(), bool, error) {
	if w.lockKey == 0 || w.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := w.locker.TryAdvisoryLock(ctx, w.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
