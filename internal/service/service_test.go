package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stablemint/internal/alerting"
	"stablemint/internal/config"
	"stablemint/internal/engine"
	"stablemint/internal/oracle"
	"stablemint/internal/storage"
)

var (
	wethAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	riskyAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	safeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type stubFeed struct {
	price *big.Int
}

func (f *stubFeed) LatestRoundData(ctx context.Context) (oracle.RoundData, error) {
	now := big.NewInt(time.Now().Unix())
	return oracle.RoundData{
		RoundID:         big.NewInt(1),
		Price:           new(big.Int).Set(f.price),
		StartedAt:       now,
		UpdatedAt:       now,
		AnsweredInRound: big.NewInt(1),
		Decimals:        8,
	}, nil
}

type stubLedger struct {
	positions []storage.PositionRow
	debts     []storage.DebtRow
}

func (l *stubLedger) UpsertPosition(ctx context.Context, row storage.PositionRow) error { return nil }
func (l *stubLedger) ListPositions(ctx context.Context) ([]storage.PositionRow, error) {
	return l.positions, nil
}
func (l *stubLedger) UpsertDebt(ctx context.Context, row storage.DebtRow) error { return nil }
func (l *stubLedger) ListDebts(ctx context.Context) ([]storage.DebtRow, error) {
	return l.debts, nil
}

type stubSamples struct {
	samples []storage.HealthSample
}

func (s *stubSamples) UpsertHealthSample(ctx context.Context, sample storage.HealthSample) error {
	s.samples = append(s.samples, sample)
	return nil
}
func (s *stubSamples) ListSamplesBetween(ctx context.Context, account string, from, to time.Time) ([]storage.HealthSample, error) {
	return nil, nil
}
func (s *stubSamples) ListRecentSamples(ctx context.Context, limit int) ([]storage.HealthSample, error) {
	return nil, nil
}

type stubAlerts struct {
	inserted []storage.AlertRecord
	last     *storage.AlertRecord
}

func (a *stubAlerts) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	a.inserted = append(a.inserted, alert)
	return alert, nil
}
func (a *stubAlerts) LastAlertForAccount(ctx context.Context, account string) (storage.AlertRecord, bool, error) {
	if a.last == nil || a.last.Account != account {
		return storage.AlertRecord{}, false, nil
	}
	return *a.last, true, nil
}
func (a *stubAlerts) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return a.inserted, nil
}
func (a *stubAlerts) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error { return nil }

type stubNotifier struct {
	notes []alerting.Notification
}

func (n *stubNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

func newTestWatcher(t *testing.T, price *big.Int, ledger *stubLedger, alerts *stubAlerts) (*Watcher, *stubSamples, *stubNotifier) {
	t.Helper()

	guard := oracle.NewGuard(&stubFeed{price: price}, zerolog.Nop())
	registry, err := engine.NewRegistry([]common.Address{wethAddr}, []*oracle.Guard{guard})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.Channels = []string{"telegram"}
	cfg.Alerting.Cooldown = 30 * time.Minute

	samples := &stubSamples{}
	notifier := &stubNotifier{}
	w := New(cfg, nil, engine.NewValuer(registry), ledger, samples, alerts, notifier, zerolog.Nop())
	return w, samples, notifier
}

func TestScanFlagsUnhealthyAccount(t *testing.T) {
	ledger := &stubLedger{
		positions: []storage.PositionRow{
			{Account: riskyAddr.Hex(), Asset: wethAddr.Hex(), Amount: decimal.NewFromInt(10)},
			{Account: safeAddr.Hex(), Asset: wethAddr.Hex(), Amount: decimal.NewFromInt(10)},
		},
		debts: []storage.DebtRow{
			{Account: riskyAddr.Hex(), Amount: decimal.NewFromInt(100)},
			{Account: safeAddr.Hex(), Amount: decimal.NewFromInt(10)},
		},
	}
	alerts := &stubAlerts{}
	w, samples, notifier := newTestWatcher(t, big.NewInt(18e8), ledger, alerts)

	bucket := time.Now().UTC().Truncate(time.Minute)
	if err := w.ScanBucket(context.Background(), bucket); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(samples.samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples.samples))
	}
	byAccount := make(map[string]storage.HealthSample)
	for _, s := range samples.samples {
		byAccount[s.Account] = s
	}

	risky := byAccount[riskyAddr.Hex()]
	if risky.Status != storage.SampleStatusAtRisk {
		t.Fatalf("risky status = %q", risky.Status)
	}
	if risky.HealthFactor == nil || !risky.HealthFactor.Equal(decimal.RequireFromString("0.9")) {
		t.Fatalf("risky health factor = %v", risky.HealthFactor)
	}

	safe := byAccount[safeAddr.Hex()]
	if safe.Status != storage.SampleStatusOK {
		t.Fatalf("safe status = %q", safe.Status)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Account != riskyAddr.Hex() {
		t.Fatalf("alert account = %s", notifier.notes[0].Account)
	}
	if len(alerts.inserted) != 1 {
		t.Fatalf("expected 1 persisted alert, got %d", len(alerts.inserted))
	}
}

func TestScanRespectsAlertCooldown(t *testing.T) {
	ledger := &stubLedger{
		positions: []storage.PositionRow{
			{Account: riskyAddr.Hex(), Asset: wethAddr.Hex(), Amount: decimal.NewFromInt(10)},
		},
		debts: []storage.DebtRow{
			{Account: riskyAddr.Hex(), Amount: decimal.NewFromInt(100)},
		},
	}
	bucket := time.Now().UTC().Truncate(time.Minute)
	alerts := &stubAlerts{last: &storage.AlertRecord{
		Account:   riskyAddr.Hex(),
		CreatedAt: bucket.Add(-time.Minute),
	}}
	w, _, notifier := newTestWatcher(t, big.NewInt(18e8), ledger, alerts)

	if err := w.ScanBucket(context.Background(), bucket); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("cooldown must suppress the alert, got %d", len(notifier.notes))
	}
}

func TestScanDebtWithoutCollateral(t *testing.T) {
	ledger := &stubLedger{
		debts: []storage.DebtRow{
			{Account: riskyAddr.Hex(), Amount: decimal.NewFromInt(5)},
		},
	}
	alerts := &stubAlerts{}
	w, samples, notifier := newTestWatcher(t, big.NewInt(2000e8), ledger, alerts)

	bucket := time.Now().UTC().Truncate(time.Minute)
	if err := w.ScanBucket(context.Background(), bucket); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(samples.samples) != 1 || samples.samples[0].Status != storage.SampleStatusAtRisk {
		t.Fatalf("uncollateralised debt must be at risk: %+v", samples.samples)
	}
	if samples.samples[0].HealthFactor == nil || !samples.samples[0].HealthFactor.IsZero() {
		t.Fatalf("health factor should be zero, got %v", samples.samples[0].HealthFactor)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.notes))
	}
}
