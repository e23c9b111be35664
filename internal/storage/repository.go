package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPositionSQL = `INSERT INTO positions (
        account,
        asset,
        amount,
        updated_at
    ) VALUES (
        $1,$2,$3,NOW()
    )
    ON CONFLICT (account, asset) DO UPDATE
    SET amount     = EXCLUDED.amount,
        updated_at = NOW();`

	listPositionsSQL = `SELECT account, asset, amount, updated_at
    FROM positions
    WHERE amount > 0
    ORDER BY account, asset;`

	upsertDebtSQL = `INSERT INTO debts (
        account,
        amount,
        updated_at
    ) VALUES (
        $1,$2,NOW()
    )
    ON CONFLICT (account) DO UPDATE
    SET amount     = EXCLUDED.amount,
        updated_at = NOW();`

	listDebtsSQL = `SELECT account, amount, updated_at
    FROM debts
    WHERE amount > 0
    ORDER BY account;`

	insertOperationSQL = `INSERT INTO operations (
        kind,
        account,
        asset,
        amount,
        health_factor
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	listRecentOperationsSQL = `SELECT
        id,
        kind,
        account,
        asset,
        amount,
        health_factor,
        created_at
    FROM operations
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	upsertHealthSampleSQL = `INSERT INTO health_samples (
        account,
        bucket_ts,
        collateral_usd,
        debt,
        health_factor,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (account, bucket_ts) DO UPDATE
    SET collateral_usd = EXCLUDED.collateral_usd,
        debt           = EXCLUDED.debt,
        health_factor  = EXCLUDED.health_factor,
        status         = EXCLUDED.status,
        error          = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        account,
        bucket_ts,
        collateral_usd,
        debt,
        health_factor,
        status,
        error,
        created_at
    FROM health_samples
    WHERE account = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        account,
        bucket_ts,
        collateral_usd,
        debt,
        health_factor,
        status,
        error,
        created_at
    FROM health_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO alerts (
        account,
        sample_ts,
        health_factor,
        threshold,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (account, sample_ts) DO UPDATE
    SET health_factor = EXCLUDED.health_factor,
        threshold     = EXCLUDED.threshold,
        channels      = EXCLUDED.channels
    RETURNING id, account, sample_ts, health_factor, threshold, channels, created_at;`

	lastAlertForAccountSQL = `SELECT
        id,
        account,
        sample_ts,
        health_factor,
        threshold,
        channels,
        created_at
    FROM alerts
    WHERE account = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT
        id,
        account,
        sample_ts,
        health_factor,
        threshold,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// LedgerStore defines persistence for the position and debt snapshots.
type LedgerStore interface {
	UpsertPosition(ctx context.Context, row PositionRow) error
	ListPositions(ctx context.Context) ([]PositionRow, error)
	UpsertDebt(ctx context.Context, row DebtRow) error
	ListDebts(ctx context.Context) ([]DebtRow, error)
}

// OperationStore defines persistence for the operation journal.
type OperationStore interface {
	InsertOperation(ctx context.Context, op OperationRecord) (int64, error)
	ListRecentOperations(ctx context.Context, limit int) ([]OperationRecord, error)
}

// HealthSampleStore defines persistence for scan observations.
type HealthSampleStore interface {
	UpsertHealthSample(ctx context.Context, sample HealthSample) error
	ListSamplesBetween(ctx context.Context, account string, from, to time.Time) ([]HealthSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]HealthSample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	LastAlertForAccount(ctx context.Context, account string) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to positions, debts, samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPosition persists or updates one collateral balance.
func (s *Store) UpsertPosition(ctx context.Context, row PositionRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertPositionSQL, row.Account, row.Asset, row.Amount.String()); execErr != nil {
		return fmt.Errorf("upsert position: %w", execErr)
	}
	return nil
}

// ListPositions lists every open collateral balance.
func (s *Store) ListPositions(ctx context.Context) ([]PositionRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPositionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list positions: %w", queryErr)
	}
	defer rows.Close()

	positions := make([]PositionRow, 0)
	for rows.Next() {
		var (
			row       PositionRow
			amountStr string
		)
		if err := rows.Scan(&row.Account, &row.Asset, &amountStr, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse position amount: %w", err)
		}
		positions = append(positions, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return positions, nil
}

// UpsertDebt persists or updates one account's outstanding debt.
func (s *Store) UpsertDebt(ctx context.Context, row DebtRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertDebtSQL, row.Account, row.Amount.String()); execErr != nil {
		return fmt.Errorf("upsert debt: %w", execErr)
	}
	return nil
}

// ListDebts lists every account with outstanding debt.
func (s *Store) ListDebts(ctx context.Context) ([]DebtRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDebtsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list debts: %w", queryErr)
	}
	defer rows.Close()

	debts := make([]DebtRow, 0)
	for rows.Next() {
		var (
			row       DebtRow
			amountStr string
		)
		if err := rows.Scan(&row.Account, &amountStr, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse debt amount: %w", err)
		}
		debts = append(debts, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return debts, nil
}

// InsertOperation appends one journaled operation and returns its id.
func (s *Store) InsertOperation(ctx context.Context, op OperationRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var asset interface{}
	if op.Asset != nil {
		asset = *op.Asset
	}
	var hf interface{}
	if op.HealthFactor != nil {
		hf = op.HealthFactor.String()
	}

	var id int64
	row := pool.QueryRow(ctx, insertOperationSQL, op.Kind, op.Account, asset, op.Amount.String(), hf)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert operation: %w", scanErr)
	}
	return id, nil
}

// ListRecentOperations lists the most recent journal entries.
func (s *Store) ListRecentOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOperationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent operations: %w", queryErr)
	}
	defer rows.Close()

	ops := make([]OperationRecord, 0, limit)
	for rows.Next() {
		var (
			op        OperationRecord
			asset     sql.NullString
			amountStr string
			hf        sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.Kind, &op.Account, &asset, &amountStr, &hf, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse operation amount: %w", err)
		}
		if asset.Valid {
			value := asset.String
			op.Asset = &value
		}
		if hf.Valid {
			parsed, convErr := decimal.NewFromString(hf.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse health factor: %w", convErr)
			}
			op.HealthFactor = &parsed
		}
		ops = append(ops, op)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ops, nil
}

// UpsertHealthSample persists or updates a scan observation.
func (s *Store) UpsertHealthSample(ctx context.Context, sample HealthSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var hf interface{}
	if sample.HealthFactor != nil {
		hf = sample.HealthFactor.String()
	}
	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertHealthSampleSQL,
		sample.Account,
		sample.Bucket,
		sample.CollateralUSD.String(),
		sample.Debt.String(),
		hf,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert health sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one account's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, account string, from, to time.Time) ([]HealthSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, account, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]HealthSample, 0)
	for rows.Next() {
		sample, scanErr := scanHealthSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]HealthSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]HealthSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanHealthSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Account,
		alert.SampleTS,
		alert.HealthFactor.String(),
		alert.Threshold.String(),
		alert.Channels,
	)
	return scanAlertRow(row)
}

// LastAlertForAccount returns the most recent alert for one account.
func (s *Store) LastAlertForAccount(ctx context.Context, account string) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	row := pool.QueryRow(ctx, lastAlertForAccountSQL, account)
	rec, scanErr := scanAlertRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return AlertRecord{}, false, nil
		}
		return AlertRecord{}, false, scanErr
	}
	return rec, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanHealthSample(rows pgx.Rows) (HealthSample, error) {
	var (
		sample        HealthSample
		collateralStr string
		debtStr       string
		hf            sql.NullString
		errMsg        sql.NullString
	)

	if err := rows.Scan(
		&sample.Account,
		&sample.Bucket,
		&collateralStr,
		&debtStr,
		&hf,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return HealthSample{}, err
	}

	var err error
	sample.CollateralUSD, err = decimal.NewFromString(collateralStr)
	if err != nil {
		return HealthSample{}, fmt.Errorf("parse collateral value: %w", err)
	}
	sample.Debt, err = decimal.NewFromString(debtStr)
	if err != nil {
		return HealthSample{}, fmt.Errorf("parse debt: %w", err)
	}
	if hf.Valid {
		parsed, convErr := decimal.NewFromString(hf.String)
		if convErr != nil {
			return HealthSample{}, fmt.Errorf("parse health factor: %w", convErr)
		}
		sample.HealthFactor = &parsed
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

func scanAlertRow(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		hfStr        string
		thresholdStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Account,
		&rec.SampleTS,
		&hfStr,
		&thresholdStr,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.HealthFactor, convErr = decimal.NewFromString(hfStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse health factor: %w", convErr)
	}
	rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", convErr)
	}
	return rec, nil
}
