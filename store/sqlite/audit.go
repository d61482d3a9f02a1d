package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// AUDIT LOOKUPS (settlement.AuditStore interface)
// =============================================================================

func (r *queries) GetPayment(ctx context.Context, id settlement.PaymentID) (settlement.Payment, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, shop_id, payer_type, payee_type, amount, status, created_at
		FROM payments WHERE id = ?
	`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Payment{}, settlement.ErrPaymentNotFound
	}
	return p, err
}

func (r *queries) ListShopPayments(ctx context.Context, shopID settlement.ShopID) ([]settlement.Payment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, shop_id, payer_type, payee_type, amount, status, created_at
		FROM payments WHERE shop_id = ? ORDER BY id ASC
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []settlement.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (settlement.Payment, error) {
	var (
		p         settlement.Payment
		amount    string
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.ShopID, &p.PayerType, &p.PayeeType, &amount, &p.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	var err error
	if p.Amount, err = parseAmount(amount); err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func (r *queries) GetTransaction(ctx context.Context, id settlement.TransactionID) (settlement.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, shop_id, farmer_id, buyer_id, total_amount, farmer_earning, commission, payment_status, created_at
		FROM transactions WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Transaction{}, settlement.ErrTransactionNotFound
	}
	return t, err
}

func (r *queries) ListShopTransactions(ctx context.Context, shopID settlement.ShopID) ([]settlement.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, shop_id, farmer_id, buyer_id, total_amount, farmer_earning, commission, payment_status, created_at
		FROM transactions WHERE shop_id = ? ORDER BY id ASC
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []settlement.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanTransaction(row scanner) (settlement.Transaction, error) {
	var (
		t                          settlement.Transaction
		total, earning, commission string
		createdAt                  string
	)
	err := row.Scan(&t.ID, &t.ShopID, &t.FarmerID, &t.BuyerID, &total, &earning, &commission, &t.PaymentStatus, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if t.TotalAmount, err = parseAmount(total); err != nil {
		return t, err
	}
	if t.FarmerEarning, err = parseAmount(earning); err != nil {
		return t, err
	}
	if t.Commission, err = parseAmount(commission); err != nil {
		return t, err
	}
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func (r *queries) AllocatedToPayment(ctx context.Context, id settlement.PaymentID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `SELECT allocated_amount FROM payment_allocations WHERE payment_id = ?`, id)
}

func (r *queries) PaidToTransaction(ctx context.Context, id settlement.TransactionID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `
		SELECT pa.allocated_amount
		FROM payment_allocations pa
		JOIN payments p ON p.id = pa.payment_id
		WHERE pa.transaction_id = ? AND p.status = ?
	`, id, settlement.PaymentPaid)
}

// =============================================================================
// DRIFT SCAN RUNS (settlement.ScanRunStore interface)
// =============================================================================

// SaveScanRun inserts a run or updates the run with the same ID.
func (s *Store) SaveScanRun(ctx context.Context, run settlement.DriftScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drift_scan_runs (id, started_at, completed_at, scanned, drifted, fixed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			scanned = excluded.scanned,
			drifted = excluded.drifted,
			fixed = excluded.fixed,
			error = excluded.error
	`, run.ID, formatTime(run.StartedAt), nullTime(run.CompletedAt), run.Scanned, run.Drifted, run.Fixed, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save scan run: %w", err)
	}
	return nil
}

// ListScanRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListScanRuns(ctx context.Context, limit int) ([]settlement.DriftScanRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, scanned, drifted, fixed, error
		FROM drift_scan_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan runs: %w", err)
	}
	defer rows.Close()

	var runs []settlement.DriftScanRun
	for rows.Next() {
		var (
			run         settlement.DriftScanRun
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &startedAt, &completedAt, &run.Scanned, &run.Drifted, &run.Fixed, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = parseTime(startedAt)
		run.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
