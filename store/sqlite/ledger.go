package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, shop_id, username, role, balance, version, updated_at`

func (r *queries) GetUser(ctx context.Context, id settlement.UserID) (settlement.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.User{}, settlement.ErrUserNotFound
	}
	return u, err
}

// ListUsersWithBalance filters zero balances in Go, since "0" and "0.00"
// are different strings.
func (r *queries) ListUsersWithBalance(ctx context.Context, roles []settlement.Role) ([]settlement.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = role
	}

	users, err := r.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE role IN (`+placeholders(len(roles))+`) ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}

	result := users[:0]
	for _, u := range users {
		if !u.Balance.IsZero() {
			result = append(result, u)
		}
	}
	return result, nil
}

func (r *queries) ListShopUsers(ctx context.Context, shopID settlement.ShopID) ([]settlement.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE shop_id = ? ORDER BY id ASC`, shopID)
}

func (r *queries) queryUsers(ctx context.Context, query string, args ...any) ([]settlement.User, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []settlement.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row scanner) (settlement.User, error) {
	var (
		u         settlement.User
		balance   string
		updatedAt string
	)
	if err := row.Scan(&u.ID, &u.ShopID, &u.Username, &u.Role, &balance, &u.Version, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	var err error
	if u.Balance, err = parseAmount(balance); err != nil {
		return u, err
	}
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

// =============================================================================
// LEDGER FACTS (settlement.LedgerFacts interface)
// =============================================================================

func (r *queries) FarmerEarnings(ctx context.Context, id settlement.UserID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `SELECT farmer_earning FROM transactions WHERE farmer_id = ?`, id)
}

func (r *queries) PaidToFarmer(ctx context.Context, id settlement.UserID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `
		SELECT pa.allocated_amount
		FROM payment_allocations pa
		JOIN payments p ON p.id = pa.payment_id
		JOIN transactions t ON t.id = pa.transaction_id
		WHERE p.status = ? AND p.payee_type = ? AND t.farmer_id = ?
	`, settlement.PaymentPaid, settlement.PartyFarmer, id)
}

func (r *queries) BuyerPurchases(ctx context.Context, id settlement.UserID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `SELECT total_amount FROM transactions WHERE buyer_id = ?`, id)
}

func (r *queries) PaidByBuyer(ctx context.Context, id settlement.UserID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `
		SELECT pa.allocated_amount
		FROM payment_allocations pa
		JOIN payments p ON p.id = pa.payment_id
		JOIN transactions t ON t.id = pa.transaction_id
		WHERE p.status = ? AND p.payer_type = ? AND t.buyer_id = ?
	`, settlement.PaymentPaid, settlement.PartyBuyer, id)
}

// =============================================================================
// BALANCE WRITES (settlement.BalanceWriter interface)
// =============================================================================

// CompareAndSetBalance updates the balance only if version still matches.
func (r *queries) CompareAndSetBalance(ctx context.Context, id settlement.UserID, version int64, balance decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE users SET balance = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, balance.String(), formatTime(time.Now()), id, version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.GetUser(ctx, id); err != nil {
			return err
		}
		return settlement.ErrConcurrentModification
	}
	return nil
}

func (r *queries) AppendBalanceCorrection(ctx context.Context, c settlement.BalanceCorrection) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO balance_corrections (id, user_id, before_balance, after_balance, drift, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.Before.String(), c.After.String(), c.Drift.String(), c.Reason, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append balance correction: %w", err)
	}
	return nil
}

func (r *queries) ListBalanceCorrections(ctx context.Context, id settlement.UserID) ([]settlement.BalanceCorrection, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, before_balance, after_balance, drift, reason, created_at
		FROM balance_corrections
		WHERE user_id = ?
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance corrections: %w", err)
	}
	defer rows.Close()

	var corrections []settlement.BalanceCorrection
	for rows.Next() {
		var (
			c                           settlement.BalanceCorrection
			before, after, drift, stamp string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &before, &after, &drift, &c.Reason, &stamp); err != nil {
			return nil, fmt.Errorf("failed to scan balance correction: %w", err)
		}
		if c.Before, err = parseAmount(before); err != nil {
			return nil, err
		}
		if c.After, err = parseAmount(after); err != nil {
			return nil, err
		}
		if c.Drift, err = parseAmount(drift); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(stamp)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// =============================================================================
// SEEDING - writes owned by the transaction/payment workflow
// =============================================================================

// SaveUser inserts or replaces a user row.
func (s *Store) SaveUser(ctx context.Context, u settlement.User) error {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, shop_id, username, role, balance, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shop_id = excluded.shop_id,
			username = excluded.username,
			role = excluded.role,
			balance = excluded.balance,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, u.ID, u.ShopID, u.Username, u.Role, u.Balance.String(), u.Version, formatTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// SetBalance writes a cached balance the way the payment workflow would,
// bumping the version.
func (s *Store) SetBalance(ctx context.Context, id settlement.UserID, balance decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		balance.String(), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrUserNotFound
	}
	return nil
}

func (s *Store) SaveTransaction(ctx context.Context, t settlement.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	status := t.PaymentStatus
	if status == "" {
		status = settlement.TxStatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, shop_id, farmer_id, buyer_id, total_amount, farmer_earning, commission, payment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ShopID, t.FarmerID, t.BuyerID, t.TotalAmount.String(), t.FarmerEarning.String(),
		t.Commission.String(), status, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *Store) SavePayment(ctx context.Context, p settlement.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, shop_id, payer_type, payee_type, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ShopID, p.PayerType, p.PayeeType, p.Amount.String(), p.Status, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *Store) SaveAllocation(ctx context.Context, a settlement.PaymentAllocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_allocations (payment_id, transaction_id, allocated_amount)
		VALUES (?, ?, ?)
	`, a.PaymentID, a.TransactionID, a.AllocatedAmount.String())
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}
