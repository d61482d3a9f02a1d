package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// OBLIGATION STORE (settlement.ObligationStore interface)
// =============================================================================

const obligationColumns = `id, shop_id, user_id, transaction_id, amount, kind, description, created_at, settled_at`

// CreateObligation inserts an obligation and returns it with its ID.
func (r *queries) CreateObligation(ctx context.Context, o settlement.Obligation) (settlement.Obligation, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	var txID sql.NullInt64
	if o.TransactionID != nil {
		txID = sql.NullInt64{Int64: int64(*o.TransactionID), Valid: true}
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO expenses (shop_id, user_id, transaction_id, amount, kind, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ShopID, o.UserID, txID, o.Amount.String(), o.Kind, o.Description, formatTime(o.CreatedAt))
	if err != nil {
		return settlement.Obligation{}, fmt.Errorf("failed to create obligation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return settlement.Obligation{}, fmt.Errorf("failed to read obligation id: %w", err)
	}
	o.ID = settlement.ObligationID(id)
	o.SettledAt = nil
	return o, nil
}

func (r *queries) GetObligation(ctx context.Context, id settlement.ObligationID) (settlement.Obligation, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM expenses WHERE id = ?`, id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Obligation{}, settlement.ErrObligationNotFound
	}
	return o, err
}

// FindPendingByUser returns pending obligations in FIFO order.
func (r *queries) FindPendingByUser(ctx context.Context, shopID settlement.ShopID, userID settlement.UserID) ([]settlement.Obligation, error) {
	return r.queryObligations(ctx, `
		SELECT `+obligationColumns+`
		FROM expenses
		WHERE shop_id = ? AND user_id = ? AND settled_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, shopID, userID)
}

func (r *queries) ListObligations(ctx context.Context, f settlement.ObligationFilter) ([]settlement.Obligation, int, error) {
	var (
		where []string
		args  []any
	)
	if f.ShopID != 0 {
		where = append(where, "shop_id = ?")
		args = append(args, f.ShopID)
	}
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	switch f.Status {
	case settlement.StatusPending:
		where = append(where, "settled_at IS NULL")
	case settlement.StatusSettled:
		where = append(where, "settled_at IS NOT NULL")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count obligations: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	obs, err := r.queryObligations(ctx,
		`SELECT `+obligationColumns+` FROM expenses`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	return obs, total, nil
}

// SettledAmounts loads settled totals for all ids in one query. Amounts are
// concatenated per obligation and summed in decimal.
func (r *queries) SettledAmounts(ctx context.Context, ids []settlement.ObligationID) (map[settlement.ObligationID]decimal.Decimal, error) {
	result := make(map[settlement.ObligationID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
		result[id] = decimal.Zero
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT expense_id, GROUP_CONCAT(amount)
		FROM expense_settlements
		WHERE expense_id IN (`+placeholders(len(ids))+`)
		GROUP BY expense_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settled amounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      settlement.ObligationID
			amounts string
		)
		if err := rows.Scan(&id, &amounts); err != nil {
			return nil, fmt.Errorf("failed to scan settled amount: %w", err)
		}
		total := decimal.Zero
		for _, a := range strings.Split(amounts, ",") {
			d, err := parseAmount(a)
			if err != nil {
				return nil, err
			}
			total = total.Add(d)
		}
		result[id] = total
	}
	return result, rows.Err()
}

// AppendSettlement inserts a settlement row. The decimal check gives a
// precise error; trg_settlement_cap backs it up for other writers.
func (r *queries) AppendSettlement(ctx context.Context, s settlement.Settlement) (settlement.Settlement, error) {
	o, err := r.GetObligation(ctx, s.ObligationID)
	if err != nil {
		return settlement.Settlement{}, err
	}
	already, err := r.sumDecimals(ctx, `SELECT amount FROM expense_settlements WHERE expense_id = ?`, s.ObligationID)
	if err != nil {
		return settlement.Settlement{}, err
	}
	over := &settlement.OverSettlementError{
		ObligationID: o.ID,
		Amount:       o.Amount,
		Settled:      already,
		Requested:    s.Amount,
	}
	if already.Add(s.Amount).GreaterThan(o.Amount) {
		return settlement.Settlement{}, over
	}

	if s.SettledAt.IsZero() {
		s.SettledAt = time.Now().UTC()
	}
	var paymentID sql.NullInt64
	if s.PaymentID != nil {
		paymentID = sql.NullInt64{Int64: int64(*s.PaymentID), Valid: true}
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO expense_settlements (expense_id, payment_id, amount, settled_at, notes)
		VALUES (?, ?, ?, ?, ?)
	`, s.ObligationID, paymentID, s.Amount.String(), formatTime(s.SettledAt), s.Notes)
	if err != nil {
		if isOverSettlementError(err) {
			return settlement.Settlement{}, over
		}
		return settlement.Settlement{}, fmt.Errorf("failed to append settlement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return settlement.Settlement{}, fmt.Errorf("failed to read settlement id: %w", err)
	}
	s.ID = settlement.SettlementID(id)
	return s, nil
}

func (r *queries) ListSettlements(ctx context.Context, id settlement.ObligationID) ([]settlement.Settlement, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, expense_id, payment_id, amount, settled_at, notes
		FROM expense_settlements
		WHERE expense_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []settlement.Settlement
	for rows.Next() {
		var (
			s         settlement.Settlement
			paymentID sql.NullInt64
			amount    string
			settledAt string
		)
		if err := rows.Scan(&s.ID, &s.ObligationID, &paymentID, &amount, &settledAt, &s.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		if paymentID.Valid {
			pid := settlement.PaymentID(paymentID.Int64)
			s.PaymentID = &pid
		}
		if s.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		s.SettledAt = parseTime(settledAt)
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

// MarkSettled sets settled_at once; later calls leave the first stamp.
func (r *queries) MarkSettled(ctx context.Context, id settlement.ObligationID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE expenses SET settled_at = ? WHERE id = ? AND settled_at IS NULL`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark obligation settled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetObligation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *queries) ObligationTotal(ctx context.Context, userID settlement.UserID) (decimal.Decimal, error) {
	return r.sumDecimals(ctx, `SELECT amount FROM expenses WHERE user_id = ?`, userID)
}

func (r *queries) queryObligations(ctx context.Context, query string, args ...any) ([]settlement.Obligation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	var obligations []settlement.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObligation(row scanner) (settlement.Obligation, error) {
	var (
		o         settlement.Obligation
		txID      sql.NullInt64
		amount    string
		createdAt string
		settledAt sql.NullString
	)

	err := row.Scan(&o.ID, &o.ShopID, &o.UserID, &txID, &amount, &o.Kind, &o.Description, &createdAt, &settledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("failed to scan obligation: %w", err)
	}

	if txID.Valid {
		t := settlement.TransactionID(txID.Int64)
		o.TransactionID = &t
	}
	if o.Amount, err = parseAmount(amount); err != nil {
		return o, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.SettledAt = parseNullTime(settledAt)
	return o, nil
}
