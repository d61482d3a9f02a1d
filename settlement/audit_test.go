package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/settlement"
)

func TestAuditShop_Healthy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedBuyer(t)

	audit, err := settlement.NewAuditor(env.store, env.calc).AuditShop(ctx, shopID)
	require.NoError(t, err)

	assert.True(t, audit.Healthy)
	assert.Empty(t, audit.Recommendations)
	assert.Len(t, audit.Users, 1)
	assert.Len(t, audit.Payments, 1)
	assert.Len(t, audit.Transactions, 2)
	assertDec(t, "0", audit.TotalDiscrepancy)
}

func TestAuditShop_ReportsEveryProblem(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedBuyer(t)

	// GIVEN: A 200 trade marked paid but only 40 allocated from a 100 payment
	env.trade(t, 13, 98, buyerID, "200", "180", "paid")
	env.payment(t, 12, settlement.PartyBuyer, settlement.PartyShop, "100", settlement.PaymentPaid)
	env.allocate(t, 12, 13, "40")
	// AND: An unpaid trade with no status recorded
	env.trade(t, 14, 98, buyerID, "80", "72", "")
	// AND: A cached balance 25 above the computed 240
	require.NoError(t, env.store.SetBalance(ctx, buyerID, dec("265")))

	auditor := settlement.NewAuditor(env.store, env.calc)

	// WHEN: Auditing the shop
	audit, err := auditor.AuditShop(ctx, shopID)
	require.NoError(t, err)

	// THEN: Every category is flagged
	assert.False(t, audit.Healthy)
	assertDec(t, "25", audit.TotalDiscrepancy)
	assert.Equal(t, []string{
		"1 user balance(s) need reconciliation",
		"1 payment(s) have allocation discrepancies",
		"1 transaction(s) have incorrect payment status",
		"Total balance discrepancy: 25.00",
	}, audit.Recommendations)

	// AND: Individual reconciliations agree
	p, err := auditor.ReconcilePayment(ctx, 12)
	require.NoError(t, err)
	assertDec(t, "40", p.Allocated)
	assertDec(t, "60", p.Unallocated)
	assert.False(t, p.FullyAllocated)

	tx, err := auditor.ReconcileTransaction(ctx, 13)
	require.NoError(t, err)
	assertDec(t, "40", tx.Paid)
	assertDec(t, "160", tx.Outstanding)
	assert.Equal(t, settlement.TxStatusPartial, tx.CalculatedStatus)
	assert.Equal(t, settlement.TxStatusPaid, tx.CurrentStatus)
	assert.False(t, tx.StatusMatches)

	unpaid, err := auditor.ReconcileTransaction(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, settlement.TxStatusPending, unpaid.CalculatedStatus)
	assert.Equal(t, settlement.TxStatusPending, unpaid.CurrentStatus)
	assert.True(t, unpaid.StatusMatches)
}

func TestReconcileTransaction_IgnoresUnpaidPayments(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// GIVEN: A 100 trade whose only allocation is from a failed payment
	env.trade(t, 1, farmerID, buyerID, "100", "90", "pending")
	env.payment(t, 1, settlement.PartyBuyer, settlement.PartyShop, "100", settlement.PaymentFailed)
	env.allocate(t, 1, 1, "100")

	tx, err := settlement.NewAuditor(env.store, env.calc).ReconcileTransaction(ctx, 1)
	require.NoError(t, err)

	assertDec(t, "0", tx.Paid)
	assert.Equal(t, settlement.TxStatusPending, tx.CalculatedStatus)
	assert.True(t, tx.StatusMatches)
}

func TestAuditor_NotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	auditor := settlement.NewAuditor(env.store, env.calc)

	_, err := auditor.ReconcilePayment(ctx, 1)
	assert.ErrorIs(t, err, settlement.ErrPaymentNotFound)

	_, err = auditor.ReconcileTransaction(ctx, 1)
	assert.ErrorIs(t, err, settlement.ErrTransactionNotFound)
}
