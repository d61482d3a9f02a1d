package settlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/settlement"
)

func TestCreateObligation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	txID := settlement.TransactionID(55)
	o, err := env.svc.CreateObligation(ctx, settlement.NewObligation{
		ShopID:        shopID,
		UserID:        farmerID,
		TransactionID: &txID,
		Amount:        dec("120.50"),
		Kind:          settlement.KindAdvance,
		Description:   "seed advance",
	})
	require.NoError(t, err)

	assert.NotZero(t, o.ID)
	assert.False(t, o.CreatedAt.IsZero())
	assert.Nil(t, o.SettledAt)
	assert.Equal(t, settlement.StatusPending, o.Status())
	assert.Equal(t, settlement.KindAdvance, o.Kind)
	require.NotNil(t, o.TransactionID)
	assert.Equal(t, txID, *o.TransactionID)
}

func TestCreateObligation_DefaultsToExpense(t *testing.T) {
	env := newTestEnv(t)

	o, err := env.svc.CreateObligation(context.Background(), settlement.NewObligation{
		ShopID: shopID,
		UserID: farmerID,
		Amount: dec("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, settlement.KindExpense, o.Kind)
}

func TestCreateObligation_DoesNotTouchBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// GIVEN: A farmer with a cached balance
	env.user(t, farmerID, settlement.RoleFarmer, "500")

	// WHEN: An obligation is created
	env.obligation(t, farmerID, "200")

	// THEN: The cached balance is unchanged
	u, err := env.store.GetUser(ctx, farmerID)
	require.NoError(t, err)
	assertDec(t, "500", u.Balance)
	assert.Zero(t, u.Version)
}

func TestCreateObligation_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    settlement.NewObligation
		field string
	}{
		{"zero amount", settlement.NewObligation{ShopID: shopID, UserID: farmerID, Amount: dec("0")}, "amount"},
		{"negative amount", settlement.NewObligation{ShopID: shopID, UserID: farmerID, Amount: dec("-1")}, "amount"},
		{"missing shop", settlement.NewObligation{UserID: farmerID, Amount: dec("1")}, "shop_id"},
		{"missing user", settlement.NewObligation{ShopID: shopID, Amount: dec("1")}, "user_id"},
		{"unknown kind", settlement.NewObligation{ShopID: shopID, UserID: farmerID, Amount: dec("1"), Kind: "loan"}, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.svc.CreateObligation(context.Background(), tt.in)

			var verr *settlement.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, settlement.IsClientError(err))
		})
	}
}

func TestListPendingObligations_OrderAndEmpty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// GIVEN: No obligations yet
	pending, err := env.svc.ListPendingObligations(ctx, shopID, farmerID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// GIVEN: Three obligations
	a := env.obligation(t, farmerID, "30")
	b := env.obligation(t, farmerID, "10")
	c := env.obligation(t, farmerID, "20")

	// THEN: Returned in creation order regardless of amount
	pending, err = env.svc.ListPendingObligations(ctx, shopID, farmerID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []settlement.ObligationID{a.ID, b.ID, c.ID},
		[]settlement.ObligationID{pending[0].ID, pending[1].ID, pending[2].ID})
}

func TestListObligations_PagingAndStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// GIVEN: Five obligations, the oldest one settled
	first := env.obligation(t, farmerID, "10")
	for i := 0; i < 4; i++ {
		env.obligation(t, farmerID, "20")
	}
	_, err := env.svc.SettleAmount(ctx, first.ID, dec("10"), "")
	require.NoError(t, err)

	// WHEN: Listing page 1 of size 2
	page, err := env.svc.ListObligations(ctx, settlement.ObligationFilter{ShopID: shopID}, 1, 2)
	require.NoError(t, err)

	// THEN: Newest first, total counts everything
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	// WHEN: Listing the last page
	page, err = env.svc.ListObligations(ctx, settlement.ObligationFilter{ShopID: shopID}, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)
	assertDec(t, "10", page.Items[0].Settled)
	assertDec(t, "0", page.Items[0].Outstanding)

	// WHEN: Filtering by status
	settled, err := env.svc.ListObligations(ctx, settlement.ObligationFilter{ShopID: shopID, Status: settlement.StatusSettled}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, settled.Total)

	pending, err := env.svc.ListObligations(ctx, settlement.ObligationFilter{ShopID: shopID, Status: settlement.StatusPending}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, pending.Total)
	assert.Equal(t, 1, pending.Page)
	assert.Equal(t, 20, pending.Limit)
	for _, item := range pending.Items {
		assertDec(t, "20", item.Outstanding)
	}
}

func TestPendingTotal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// GIVEN: 100 + 50 outstanding, 30 of the first repaid
	env.obligation(t, farmerID, "100")
	env.obligation(t, farmerID, "50")
	_, err := env.svc.ApplyRepaymentFIFO(ctx, shopID, farmerID, dec("30"), nil, settlement.ApplyOptions{})
	require.NoError(t, err)

	// WHEN / THEN: Pending total subtracts partial settlements
	total, err := env.svc.PendingTotal(ctx, shopID, farmerID)
	require.NoError(t, err)
	assertDec(t, "120", total)

	total, err = env.svc.PendingTotal(ctx, shopID, buyerID)
	require.NoError(t, err)
	assertDec(t, "0", total)
}

func TestNetPayable(t *testing.T) {
	ctx := context.Background()

	t.Run("positive balance", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedFarmer(t)

		net, err := env.svc.NetPayable(ctx, shopID, farmerID)
		require.NoError(t, err)

		assertDec(t, "500", net.CurrentBalance)
		assertDec(t, "200", net.PendingExpenses)
		// Cached balance already has the 200 deducted.
		assertDec(t, "500", net.NetPayable)
		require.Len(t, net.Pending, 1)
	})

	t.Run("negative balance clamps to zero", func(t *testing.T) {
		env := newTestEnv(t)
		env.user(t, farmerID, settlement.RoleFarmer, "-40")

		net, err := env.svc.NetPayable(ctx, shopID, farmerID)
		require.NoError(t, err)
		assertDec(t, "-40", net.CurrentBalance)
		assertDec(t, "0", net.NetPayable)
	})

	t.Run("unknown farmer", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.NetPayable(ctx, shopID, farmerID)
		assert.ErrorIs(t, err, settlement.ErrUserNotFound)
		assert.True(t, settlement.IsNotFound(err))
	})
}

func TestMarkSettled(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects outstanding amount", func(t *testing.T) {
		env := newTestEnv(t)
		o := env.obligation(t, farmerID, "100")

		// GIVEN: An obligation with nothing settled
		// WHEN: Marking it settled
		_, err := env.svc.MarkSettled(ctx, o.ID)

		// THEN: Rejected as a conflict, still pending and still repayable
		require.ErrorIs(t, err, settlement.ErrOutstandingBalance)
		assert.True(t, settlement.IsConflict(err))

		view, err := env.svc.GetObligation(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, settlement.StatusPending, view.Status())
		assertDec(t, "100", view.Outstanding)

		res, err := env.svc.ApplyRepaymentFIFO(ctx, shopID, farmerID, dec("50"), nil, settlement.ApplyOptions{})
		require.NoError(t, err)
		assertDec(t, "50", res.Applied)

		// Half repaid is still not settled.
		_, err = env.svc.MarkSettled(ctx, o.ID)
		assert.ErrorIs(t, err, settlement.ErrOutstandingBalance)

		pending, err := env.svc.PendingTotal(ctx, shopID, farmerID)
		require.NoError(t, err)
		assertDec(t, "50", pending)
	})

	t.Run("idempotent once fully settled", func(t *testing.T) {
		env := newTestEnv(t)
		o := env.obligation(t, farmerID, "10")

		view, err := env.svc.SettleAmount(ctx, o.ID, dec("10"), "")
		require.NoError(t, err)
		require.NotNil(t, view.SettledAt)

		first, err := env.svc.MarkSettled(ctx, o.ID)
		require.NoError(t, err)
		require.NotNil(t, first.SettledAt)
		assert.True(t, view.SettledAt.Equal(*first.SettledAt))

		second, err := env.svc.MarkSettled(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, first.SettledAt.Equal(*second.SettledAt))
	})

	t.Run("unknown obligation", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.MarkSettled(ctx, 9999)
		assert.ErrorIs(t, err, settlement.ErrObligationNotFound)
	})
}

func TestGetObligation_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetObligation(context.Background(), 42)
	assert.ErrorIs(t, err, settlement.ErrObligationNotFound)
}

// =============================================================================
// MANUAL SETTLEMENT
// =============================================================================

func TestSettleAmount(t *testing.T) {
	ctx := context.Background()

	t.Run("partial then capped", func(t *testing.T) {
		env := newTestEnv(t)
		o := env.obligation(t, farmerID, "100")

		// WHEN: 40 is settled manually
		view, err := env.svc.SettleAmount(ctx, o.ID, dec("40"), "")
		require.NoError(t, err)

		// THEN: Amount is untouched, 60 outstanding
		assertDec(t, "100", view.Amount)
		assertDec(t, "40", view.Settled)
		assertDec(t, "60", view.Outstanding)
		assert.Equal(t, settlement.StatusPending, view.Status())
		require.Len(t, view.Settlements, 1)
		assert.Equal(t, "Manual settlement", view.Settlements[0].Notes)

		// WHEN: More than outstanding is settled
		view, err = env.svc.SettleAmount(ctx, o.ID, dec("500"), "write-off")
		require.NoError(t, err)

		// THEN: Only 60 is recorded and the obligation settles
		require.Len(t, view.Settlements, 2)
		assertDec(t, "60", view.Settlements[1].Amount)
		assertDec(t, "100", view.Settled)
		assert.Equal(t, settlement.StatusSettled, view.Status())
	})

	t.Run("nothing outstanding", func(t *testing.T) {
		env := newTestEnv(t)
		o := env.obligation(t, farmerID, "100")
		_, err := env.svc.SettleAmount(ctx, o.ID, dec("100"), "")
		require.NoError(t, err)

		_, err = env.svc.SettleAmount(ctx, o.ID, dec("1"), "")

		var over *settlement.OverSettlementError
		require.True(t, errors.As(err, &over))
		assert.Equal(t, o.ID, over.ObligationID)
		assertDec(t, "100", over.Settled)
		assert.ErrorIs(t, err, settlement.ErrOverSettlement)
		assert.True(t, settlement.IsConflict(err))

		view, err := env.svc.GetObligation(ctx, o.ID)
		require.NoError(t, err)
		assert.Len(t, view.Settlements, 1)
	})

	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t)
		o := env.obligation(t, farmerID, "100")

		_, err := env.svc.SettleAmount(ctx, o.ID, dec("0"), "")
		assert.ErrorIs(t, err, settlement.ErrInvalidAmount)

		_, err = env.svc.SettleAmount(ctx, 777, dec("1"), "")
		assert.ErrorIs(t, err, settlement.ErrObligationNotFound)
	})
}

func TestAppendSettlement_StoreRejectsOverSettlement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.obligation(t, farmerID, "50")

	// GIVEN: A direct store write that exceeds the amount
	_, err := env.store.AppendSettlement(ctx, settlement.Settlement{ObligationID: o.ID, Amount: dec("50.01")})

	// THEN: The store refuses it
	assert.ErrorIs(t, err, settlement.ErrOverSettlement)

	totals, err := env.store.SettledAmounts(ctx, []settlement.ObligationID{o.ID, 999})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assertDec(t, "0", totals[o.ID])
	assertDec(t, "0", totals[999])
}
