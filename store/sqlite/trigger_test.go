package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/settlement"
)

func TestSettlementCapTrigger(t *testing.T) {
	ctx := context.Background()
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	o, err := s.CreateObligation(ctx, settlement.Obligation{ShopID: 1, UserID: 1, Amount: decimal.NewFromInt(100), Kind: settlement.KindExpense})
	require.NoError(t, err)

	insert := `INSERT INTO expense_settlements (expense_id, amount, settled_at) VALUES (?, ?, ?)`
	stamp := formatTime(o.CreatedAt)

	// GIVEN: A writer that skips the Go-side check
	_, err = s.db.ExecContext(ctx, insert, o.ID, "70", stamp)
	require.NoError(t, err)

	// WHEN: It tries to settle past the amount
	_, err = s.db.ExecContext(ctx, insert, o.ID, "30.5", stamp)

	// THEN: The trigger aborts the insert
	require.Error(t, err)
	assert.True(t, isOverSettlementError(err))

	_, err = s.db.ExecContext(ctx, insert, o.ID, "30", stamp)
	assert.NoError(t, err)
}

func TestTimestampLayoutSortsLexically(t *testing.T) {
	a := formatTime(mustTime(t, "2025-01-01T09:00:00.5Z"))
	b := formatTime(mustTime(t, "2025-01-01T09:00:01Z"))
	assert.Less(t, a, b)
	assert.Len(t, a, len(b))
	assert.True(t, parseTime(a).Equal(mustTime(t, "2025-01-01T09:00:00.5Z")))
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return v
}

func TestMalformedAmountsSurface(t *testing.T) {
	ctx := context.Background()
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveUser(ctx, settlement.User{ID: 10, ShopID: 1, Username: "amara", Role: settlement.RoleFarmer}))
	require.NoError(t, s.SetBalance(ctx, 10, decimal.NewFromInt(500)))

	// GIVEN: A trade row the payment workflow wrote with a formatted amount
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, shop_id, farmer_id, buyer_id, total_amount, farmer_earning, created_at)
		VALUES (1, 1, 10, 20, '1100', '1,000.00', ?)`, formatTime(time.Now()))
	require.NoError(t, err)

	// WHEN: Summing and scanning it
	_, err = s.FarmerEarnings(ctx, 10)

	// THEN: The parse failure is returned, not read as zero
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"1,000.00"`)

	_, err = s.GetTransaction(ctx, 1)
	assert.Error(t, err)

	// A drift fix must not overwrite the cache from a broken ledger.
	calc := settlement.NewCalculator(s)
	_, err = calc.FixBalanceDrift(ctx, 10)
	require.Error(t, err)

	u, err := s.GetUser(ctx, 10)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500).Equal(u.Balance))
	assert.Equal(t, int64(1), u.Version)
}
