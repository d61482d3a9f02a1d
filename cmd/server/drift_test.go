package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/settlement/store"
)

func TestScanAndFix_UsesFlagTolerance(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d := decimal.RequireFromString

	// GIVEN: A buyer whose cache is off by 0.005, below the default tolerance
	require.NoError(t, mem.SaveUser(ctx, settlement.User{ID: 20, ShopID: 1, Username: "kofi", Role: settlement.RoleBuyer, Balance: d("750.005")}))
	require.NoError(t, mem.SaveTransaction(ctx, settlement.Transaction{ID: 1, ShopID: 1, FarmerID: 10, BuyerID: 20, TotalAmount: d("750"), FarmerEarning: d("700")}))

	// WHEN: Scanning and fixing with a tighter tolerance
	var out bytes.Buffer
	fixed, err := scanAndFix(ctx, mem, logging.New(io.Discard, slog.LevelError), d("0.001"), true, &out)
	require.NoError(t, err)

	// THEN: The listed user is also fixed
	assert.Equal(t, 1, fixed)
	assert.Contains(t, out.String(), "1 drifted user(s)")
	assert.Contains(t, out.String(), "1 balance(s) fixed")

	u, err := mem.GetUser(ctx, 20)
	require.NoError(t, err)
	assert.True(t, d("750").Equal(u.Balance))
}

func TestScanAndFix_ReportOnly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d := decimal.RequireFromString

	require.NoError(t, mem.SaveUser(ctx, settlement.User{ID: 20, ShopID: 1, Username: "kofi", Role: settlement.RoleBuyer, Balance: d("700")}))
	require.NoError(t, mem.SaveTransaction(ctx, settlement.Transaction{ID: 1, ShopID: 1, FarmerID: 10, BuyerID: 20, TotalAmount: d("750"), FarmerEarning: d("700")}))

	var out bytes.Buffer
	fixed, err := scanAndFix(ctx, mem, logging.New(io.Discard, slog.LevelError), settlement.DefaultTolerance, false, &out)
	require.NoError(t, err)
	assert.Zero(t, fixed)
	assert.Contains(t, out.String(), "50.00")

	u, err := mem.GetUser(ctx, 20)
	require.NoError(t, err)
	assert.True(t, d("700").Equal(u.Balance))
}
