package settlement_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/settlement/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	shopID   settlement.ShopID = 1
	farmerID settlement.UserID = 10
	buyerID  settlement.UserID = 20
	ownerID  settlement.UserID = 30
)

// stepClock advances one second per call so CreatedAt values are strictly ordered.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func quietLogger() *slog.Logger {
	return logging.New(io.Discard, slog.LevelError)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	store *store.Memory
	svc   *settlement.Service
	calc  *settlement.Calculator
}

func newTestEnv(t *testing.T, opts ...settlement.Option) *testEnv {
	t.Helper()
	m := store.NewMemory()
	opts = append([]settlement.Option{
		settlement.WithClock(newStepClock().Now),
		settlement.WithLogger(quietLogger()),
	}, opts...)
	return &testEnv{
		store: m,
		svc:   settlement.NewService(m, opts...),
		calc:  settlement.NewCalculator(m, settlement.WithCalculatorLogger(quietLogger())),
	}
}

func (e *testEnv) obligation(t *testing.T, user settlement.UserID, amount string) settlement.Obligation {
	t.Helper()
	o, err := e.svc.CreateObligation(context.Background(), settlement.NewObligation{
		ShopID: shopID,
		UserID: user,
		Amount: dec(amount),
		Kind:   settlement.KindExpense,
	})
	require.NoError(t, err)
	return o
}

func (e *testEnv) user(t *testing.T, id settlement.UserID, role settlement.Role, balance string) {
	t.Helper()
	require.NoError(t, e.store.SaveUser(context.Background(), settlement.User{
		ID:       id,
		ShopID:   shopID,
		Username: string(role),
		Role:     role,
		Balance:  dec(balance),
	}))
}

func (e *testEnv) trade(t *testing.T, id settlement.TransactionID, farmer, buyer settlement.UserID, total, earning, status string) {
	t.Helper()
	require.NoError(t, e.store.SaveTransaction(context.Background(), settlement.Transaction{
		ID:            id,
		ShopID:        shopID,
		FarmerID:      farmer,
		BuyerID:       buyer,
		TotalAmount:   dec(total),
		FarmerEarning: dec(earning),
		Commission:    dec(total).Sub(dec(earning)),
		PaymentStatus: status,
	}))
}

func (e *testEnv) payment(t *testing.T, id settlement.PaymentID, payer, payee settlement.Party, amount string, status settlement.PaymentStatus) {
	t.Helper()
	require.NoError(t, e.store.SavePayment(context.Background(), settlement.Payment{
		ID:        id,
		ShopID:    shopID,
		PayerType: payer,
		PayeeType: payee,
		Amount:    dec(amount),
		Status:    status,
	}))
}

func (e *testEnv) allocate(t *testing.T, payment settlement.PaymentID, tx settlement.TransactionID, amount string) {
	t.Helper()
	require.NoError(t, e.store.SaveAllocation(context.Background(), settlement.PaymentAllocation{
		PaymentID:       payment,
		TransactionID:   tx,
		AllocatedAmount: dec(amount),
	}))
}

// seedFarmer builds the farmer scenario: earned 1000 over two trades,
// 300 paid out, one unsettled 200 expense. Cached balance is 500.
func (e *testEnv) seedFarmer(t *testing.T) settlement.Obligation {
	t.Helper()
	e.user(t, farmerID, settlement.RoleFarmer, "500")
	e.trade(t, 1, farmerID, 99, "660", "600", "pending")
	e.trade(t, 2, farmerID, 99, "440", "400", "pending")
	e.payment(t, 1, settlement.PartyShop, settlement.PartyFarmer, "300", settlement.PaymentPaid)
	e.allocate(t, 1, 1, "300")
	// Not PAID, must be ignored.
	e.payment(t, 2, settlement.PartyShop, settlement.PartyFarmer, "100", settlement.PaymentPending)
	e.allocate(t, 2, 2, "100")
	return e.obligation(t, farmerID, "200")
}

// seedBuyer builds the buyer scenario: purchases 750, paid 750.
func (e *testEnv) seedBuyer(t *testing.T) {
	t.Helper()
	e.user(t, buyerID, settlement.RoleBuyer, "0")
	e.trade(t, 11, 98, buyerID, "450", "405", "paid")
	e.trade(t, 12, 98, buyerID, "300", "270", "paid")
	e.payment(t, 11, settlement.PartyBuyer, settlement.PartyShop, "750", settlement.PaymentPaid)
	e.allocate(t, 11, 11, "450")
	e.allocate(t, 11, 12, "300")
}
