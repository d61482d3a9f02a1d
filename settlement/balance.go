/*
balance.go - Balance calculation from first principles

PURPOSE:
  Derives a user's balance from ledger facts, ignoring the cached
  User.Balance column, so the cache can be cross-checked.

FORMULAS:
  Farmer: computed = earned - paid - expenses
    earned   = SUM(transaction.farmer_earning) over the farmer's transactions
    paid     = SUM(allocated_amount) of PAID payments to FARMER on those transactions
    expenses = SUM(obligation.amount) over all of the farmer's obligations

  Buyer:  computed = purchases - paid
    purchases = SUM(transaction.total_amount) over the buyer's transactions
    paid      = SUM(allocated_amount) of PAID payments from BUYER on those transactions

  Other roles have no ledger balance: computed = 0.

EXPENSES ARE NOT NETTED AGAINST SETTLEMENTS:
  The cached balance maintained by the transaction/payment workflow deducts
  the raw obligation total; repayments of obligations flow through payment
  allocations. Subtracting settlement totals here as well would count the
  same money twice. If that workflow's accounting changes, this formula must
  be re-derived from it.

SIGN CONVENTION:
  Farmer: positive = shop owes farmer. Buyer: positive = buyer owes shop.
*/
package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Breakdown exposes the components of a computed balance.
type Breakdown struct {
	Role    Role
	Earned  decimal.Decimal
	Paid    decimal.Decimal
	Pending decimal.Decimal // Earned - Paid
	// Expenses is nil for buyers.
	Expenses *decimal.Decimal
	Net      decimal.Decimal
}

// Calculator computes balances and reconciles them against the cache.
type Calculator struct {
	store     TxStore
	tolerance decimal.Decimal
	logger    *slog.Logger
	now       func() time.Time
}

type CalculatorOption func(*Calculator)

// WithTolerance sets the drift below which a cached balance counts as valid.
func WithTolerance(t decimal.Decimal) CalculatorOption {
	return func(c *Calculator) { c.tolerance = t }
}

func WithCalculatorLogger(l *slog.Logger) CalculatorOption {
	return func(c *Calculator) { c.logger = l }
}

func WithCalculatorClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) { c.now = now }
}

func NewCalculator(store TxStore, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		store:     store,
		tolerance: DefaultTolerance,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Calculator) Tolerance() decimal.Decimal { return c.tolerance }

// ComputeBalance returns the derived balance for the user.
func (c *Calculator) ComputeBalance(ctx context.Context, userID UserID) (decimal.Decimal, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	b, err := breakdownFor(ctx, c.store, user)
	if err != nil {
		return decimal.Zero, err
	}
	if b == nil {
		return decimal.Zero, nil
	}
	return b.Net, nil
}

// Breakdown returns the named components of the user's balance, or nil for
// roles without a ledger balance.
func (c *Calculator) Breakdown(ctx context.Context, userID UserID) (*Breakdown, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return breakdownFor(ctx, c.store, user)
}

func breakdownFor(ctx context.Context, store Store, user User) (*Breakdown, error) {
	switch user.Role {
	case RoleFarmer:
		earned, err := store.FarmerEarnings(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		paid, err := store.PaidToFarmer(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		expenses, err := store.ObligationTotal(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		pending := earned.Sub(paid)
		return &Breakdown{
			Role:     user.Role,
			Earned:   earned,
			Paid:     paid,
			Pending:  pending,
			Expenses: &expenses,
			Net:      pending.Sub(expenses),
		}, nil

	case RoleBuyer:
		purchases, err := store.BuyerPurchases(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		paid, err := store.PaidByBuyer(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		pending := purchases.Sub(paid)
		return &Breakdown{
			Role:    user.Role,
			Earned:  purchases,
			Paid:    paid,
			Pending: pending,
			Net:     pending,
		}, nil
	}
	return nil, nil
}

func netOf(b *Breakdown) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return b.Net
}
