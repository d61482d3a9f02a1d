/*
store.go - Persistence interfaces for obligations, settlements and ledger facts

KEY INTERFACES:
  ObligationStore: Obligations and their append-only settlement history
  LedgerFacts:     Read-only transaction/payment facts and cached balances
  BalanceWriter:   Compare-and-set on the cached balance plus correction audit
  AuditStore:      Payment/transaction lookups for shop audits
  TxStore:         Atomic execution of a function against a Store

ATOMICITY:
  The FIFO allocator and FixBalanceDrift run inside TxStore.WithTx. The
  implementation must serialize concurrent writers for the duration of fn
  (SQLite: BEGIN IMMEDIATE; memory: exclusive lock) so two repayments cannot
  read the same outstanding amount.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - settlement/store/memory.go: In-memory for testing
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ObligationFilter narrows ListObligations. Zero values mean "any".
type ObligationFilter struct {
	ShopID ShopID
	UserID UserID
	Status ObligationStatus
	Offset int
	Limit  int
}

// ObligationStore handles obligations and settlements.
// Settlements are APPEND-ONLY. Obligation.Amount is never updated.
type ObligationStore interface {
	// CreateObligation inserts o and returns it with ID and CreatedAt assigned.
	CreateObligation(ctx context.Context, o Obligation) (Obligation, error)

	// GetObligation returns ErrObligationNotFound if id does not exist.
	GetObligation(ctx context.Context, id ObligationID) (Obligation, error)

	// FindPendingByUser returns pending obligations ordered by CreatedAt, then ID, ascending.
	FindPendingByUser(ctx context.Context, shopID ShopID, userID UserID) ([]Obligation, error)

	// ListObligations returns matching obligations newest-first plus the total match count.
	ListObligations(ctx context.Context, filter ObligationFilter) ([]Obligation, int, error)

	// SettledAmounts returns id -> settled total for every id in a single query.
	// Ids without settlements map to zero.
	SettledAmounts(ctx context.Context, ids []ObligationID) (map[ObligationID]decimal.Decimal, error)

	// AppendSettlement records s. Must fail with ErrOverSettlement rather than
	// let the settled total exceed the obligation amount.
	AppendSettlement(ctx context.Context, s Settlement) (Settlement, error)

	// ListSettlements returns settlements for one obligation, oldest first.
	ListSettlements(ctx context.Context, id ObligationID) ([]Settlement, error)

	// MarkSettled sets SettledAt if unset. Idempotent.
	MarkSettled(ctx context.Context, id ObligationID, at time.Time) error

	// ObligationTotal sums Amount over every obligation of the user.
	ObligationTotal(ctx context.Context, userID UserID) (decimal.Decimal, error)
}

// LedgerFacts exposes the transaction/payment workflow's data read-only.
type LedgerFacts interface {
	GetUser(ctx context.Context, id UserID) (User, error)

	// ListUsersWithBalance returns users in roles whose cached balance is non-zero.
	ListUsersWithBalance(ctx context.Context, roles []Role) ([]User, error)

	ListShopUsers(ctx context.Context, shopID ShopID) ([]User, error)

	// FarmerEarnings sums Transaction.FarmerEarning over the farmer's transactions.
	FarmerEarnings(ctx context.Context, farmerID UserID) (decimal.Decimal, error)

	// PaidToFarmer sums allocations of PAID payments with payee FARMER on the farmer's transactions.
	PaidToFarmer(ctx context.Context, farmerID UserID) (decimal.Decimal, error)

	// BuyerPurchases sums Transaction.TotalAmount over the buyer's transactions.
	BuyerPurchases(ctx context.Context, buyerID UserID) (decimal.Decimal, error)

	// PaidByBuyer sums allocations of PAID payments with payer BUYER on the buyer's transactions.
	PaidByBuyer(ctx context.Context, buyerID UserID) (decimal.Decimal, error)
}

// BalanceWriter is the only path that mutates User.Balance from this engine.
type BalanceWriter interface {
	// CompareAndSetBalance writes balance if the user's Version still equals
	// expectedVersion; otherwise it returns ErrConcurrentModification.
	CompareAndSetBalance(ctx context.Context, id UserID, expectedVersion int64, balance decimal.Decimal) error

	AppendBalanceCorrection(ctx context.Context, c BalanceCorrection) error
	ListBalanceCorrections(ctx context.Context, id UserID) ([]BalanceCorrection, error)
}

// AuditStore supports shop-wide reconciliation reports.
type AuditStore interface {
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error)
	ListShopPayments(ctx context.Context, shopID ShopID) ([]Payment, error)
	ListShopTransactions(ctx context.Context, shopID ShopID) ([]Transaction, error)

	// AllocatedToPayment sums every allocation of the payment.
	AllocatedToPayment(ctx context.Context, id PaymentID) (decimal.Decimal, error)

	// PaidToTransaction sums allocations of PAID payments on the transaction.
	PaidToTransaction(ctx context.Context, id TransactionID) (decimal.Decimal, error)
}

// ScanRunStore persists drift-scan run records. It sits outside Store because
// only the scheduler needs it.
type ScanRunStore interface {
	SaveScanRun(ctx context.Context, run DriftScanRun) error
	ListScanRuns(ctx context.Context, limit int) ([]DriftScanRun, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	ObligationStore
	LedgerFacts
	BalanceWriter
	AuditStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
