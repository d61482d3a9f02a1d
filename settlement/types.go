/*
Package settlement provides the settlement and balance-consistency engine.

PURPOSE:
  Shops mediate trade between farmers and buyers. Users accumulate discrete
  obligations (expenses, advances, adjustments) that are repaid over time.
  This package tracks those obligations, allocates repayments against them
  oldest-first, and recomputes a user's balance from ledger facts to detect
  and correct drift in the cached balance column.

KEY CONCEPTS IN THIS FILE (types.go):
  - Obligation: A claim against a user with a fixed original amount
  - Settlement: An immutable record of a repayment applied to one obligation
  - User: The cached-balance holder (farmer, buyer, owner, superadmin)
  - Transaction/Payment/PaymentAllocation: Read-only facts owned elsewhere

DESIGN PRINCIPLES:
  1. Immutability: Obligation.Amount never changes after creation
  2. Append-only: Settlements are never edited, only added
  3. Precision: All money is decimal.Decimal
  4. Determinism: Repayments are allocated oldest-first, ties broken by id

USAGE:
  svc := settlement.NewService(store)
  ob, err := svc.CreateObligation(ctx, settlement.NewObligation{
      ShopID: 1, UserID: 42, Amount: decimal.NewFromInt(100),
      Kind: settlement.KindAdvance, Description: "seed advance",
  })
  res, err := svc.ApplyRepaymentFIFO(ctx, 1, 42, decimal.NewFromInt(60), nil, settlement.ApplyOptions{})

SEE ALSO:
  - obligation.go: Obligation store operations
  - allocator.go: FIFO repayment allocation
  - balance.go: Balance calculation from first principles
  - reconcile.go: Drift detection and correction
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ShopID int64
type UserID int64
type ObligationID int64
type SettlementID int64
type PaymentID int64
type TransactionID int64

// =============================================================================
// OBLIGATION - A discrete claim against a user
// =============================================================================

type ObligationKind string

const (
	KindExpense    ObligationKind = "expense"
	KindAdvance    ObligationKind = "advance"
	KindAdjustment ObligationKind = "adjustment"
)

// Valid reports whether k is one of the known obligation kinds.
func (k ObligationKind) Valid() bool {
	switch k {
	case KindExpense, KindAdvance, KindAdjustment:
		return true
	}
	return false
}

type ObligationStatus string

const (
	StatusPending ObligationStatus = "pending"
	StatusSettled ObligationStatus = "settled"
)

// Obligation is a claim against a user. Amount is fixed at creation; progress
// is tracked through Settlement rows, never by editing Amount.
type Obligation struct {
	ID            ObligationID
	ShopID        ShopID
	UserID        UserID
	TransactionID *TransactionID
	Amount        decimal.Decimal
	Kind          ObligationKind
	Description   string
	CreatedAt     time.Time

	// SettledAt is set once by MarkSettled when the settled total reaches Amount.
	SettledAt *time.Time
}

func (o Obligation) Status() ObligationStatus {
	if o.SettledAt != nil {
		return StatusSettled
	}
	return StatusPending
}

// NewObligation is the input to CreateObligation.
type NewObligation struct {
	ShopID        ShopID
	UserID        UserID
	TransactionID *TransactionID
	Amount        decimal.Decimal
	Kind          ObligationKind
	Description   string
}

// ObligationView pairs an obligation with its settlement progress.
type ObligationView struct {
	Obligation
	Settled     decimal.Decimal
	Outstanding decimal.Decimal
	Settlements []Settlement
}

// =============================================================================
// SETTLEMENT - Immutable repayment record
// =============================================================================

type Settlement struct {
	ID           SettlementID
	ObligationID ObligationID
	PaymentID    *PaymentID
	Amount       decimal.Decimal
	SettledAt    time.Time
	Notes        string
}

// =============================================================================
// USERS AND LEDGER FACTS (owned by the transaction/payment workflow)
// =============================================================================

type Role string

const (
	RoleFarmer     Role = "farmer"
	RoleBuyer      Role = "buyer"
	RoleOwner      Role = "owner"
	RoleSuperadmin Role = "superadmin"
)

// HasLedger reports whether users with this role carry a ledger balance.
func (r Role) HasLedger() bool {
	return r == RoleFarmer || r == RoleBuyer
}

// User carries the cached balance. Version increments on every balance write
// and backs compare-and-set updates.
type User struct {
	ID        UserID
	ShopID    ShopID
	Username  string
	Role      Role
	Balance   decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

type Party string

const (
	PartyFarmer Party = "FARMER"
	PartyBuyer  Party = "BUYER"
	PartyShop   Party = "SHOP"
)

// Transaction is a completed trade. FarmerEarning is what the shop owes the
// farmer after commission; TotalAmount is what the buyer owes the shop.
type Transaction struct {
	ID            TransactionID
	ShopID        ShopID
	FarmerID      UserID
	BuyerID       UserID
	TotalAmount   decimal.Decimal
	FarmerEarning decimal.Decimal
	Commission    decimal.Decimal
	PaymentStatus string
	CreatedAt     time.Time
}

type Payment struct {
	ID        PaymentID
	ShopID    ShopID
	PayerType Party
	PayeeType Party
	Amount    decimal.Decimal
	Status    PaymentStatus
	CreatedAt time.Time
}

// PaymentAllocation records how much of a payment was applied to a transaction.
type PaymentAllocation struct {
	PaymentID       PaymentID
	TransactionID   TransactionID
	AllocatedAmount decimal.Decimal
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

// BalanceCorrection is written whenever FixBalanceDrift overwrites a cached balance.
type BalanceCorrection struct {
	ID        string
	UserID    UserID
	Before    decimal.Decimal
	After     decimal.Decimal
	Drift     decimal.Decimal
	Reason    string
	CreatedAt time.Time
}

// DriftScanRun records one periodic drift scan.
type DriftScanRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Scanned     int
	Drifted     int
	Fixed       int
	Error       string
}

// =============================================================================
// HELPERS
// =============================================================================

// DefaultTolerance absorbs rounding noise when comparing balances.
var DefaultTolerance = decimal.RequireFromString("0.01")
