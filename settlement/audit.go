/*
audit.go - Shop-wide reconciliation reports

  Read-only checks a shop owner runs to find inconsistencies between the
  cached balances, payment allocations and transaction payment statuses.
  Nothing here writes; fixing drift goes through Calculator.FixBalanceDrift.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Calculated transaction payment statuses.
const (
	TxStatusPending = "pending"
	TxStatusPartial = "partial"
	TxStatusPaid    = "paid"
)

// discrepancyFloor is the total drift above which AuditShop recommends action.
var discrepancyFloor = decimal.NewFromInt(1)

type PaymentReconciliation struct {
	PaymentID      PaymentID
	Amount         decimal.Decimal
	Allocated      decimal.Decimal
	Unallocated    decimal.Decimal
	FullyAllocated bool
}

type TransactionReconciliation struct {
	TransactionID    TransactionID
	Total            decimal.Decimal
	Paid             decimal.Decimal
	Outstanding      decimal.Decimal
	CalculatedStatus string
	CurrentStatus    string
	StatusMatches    bool
}

type ShopAudit struct {
	ShopID           ShopID
	Users            []DriftReport
	Payments         []PaymentReconciliation
	Transactions     []TransactionReconciliation
	TotalDiscrepancy decimal.Decimal
	Healthy          bool
	Recommendations  []string
}

// Auditor builds reconciliation reports on top of a Calculator.
type Auditor struct {
	store Store
	calc  *Calculator
}

func NewAuditor(store Store, calc *Calculator) *Auditor {
	return &Auditor{store: store, calc: calc}
}

// ReconcilePayment compares a payment's amount with what has been allocated
// to transactions.
func (a *Auditor) ReconcilePayment(ctx context.Context, id PaymentID) (PaymentReconciliation, error) {
	p, err := a.store.GetPayment(ctx, id)
	if err != nil {
		return PaymentReconciliation{}, err
	}
	allocated, err := a.store.AllocatedToPayment(ctx, id)
	if err != nil {
		return PaymentReconciliation{}, err
	}
	unallocated := p.Amount.Sub(allocated)
	return PaymentReconciliation{
		PaymentID:      id,
		Amount:         p.Amount,
		Allocated:      allocated,
		Unallocated:    unallocated,
		FullyAllocated: unallocated.Abs().LessThan(a.calc.tolerance),
	}, nil
}

// ReconcileTransaction derives the payment status a transaction should have
// from the PAID allocations against it.
func (a *Auditor) ReconcileTransaction(ctx context.Context, id TransactionID) (TransactionReconciliation, error) {
	t, err := a.store.GetTransaction(ctx, id)
	if err != nil {
		return TransactionReconciliation{}, err
	}
	paid, err := a.store.PaidToTransaction(ctx, id)
	if err != nil {
		return TransactionReconciliation{}, err
	}
	outstanding := t.TotalAmount.Sub(paid)

	status := TxStatusPending
	switch {
	case outstanding.Abs().LessThan(a.calc.tolerance):
		status = TxStatusPaid
	case paid.IsPositive():
		status = TxStatusPartial
	}

	current := t.PaymentStatus
	if current == "" {
		current = TxStatusPending
	}

	return TransactionReconciliation{
		TransactionID:    id,
		Total:            t.TotalAmount,
		Paid:             paid,
		Outstanding:      outstanding,
		CalculatedStatus: status,
		CurrentStatus:    current,
		StatusMatches:    status == current,
	}, nil
}

// AuditShop reconciles every user, payment and transaction of the shop.
func (a *Auditor) AuditShop(ctx context.Context, shopID ShopID) (ShopAudit, error) {
	audit := ShopAudit{ShopID: shopID, TotalDiscrepancy: decimal.Zero}

	users, err := a.store.ListShopUsers(ctx, shopID)
	if err != nil {
		return ShopAudit{}, err
	}
	unreconciled := 0
	for _, u := range users {
		r, err := a.calc.report(ctx, a.store, u)
		if err != nil {
			return ShopAudit{}, err
		}
		if !r.IsValid {
			unreconciled++
		}
		audit.TotalDiscrepancy = audit.TotalDiscrepancy.Add(r.Drift)
		audit.Users = append(audit.Users, r)
	}

	payments, err := a.store.ListShopPayments(ctx, shopID)
	if err != nil {
		return ShopAudit{}, err
	}
	unallocated := 0
	for _, p := range payments {
		r, err := a.ReconcilePayment(ctx, p.ID)
		if err != nil {
			return ShopAudit{}, err
		}
		if !r.FullyAllocated {
			unallocated++
		}
		audit.Payments = append(audit.Payments, r)
	}

	txs, err := a.store.ListShopTransactions(ctx, shopID)
	if err != nil {
		return ShopAudit{}, err
	}
	mismatched := 0
	for _, t := range txs {
		r, err := a.ReconcileTransaction(ctx, t.ID)
		if err != nil {
			return ShopAudit{}, err
		}
		if !r.StatusMatches {
			mismatched++
		}
		audit.Transactions = append(audit.Transactions, r)
	}

	audit.Healthy = unreconciled == 0 && unallocated == 0 && mismatched == 0

	if unreconciled > 0 {
		audit.Recommendations = append(audit.Recommendations, fmt.Sprintf("%d user balance(s) need reconciliation", unreconciled))
	}
	if unallocated > 0 {
		audit.Recommendations = append(audit.Recommendations, fmt.Sprintf("%d payment(s) have allocation discrepancies", unallocated))
	}
	if mismatched > 0 {
		audit.Recommendations = append(audit.Recommendations, fmt.Sprintf("%d transaction(s) have incorrect payment status", mismatched))
	}
	if audit.TotalDiscrepancy.GreaterThan(discrepancyFloor) {
		audit.Recommendations = append(audit.Recommendations, "Total balance discrepancy: "+audit.TotalDiscrepancy.StringFixed(2))
	}

	return audit, nil
}
