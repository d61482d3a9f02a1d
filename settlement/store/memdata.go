package store

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// memData holds the maps behind Memory. Its methods implement
// settlement.Store without locking; Memory supplies the locks, and WithTx
// hands memData itself to the transaction function.
type memData struct {
	users        map[settlement.UserID]settlement.User
	obligations  map[settlement.ObligationID]settlement.Obligation
	settlements  []settlement.Settlement
	transactions map[settlement.TransactionID]settlement.Transaction
	payments     map[settlement.PaymentID]settlement.Payment
	allocations  []settlement.PaymentAllocation
	corrections  []settlement.BalanceCorrection
	runs         []settlement.DriftScanRun

	nextObligation settlement.ObligationID
	nextSettlement settlement.SettlementID
}

func newMemData() *memData {
	return &memData{
		users:        make(map[settlement.UserID]settlement.User),
		obligations:  make(map[settlement.ObligationID]settlement.Obligation),
		transactions: make(map[settlement.TransactionID]settlement.Transaction),
		payments:     make(map[settlement.PaymentID]settlement.Payment),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.obligations {
		c.obligations[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	c.settlements = append([]settlement.Settlement{}, d.settlements...)
	c.allocations = append([]settlement.PaymentAllocation{}, d.allocations...)
	c.corrections = append([]settlement.BalanceCorrection{}, d.corrections...)
	c.runs = append([]settlement.DriftScanRun{}, d.runs...)
	c.nextObligation = d.nextObligation
	c.nextSettlement = d.nextSettlement
	return c
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func (d *memData) CreateObligation(_ context.Context, o settlement.Obligation) (settlement.Obligation, error) {
	d.nextObligation++
	o.ID = d.nextObligation
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	d.obligations[o.ID] = o
	return o, nil
}

func (d *memData) GetObligation(_ context.Context, id settlement.ObligationID) (settlement.Obligation, error) {
	o, ok := d.obligations[id]
	if !ok {
		return settlement.Obligation{}, settlement.ErrObligationNotFound
	}
	return o, nil
}

func (d *memData) FindPendingByUser(_ context.Context, shopID settlement.ShopID, userID settlement.UserID) ([]settlement.Obligation, error) {
	var result []settlement.Obligation
	for _, o := range d.obligations {
		if o.ShopID == shopID && o.UserID == userID && o.SettledAt == nil {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (d *memData) ListObligations(_ context.Context, f settlement.ObligationFilter) ([]settlement.Obligation, int, error) {
	var matched []settlement.Obligation
	for _, o := range d.obligations {
		if f.ShopID != 0 && o.ShopID != f.ShopID {
			continue
		}
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status() != f.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (d *memData) SettledAmounts(_ context.Context, ids []settlement.ObligationID) (map[settlement.ObligationID]decimal.Decimal, error) {
	result := make(map[settlement.ObligationID]decimal.Decimal, len(ids))
	for _, id := range ids {
		result[id] = decimal.Zero
	}
	for _, s := range d.settlements {
		if total, ok := result[s.ObligationID]; ok {
			result[s.ObligationID] = total.Add(s.Amount)
		}
	}
	return result, nil
}

func (d *memData) settledTotal(id settlement.ObligationID) decimal.Decimal {
	total := decimal.Zero
	for _, s := range d.settlements {
		if s.ObligationID == id {
			total = total.Add(s.Amount)
		}
	}
	return total
}

// AppendSettlement rejects any row that would push the settled total past
// the obligation amount.
func (d *memData) AppendSettlement(_ context.Context, s settlement.Settlement) (settlement.Settlement, error) {
	o, ok := d.obligations[s.ObligationID]
	if !ok {
		return settlement.Settlement{}, settlement.ErrObligationNotFound
	}
	already := d.settledTotal(s.ObligationID)
	if already.Add(s.Amount).GreaterThan(o.Amount) {
		return settlement.Settlement{}, &settlement.OverSettlementError{
			ObligationID: o.ID,
			Amount:       o.Amount,
			Settled:      already,
			Requested:    s.Amount,
		}
	}

	d.nextSettlement++
	s.ID = d.nextSettlement
	if s.SettledAt.IsZero() {
		s.SettledAt = time.Now().UTC()
	}
	d.settlements = append(d.settlements, s)
	return s, nil
}

func (d *memData) ListSettlements(_ context.Context, id settlement.ObligationID) ([]settlement.Settlement, error) {
	var result []settlement.Settlement
	for _, s := range d.settlements {
		if s.ObligationID == id {
			result = append(result, s)
		}
	}
	return result, nil
}

func (d *memData) MarkSettled(_ context.Context, id settlement.ObligationID, at time.Time) error {
	o, ok := d.obligations[id]
	if !ok {
		return settlement.ErrObligationNotFound
	}
	if o.SettledAt != nil {
		return nil
	}
	o.SettledAt = &at
	d.obligations[id] = o
	return nil
}

func (d *memData) ObligationTotal(_ context.Context, userID settlement.UserID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range d.obligations {
		if o.UserID == userID {
			total = total.Add(o.Amount)
		}
	}
	return total, nil
}

// =============================================================================
// LEDGER FACTS
// =============================================================================

func (d *memData) GetUser(_ context.Context, id settlement.UserID) (settlement.User, error) {
	u, ok := d.users[id]
	if !ok {
		return settlement.User{}, settlement.ErrUserNotFound
	}
	return u, nil
}

func (d *memData) ListUsersWithBalance(_ context.Context, roles []settlement.Role) ([]settlement.User, error) {
	var result []settlement.User
	for _, u := range d.users {
		if u.Balance.IsZero() {
			continue
		}
		for _, r := range roles {
			if u.Role == r {
				result = append(result, u)
				break
			}
		}
	}
	sortUsers(result)
	return result, nil
}

func (d *memData) ListShopUsers(_ context.Context, shopID settlement.ShopID) ([]settlement.User, error) {
	var result []settlement.User
	for _, u := range d.users {
		if u.ShopID == shopID {
			result = append(result, u)
		}
	}
	sortUsers(result)
	return result, nil
}

func sortUsers(users []settlement.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

func (d *memData) FarmerEarnings(_ context.Context, id settlement.UserID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range d.transactions {
		if t.FarmerID == id {
			total = total.Add(t.FarmerEarning)
		}
	}
	return total, nil
}

func (d *memData) BuyerPurchases(_ context.Context, id settlement.UserID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range d.transactions {
		if t.BuyerID == id {
			total = total.Add(t.TotalAmount)
		}
	}
	return total, nil
}

func (d *memData) PaidToFarmer(_ context.Context, id settlement.UserID) (decimal.Decimal, error) {
	return d.paidAllocations(func(p settlement.Payment, t settlement.Transaction) bool {
		return p.PayeeType == settlement.PartyFarmer && t.FarmerID == id
	}), nil
}

func (d *memData) PaidByBuyer(_ context.Context, id settlement.UserID) (decimal.Decimal, error) {
	return d.paidAllocations(func(p settlement.Payment, t settlement.Transaction) bool {
		return p.PayerType == settlement.PartyBuyer && t.BuyerID == id
	}), nil
}

// paidAllocations sums allocations of PAID payments for which match holds.
func (d *memData) paidAllocations(match func(settlement.Payment, settlement.Transaction) bool) decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.allocations {
		p, ok := d.payments[a.PaymentID]
		if !ok || p.Status != settlement.PaymentPaid {
			continue
		}
		t, ok := d.transactions[a.TransactionID]
		if !ok || !match(p, t) {
			continue
		}
		total = total.Add(a.AllocatedAmount)
	}
	return total
}

// =============================================================================
// BALANCE WRITES
// =============================================================================

func (d *memData) CompareAndSetBalance(_ context.Context, id settlement.UserID, version int64, balance decimal.Decimal) error {
	u, ok := d.users[id]
	if !ok {
		return settlement.ErrUserNotFound
	}
	if u.Version != version {
		return settlement.ErrConcurrentModification
	}
	u.Balance = balance
	u.Version++
	u.UpdatedAt = time.Now().UTC()
	d.users[id] = u
	return nil
}

func (d *memData) AppendBalanceCorrection(_ context.Context, c settlement.BalanceCorrection) error {
	d.corrections = append(d.corrections, c)
	return nil
}

func (d *memData) ListBalanceCorrections(_ context.Context, id settlement.UserID) ([]settlement.BalanceCorrection, error) {
	var result []settlement.BalanceCorrection
	for _, c := range d.corrections {
		if c.UserID == id {
			result = append(result, c)
		}
	}
	return result, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (d *memData) GetPayment(_ context.Context, id settlement.PaymentID) (settlement.Payment, error) {
	p, ok := d.payments[id]
	if !ok {
		return settlement.Payment{}, settlement.ErrPaymentNotFound
	}
	return p, nil
}

func (d *memData) GetTransaction(_ context.Context, id settlement.TransactionID) (settlement.Transaction, error) {
	t, ok := d.transactions[id]
	if !ok {
		return settlement.Transaction{}, settlement.ErrTransactionNotFound
	}
	return t, nil
}

func (d *memData) ListShopPayments(_ context.Context, shopID settlement.ShopID) ([]settlement.Payment, error) {
	var result []settlement.Payment
	for _, p := range d.payments {
		if p.ShopID == shopID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *memData) ListShopTransactions(_ context.Context, shopID settlement.ShopID) ([]settlement.Transaction, error) {
	var result []settlement.Transaction
	for _, t := range d.transactions {
		if t.ShopID == shopID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *memData) AllocatedToPayment(_ context.Context, id settlement.PaymentID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range d.allocations {
		if a.PaymentID == id {
			total = total.Add(a.AllocatedAmount)
		}
	}
	return total, nil
}

func (d *memData) PaidToTransaction(_ context.Context, id settlement.TransactionID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range d.allocations {
		if a.TransactionID != id {
			continue
		}
		if p, ok := d.payments[a.PaymentID]; ok && p.Status == settlement.PaymentPaid {
			total = total.Add(a.AllocatedAmount)
		}
	}
	return total, nil
}

// =============================================================================
// SCAN RUNS
// =============================================================================

// SaveScanRun inserts run or replaces the run with the same ID.
func (d *memData) SaveScanRun(_ context.Context, run settlement.DriftScanRun) error {
	for i := range d.runs {
		if d.runs[i].ID == run.ID {
			d.runs[i] = run
			return nil
		}
	}
	d.runs = append(d.runs, run)
	return nil
}

// ListScanRuns returns the most recent runs first.
func (d *memData) ListScanRuns(_ context.Context, limit int) ([]settlement.DriftScanRun, error) {
	var result []settlement.DriftScanRun
	for i := len(d.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, d.runs[i])
	}
	return result, nil
}
