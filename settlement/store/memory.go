// Package store provides in-memory settlement.TxStore implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a settlement.TxStore backed by maps. Reads take a shared lock;
// writes and WithTx take the exclusive lock, so transactions are serialized.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

var (
	_ settlement.TxStore      = (*Memory)(nil)
	_ settlement.ScanRunStore = (*Memory)(nil)
	_ settlement.Store        = (*memData)(nil)
)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(settlement.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) read(fn func(d *memData)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.data)
}

func (m *Memory) write(fn func(d *memData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.data)
}

// =============================================================================
// SEEDING - facts owned by the transaction/payment workflow
// =============================================================================

// Reset drops all data and restarts ID sequences.
func (m *Memory) Reset(_ context.Context) error {
	m.write(func(d *memData) { *d = *newMemData() })
	return nil
}

// SaveUser inserts or replaces a user.
func (m *Memory) SaveUser(_ context.Context, u settlement.User) error {
	m.write(func(d *memData) { d.users[u.ID] = u })
	return nil
}

// SetBalance writes a cached balance the way the payment workflow would,
// bumping the version.
func (m *Memory) SetBalance(_ context.Context, id settlement.UserID, balance decimal.Decimal) error {
	var err error
	m.write(func(d *memData) {
		u, ok := d.users[id]
		if !ok {
			err = settlement.ErrUserNotFound
			return
		}
		u.Balance = balance
		u.Version++
		u.UpdatedAt = time.Now().UTC()
		d.users[id] = u
	})
	return err
}

func (m *Memory) SaveTransaction(_ context.Context, t settlement.Transaction) error {
	m.write(func(d *memData) { d.transactions[t.ID] = t })
	return nil
}

func (m *Memory) SavePayment(_ context.Context, p settlement.Payment) error {
	m.write(func(d *memData) { d.payments[p.ID] = p })
	return nil
}

func (m *Memory) SaveAllocation(_ context.Context, a settlement.PaymentAllocation) error {
	m.write(func(d *memData) { d.allocations = append(d.allocations, a) })
	return nil
}

// =============================================================================
// LOCKED DELEGATES
// =============================================================================

func (m *Memory) CreateObligation(ctx context.Context, o settlement.Obligation) (out settlement.Obligation, err error) {
	m.write(func(d *memData) { out, err = d.CreateObligation(ctx, o) })
	return
}

func (m *Memory) GetObligation(ctx context.Context, id settlement.ObligationID) (out settlement.Obligation, err error) {
	m.read(func(d *memData) { out, err = d.GetObligation(ctx, id) })
	return
}

func (m *Memory) FindPendingByUser(ctx context.Context, shopID settlement.ShopID, userID settlement.UserID) (out []settlement.Obligation, err error) {
	m.read(func(d *memData) { out, err = d.FindPendingByUser(ctx, shopID, userID) })
	return
}

func (m *Memory) ListObligations(ctx context.Context, f settlement.ObligationFilter) (out []settlement.Obligation, total int, err error) {
	m.read(func(d *memData) { out, total, err = d.ListObligations(ctx, f) })
	return
}

func (m *Memory) SettledAmounts(ctx context.Context, ids []settlement.ObligationID) (out map[settlement.ObligationID]decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.SettledAmounts(ctx, ids) })
	return
}

func (m *Memory) AppendSettlement(ctx context.Context, s settlement.Settlement) (out settlement.Settlement, err error) {
	m.write(func(d *memData) { out, err = d.AppendSettlement(ctx, s) })
	return
}

func (m *Memory) ListSettlements(ctx context.Context, id settlement.ObligationID) (out []settlement.Settlement, err error) {
	m.read(func(d *memData) { out, err = d.ListSettlements(ctx, id) })
	return
}

func (m *Memory) MarkSettled(ctx context.Context, id settlement.ObligationID, at time.Time) (err error) {
	m.write(func(d *memData) { err = d.MarkSettled(ctx, id, at) })
	return
}

func (m *Memory) ObligationTotal(ctx context.Context, userID settlement.UserID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.ObligationTotal(ctx, userID) })
	return
}

func (m *Memory) GetUser(ctx context.Context, id settlement.UserID) (out settlement.User, err error) {
	m.read(func(d *memData) { out, err = d.GetUser(ctx, id) })
	return
}

func (m *Memory) ListUsersWithBalance(ctx context.Context, roles []settlement.Role) (out []settlement.User, err error) {
	m.read(func(d *memData) { out, err = d.ListUsersWithBalance(ctx, roles) })
	return
}

func (m *Memory) ListShopUsers(ctx context.Context, shopID settlement.ShopID) (out []settlement.User, err error) {
	m.read(func(d *memData) { out, err = d.ListShopUsers(ctx, shopID) })
	return
}

func (m *Memory) FarmerEarnings(ctx context.Context, id settlement.UserID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.FarmerEarnings(ctx, id) })
	return
}

func (m *Memory) PaidToFarmer(ctx context.Context, id settlement.UserID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.PaidToFarmer(ctx, id) })
	return
}

func (m *Memory) BuyerPurchases(ctx context.Context, id settlement.UserID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.BuyerPurchases(ctx, id) })
	return
}

func (m *Memory) PaidByBuyer(ctx context.Context, id settlement.UserID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.PaidByBuyer(ctx, id) })
	return
}

func (m *Memory) CompareAndSetBalance(ctx context.Context, id settlement.UserID, version int64, balance decimal.Decimal) (err error) {
	m.write(func(d *memData) { err = d.CompareAndSetBalance(ctx, id, version, balance) })
	return
}

func (m *Memory) AppendBalanceCorrection(ctx context.Context, c settlement.BalanceCorrection) (err error) {
	m.write(func(d *memData) { err = d.AppendBalanceCorrection(ctx, c) })
	return
}

func (m *Memory) ListBalanceCorrections(ctx context.Context, id settlement.UserID) (out []settlement.BalanceCorrection, err error) {
	m.read(func(d *memData) { out, err = d.ListBalanceCorrections(ctx, id) })
	return
}

func (m *Memory) GetPayment(ctx context.Context, id settlement.PaymentID) (out settlement.Payment, err error) {
	m.read(func(d *memData) { out, err = d.GetPayment(ctx, id) })
	return
}

func (m *Memory) GetTransaction(ctx context.Context, id settlement.TransactionID) (out settlement.Transaction, err error) {
	m.read(func(d *memData) { out, err = d.GetTransaction(ctx, id) })
	return
}

func (m *Memory) ListShopPayments(ctx context.Context, shopID settlement.ShopID) (out []settlement.Payment, err error) {
	m.read(func(d *memData) { out, err = d.ListShopPayments(ctx, shopID) })
	return
}

func (m *Memory) ListShopTransactions(ctx context.Context, shopID settlement.ShopID) (out []settlement.Transaction, err error) {
	m.read(func(d *memData) { out, err = d.ListShopTransactions(ctx, shopID) })
	return
}

func (m *Memory) AllocatedToPayment(ctx context.Context, id settlement.PaymentID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.AllocatedToPayment(ctx, id) })
	return
}

func (m *Memory) PaidToTransaction(ctx context.Context, id settlement.TransactionID) (out decimal.Decimal, err error) {
	m.read(func(d *memData) { out, err = d.PaidToTransaction(ctx, id) })
	return
}

func (m *Memory) SaveScanRun(ctx context.Context, run settlement.DriftScanRun) (err error) {
	m.write(func(d *memData) { err = d.SaveScanRun(ctx, run) })
	return
}

func (m *Memory) ListScanRuns(ctx context.Context, limit int) (out []settlement.DriftScanRun, err error) {
	m.read(func(d *memData) { out, err = d.ListScanRuns(ctx, limit) })
	return
}
