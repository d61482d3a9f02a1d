/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with a small shop so the obligation, balance and
	audit endpoints have something to show. Each scenario writes users,
	trades, payments and allocations the way the transaction/payment
	workflow would, then creates obligations and repayments through the
	engine.

AVAILABLE SCENARIOS:

	farmer-advances:  Farmer with advances and expenses, part repaid from a payout
	buyer-credit:     Buyer with two settled trades and one partly paid
	drifted-balances: Both of the above with stale cached balances and a
	                  mis-allocated payment, for the drift and audit views

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Save users, trades, payments, allocations
 3. Create obligations and apply repayments through settlement.Service
 4. Write cached balances (consistent, except in drifted-balances)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "farmer-advances"}

USAGE VIA CLI:

	settlement scenario load farmer-advances

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
	The routes are mounted only when the store implements Seeder.

SEE ALSO:
  - handlers.go: Handler wiring
  - cmd/server/scenario.go: CLI entry
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// Seeder writes the facts this engine treats as read-only. Both the memory
// and SQLite stores implement it.
type Seeder interface {
	Reset(ctx context.Context) error
	SaveUser(ctx context.Context, u settlement.User) error
	SetBalance(ctx context.Context, id settlement.UserID, balance decimal.Decimal) error
	SaveTransaction(ctx context.Context, t settlement.Transaction) error
	SavePayment(ctx context.Context, p settlement.Payment) error
	SaveAllocation(ctx context.Context, a settlement.PaymentAllocation) error
}

// ErrUnknownScenario is returned by ApplyScenario for an unlisted id.
var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoShop settlement.ShopID = 1

const (
	demoFarmer settlement.UserID = 10
	demoBuyer  settlement.UserID = 20
)

var scenarios = []ScenarioDTO{
	{
		ID:          "farmer-advances",
		Name:        "Farmer Advances",
		Description: "Advance, expense and adjustment obligations, 120 repaid oldest-first from a payout",
		Category:    "obligations",
	},
	{
		ID:          "buyer-credit",
		Name:        "Buyer Credit",
		Description: "Two trades paid in full, one partly paid, balance 120",
		Category:    "balances",
	},
	{
		ID:          "drifted-balances",
		Name:        "Drifted Balances",
		Description: "Stale cached balances and a partly allocated payment for drift fixes and shop audits",
		Category:    "reconciliation",
	},
}

// Scenarios returns the loadable scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.ApplyScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ApplyScenario resets the store and loads scenario id.
func (h *Handler) ApplyScenario(ctx context.Context, id string) error {
	if h.Seeder == nil {
		return errors.New("store does not support scenarios")
	}

	var load func(context.Context) error
	switch id {
	case "farmer-advances":
		load = h.loadFarmerAdvancesScenario
	case "buyer-credit":
		load = h.loadBuyerCreditScenario
	case "drifted-balances":
		load = h.loadDriftedBalancesScenario
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Seeder.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFarmerAdvancesScenario: earned 1250, paid out 300, obligations 180.
// Cached balance 770 = 1250 - 300 - 180.
func (h *Handler) loadFarmerAdvancesScenario(ctx context.Context) error {
	if err := h.Seeder.SaveUser(ctx, settlement.User{
		ID: demoFarmer, ShopID: demoShop, Username: "amara", Role: settlement.RoleFarmer,
	}); err != nil {
		return err
	}

	trades := []settlement.Transaction{
		demoTrade(1, demoFarmer, 90, "660", "600", settlement.TxStatusPartial),
		demoTrade(2, demoFarmer, 90, "440", "400", settlement.TxStatusPending),
		demoTrade(3, demoFarmer, 90, "275", "250", settlement.TxStatusPending),
	}
	for _, t := range trades {
		if err := h.Seeder.SaveTransaction(ctx, t); err != nil {
			return err
		}
	}

	payout := settlement.PaymentID(1)
	if err := h.pay(ctx, payout, settlement.PartyShop, settlement.PartyFarmer, "300", map[settlement.TransactionID]string{1: "300"}); err != nil {
		return err
	}

	obligations := []settlement.NewObligation{
		{ShopID: demoShop, UserID: demoFarmer, Amount: decimal.NewFromInt(100), Kind: settlement.KindAdvance, Description: "Seed advance"},
		{ShopID: demoShop, UserID: demoFarmer, Amount: decimal.NewFromInt(50), Kind: settlement.KindExpense, Description: "Transport to market"},
		{ShopID: demoShop, UserID: demoFarmer, Amount: decimal.NewFromInt(30), Kind: settlement.KindAdjustment, Description: "Scale fee correction"},
	}
	for _, o := range obligations {
		if _, err := h.Service.CreateObligation(ctx, o); err != nil {
			return err
		}
	}

	// 100 advance settled, 20 of the transport expense.
	if _, err := h.Service.ApplyRepaymentFIFO(ctx, demoShop, demoFarmer, decimal.NewFromInt(120), &payout,
		settlement.ApplyOptions{Notes: "Deducted from payout 1"}); err != nil {
		return err
	}

	return h.Seeder.SetBalance(ctx, demoFarmer, decimal.NewFromInt(770))
}

// loadBuyerCreditScenario: purchases 950, paid 830, cached balance 120.
func (h *Handler) loadBuyerCreditScenario(ctx context.Context) error {
	if err := h.Seeder.SaveUser(ctx, settlement.User{
		ID: demoBuyer, ShopID: demoShop, Username: "kofi", Role: settlement.RoleBuyer,
	}); err != nil {
		return err
	}

	trades := []settlement.Transaction{
		demoTrade(11, 91, demoBuyer, "450", "405", settlement.TxStatusPaid),
		demoTrade(12, 91, demoBuyer, "300", "270", settlement.TxStatusPaid),
		demoTrade(13, 91, demoBuyer, "200", "180", settlement.TxStatusPartial),
	}
	for _, t := range trades {
		if err := h.Seeder.SaveTransaction(ctx, t); err != nil {
			return err
		}
	}

	if err := h.pay(ctx, 11, settlement.PartyBuyer, settlement.PartyShop, "750",
		map[settlement.TransactionID]string{11: "450", 12: "300"}); err != nil {
		return err
	}
	if err := h.pay(ctx, 12, settlement.PartyBuyer, settlement.PartyShop, "80",
		map[settlement.TransactionID]string{13: "80"}); err != nil {
		return err
	}

	return h.Seeder.SetBalance(ctx, demoBuyer, decimal.NewFromInt(120))
}

// loadDriftedBalancesScenario: farmer cached 900 vs computed 770, buyer
// cached 50 vs computed 110, payment 13 has 60 unallocated and trade 14 is
// marked paid while only 40 of 90 arrived.
func (h *Handler) loadDriftedBalancesScenario(ctx context.Context) error {
	if err := h.loadFarmerAdvancesScenario(ctx); err != nil {
		return err
	}
	if err := h.loadBuyerCreditScenario(ctx); err != nil {
		return err
	}

	if err := h.Seeder.SaveTransaction(ctx, demoTrade(14, 91, demoBuyer, "90", "81", settlement.TxStatusPaid)); err != nil {
		return err
	}
	if err := h.pay(ctx, 13, settlement.PartyBuyer, settlement.PartyShop, "100",
		map[settlement.TransactionID]string{14: "40"}); err != nil {
		return err
	}

	if err := h.Seeder.SetBalance(ctx, demoFarmer, decimal.NewFromInt(900)); err != nil {
		return err
	}
	return h.Seeder.SetBalance(ctx, demoBuyer, decimal.NewFromInt(50))
}

// =============================================================================
// HELPERS
// =============================================================================

func demoTrade(id settlement.TransactionID, farmer, buyer settlement.UserID, total, earning, status string) settlement.Transaction {
	t := decimal.RequireFromString(total)
	e := decimal.RequireFromString(earning)
	return settlement.Transaction{
		ID:            id,
		ShopID:        demoShop,
		FarmerID:      farmer,
		BuyerID:       buyer,
		TotalAmount:   t,
		FarmerEarning: e,
		Commission:    t.Sub(e),
		PaymentStatus: status,
	}
}

// pay saves a PAID payment and its allocations.
func (h *Handler) pay(ctx context.Context, id settlement.PaymentID, payer, payee settlement.Party, amount string, allocations map[settlement.TransactionID]string) error {
	if err := h.Seeder.SavePayment(ctx, settlement.Payment{
		ID:        id,
		ShopID:    demoShop,
		PayerType: payer,
		PayeeType: payee,
		Amount:    decimal.RequireFromString(amount),
		Status:    settlement.PaymentPaid,
	}); err != nil {
		return err
	}
	for txID, allocated := range allocations {
		if err := h.Seeder.SaveAllocation(ctx, settlement.PaymentAllocation{
			PaymentID:       id,
			TransactionID:   txID,
			AllocatedAmount: decimal.RequireFromString(allocated),
		}); err != nil {
			return err
		}
	}
	return nil
}
