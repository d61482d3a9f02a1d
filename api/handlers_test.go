/*
handlers_test.go - HTTP tests for the settlement API

Tests for:
- Obligation creation and validation errors
- FIFO repayments through the API (dry run and commit)
- Manual settlement conflicts
- Balance validation, drift fix and correction history
- Drift scans, shop audit, error mapping
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/settlement/store"
)

type testServer struct {
	store  *store.Memory
	router *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	h := api.NewHandler(mem, mem, logging.New(io.Discard, slog.LevelError), settlement.DefaultTolerance)
	return &testServer{store: mem, router: api.NewRouter(h, []string{"*"})}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createObligation(t *testing.T, userID int64, amount string) api.ObligationDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/obligations", map[string]any{
		"shop_id": 1,
		"user_id": userID,
		"amount":  amount,
		"kind":    "expense",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.ObligationDTO](t, rec)
}

func eq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func TestCreateObligation_Created(t *testing.T) {
	s := newTestServer(t)

	o := s.createObligation(t, 10, "120.50")

	assert.NotZero(t, o.ID)
	eq(t, "120.50", o.Amount)
	assert.Equal(t, "pending", o.Status)
	assert.Equal(t, "expense", o.Kind)
	assert.NotEmpty(t, o.CreatedAt)
	assert.Empty(t, o.SettledAt)
}

func TestCreateObligation_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"zero amount", map[string]any{"shop_id": 1, "user_id": 10, "amount": "0"}},
		{"negative amount", map[string]any{"shop_id": 1, "user_id": 10, "amount": "-5"}},
		{"unknown kind", map[string]any{"shop_id": 1, "user_id": 10, "amount": "5", "kind": "loan"}},
		{"missing user", map[string]any{"shop_id": 1, "amount": "5"}},
		{"not an object", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/obligations", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			errResp := decode[api.ErrorResponse](t, rec)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestGetObligation(t *testing.T) {
	s := newTestServer(t)
	o := s.createObligation(t, 10, "100")

	rec := s.do(t, http.MethodGet, "/api/obligations/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.ObligationDTO](t, rec)
	assert.Equal(t, o.ID, got.ID)
	require.NotNil(t, got.Outstanding)
	eq(t, "100", *got.Outstanding)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/obligations/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/obligations/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/obligations/0", nil).Code)
}

func TestRepayment_DryRunThenCommit(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Obligations of 100, 50, 30
	first := s.createObligation(t, 10, "100")
	second := s.createObligation(t, 10, "50")
	s.createObligation(t, 10, "30")

	// WHEN: Previewing a 120 repayment
	rec := s.do(t, http.MethodPost, "/api/shops/1/users/10/repayments", map[string]any{"amount": "120", "dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[api.RepaymentDTO](t, rec)

	// THEN: Plan is returned and nothing changes
	assert.True(t, preview.DryRun)
	require.Len(t, preview.Allocations, 2)
	total := decode[api.PendingTotalDTO](t, s.do(t, http.MethodGet, "/api/shops/1/users/10/pending-total", nil))
	eq(t, "180", total.Total)

	// WHEN: Committing it
	rec = s.do(t, http.MethodPost, "/api/shops/1/users/10/repayments", map[string]any{"amount": "120", "payment_id": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[api.RepaymentDTO](t, rec)

	// THEN: Oldest first, nothing left over
	assert.False(t, result.DryRun)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, first.ID, result.Allocations[0].ObligationID)
	assert.True(t, result.Allocations[0].FullySettled)
	assert.Equal(t, second.ID, result.Allocations[1].ObligationID)
	eq(t, "20", result.Allocations[1].SettledAmount)
	eq(t, "0", result.Remaining)

	pending := decode[[]api.ObligationDTO](t, s.do(t, http.MethodGet, "/api/shops/1/users/10/obligations", nil))
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)

	total = decode[api.PendingTotalDTO](t, s.do(t, http.MethodGet, "/api/shops/1/users/10/pending-total", nil))
	eq(t, "60", total.Total)

	view := decode[api.ObligationDTO](t, s.do(t, http.MethodGet, "/api/obligations/1", nil))
	assert.Equal(t, "settled", view.Status)
	require.Len(t, view.Settlements, 1)
	require.NotNil(t, view.Settlements[0].PaymentID)
	assert.Equal(t, int64(5), *view.Settlements[0].PaymentID)
}

func TestRepayment_ExceedsOutstanding(t *testing.T) {
	s := newTestServer(t)
	s.createObligation(t, 10, "100")
	s.createObligation(t, 10, "50")
	s.createObligation(t, 10, "30")

	rec := s.do(t, http.MethodPost, "/api/shops/1/users/10/repayments", map[string]any{"amount": 500})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[api.RepaymentDTO](t, rec)
	eq(t, "180", result.Applied)
	eq(t, "320", result.Remaining)
}

func TestRepayment_InvalidAmount(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/shops/1/users/10/repayments", map[string]any{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/shops/x/users/10/repayments", map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleObligation(t *testing.T) {
	s := newTestServer(t)
	s.createObligation(t, 10, "100")

	// WHEN: Settling more than outstanding
	rec := s.do(t, http.MethodPost, "/api/obligations/1/settle", map[string]any{"amount": "150", "notes": "write-off"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Capped at the amount
	view := decode[api.ObligationDTO](t, rec)
	assert.Equal(t, "settled", view.Status)
	require.NotNil(t, view.Settled)
	eq(t, "100", *view.Settled)
	eq(t, "100", view.Amount)

	// WHEN: Settling again
	rec = s.do(t, http.MethodPost, "/api/obligations/1/settle", map[string]any{"amount": "1"})

	// THEN: Conflict
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/obligations/42/settle", map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListObligations(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		s.createObligation(t, 10, "10")
	}
	s.createObligation(t, 11, "10")

	page := decode[api.ObligationPageDTO](t, s.do(t, http.MethodGet, "/api/shops/1/obligations?user_id=10&limit=2", nil))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)

	rec := s.do(t, http.MethodGet, "/api/shops/1/obligations?status=overdue", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BALANCES
// =============================================================================

func seedFarmer(t *testing.T, s *testServer, balance string) {
	t.Helper()
	ctx := context.Background()
	d := decimal.RequireFromString
	require.NoError(t, s.store.SaveUser(ctx, settlement.User{ID: 10, ShopID: 1, Username: "amara", Role: settlement.RoleFarmer, Balance: d(balance)}))
	require.NoError(t, s.store.SaveTransaction(ctx, settlement.Transaction{ID: 1, ShopID: 1, FarmerID: 10, BuyerID: 20, TotalAmount: d("1100"), FarmerEarning: d("1000"), PaymentStatus: "pending"}))
	require.NoError(t, s.store.SavePayment(ctx, settlement.Payment{ID: 1, ShopID: 1, PayerType: settlement.PartyShop, PayeeType: settlement.PartyFarmer, Amount: d("300"), Status: settlement.PaymentPaid}))
	require.NoError(t, s.store.SaveAllocation(ctx, settlement.PaymentAllocation{PaymentID: 1, TransactionID: 1, AllocatedAmount: d("300")}))
	s.createObligation(t, 10, "200")
}

func TestBalance_ValidateFixAndHistory(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Cached 650, computed 1000 - 300 - 200 = 500
	seedFarmer(t, s, "650")

	computed := decode[api.ComputedBalanceDTO](t, s.do(t, http.MethodGet, "/api/users/10/balance", nil))
	eq(t, "500", computed.Computed)

	breakdown := decode[api.BreakdownDTO](t, s.do(t, http.MethodGet, "/api/users/10/balance/breakdown", nil))
	eq(t, "1000", breakdown.Earned)
	require.NotNil(t, breakdown.Expenses)
	eq(t, "200", *breakdown.Expenses)

	report := decode[api.DriftReportDTO](t, s.do(t, http.MethodGet, "/api/users/10/balance/validate", nil))
	assert.False(t, report.IsValid)
	eq(t, "150", report.Drift)

	drifted := decode[[]api.DriftReportDTO](t, s.do(t, http.MethodGet, "/api/drift", nil))
	require.Len(t, drifted, 1)
	assert.Equal(t, int64(10), drifted[0].UserID)

	// WHEN: Fixing
	rec := s.do(t, http.MethodPost, "/api/users/10/balance/fix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fix := decode[api.FixResultDTO](t, rec)

	// THEN: Corrected and recorded
	assert.True(t, fix.Fixed)
	eq(t, "650", fix.Before)
	eq(t, "500", fix.After)

	report = decode[api.DriftReportDTO](t, s.do(t, http.MethodGet, "/api/users/10/balance/validate", nil))
	assert.True(t, report.IsValid)

	corrections := decode[[]api.BalanceCorrectionDTO](t, s.do(t, http.MethodGet, "/api/users/10/balance/corrections", nil))
	require.Len(t, corrections, 1)
	eq(t, "150", corrections[0].Drift)

	again := decode[api.FixResultDTO](t, s.do(t, http.MethodPost, "/api/users/10/balance/fix", nil))
	assert.False(t, again.Fixed)
}

func TestBalance_NetPayable(t *testing.T) {
	s := newTestServer(t)
	seedFarmer(t, s, "500")

	np := decode[api.NetPayableDTO](t, s.do(t, http.MethodGet, "/api/shops/1/farmers/10/net-payable", nil))
	eq(t, "500", np.CurrentBalance)
	eq(t, "200", np.PendingExpenses)
	eq(t, "500", np.NetPayable)
	assert.Len(t, np.Pending, 1)
}

func TestBalance_UnknownUserAndOwner(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.SaveUser(context.Background(), settlement.User{ID: 30, ShopID: 1, Username: "owner", Role: settlement.RoleOwner}))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/users/99/balance", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/users/99/balance/fix", nil).Code)

	rec := s.do(t, http.MethodGet, "/api/users/30/balance/breakdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(rec.Body.Bytes())))
}

// =============================================================================
// DRIFT SCANS AND AUDIT
// =============================================================================

func TestDriftScan_RecordsRun(t *testing.T) {
	s := newTestServer(t)
	seedFarmer(t, s, "650")

	rec := s.do(t, http.MethodPost, "/api/drift/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[api.ScanRunDTO](t, rec)
	assert.NotEmpty(t, run.ID)
	assert.NotEmpty(t, run.CompletedAt)
	assert.Equal(t, 1, run.Scanned)
	assert.Equal(t, 1, run.Drifted)
	assert.Zero(t, run.Fixed)

	runs := decode[[]api.ScanRunDTO](t, s.do(t, http.MethodGet, "/api/drift/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestDriftList_BadTolerance(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/drift?tolerance=abc", nil).Code)

	rec := s.do(t, http.MethodGet, "/api/drift?tolerance=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.DriftReportDTO](t, rec))
}

func TestAuditShop(t *testing.T) {
	s := newTestServer(t)
	seedFarmer(t, s, "500")

	rec := s.do(t, http.MethodGet, "/api/shops/1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	audit := decode[api.ShopAuditDTO](t, rec)

	assert.Equal(t, int64(1), audit.ShopID)
	assert.Len(t, audit.Users, 1)
	assert.Len(t, audit.Payments, 1)
	require.Len(t, audit.Transactions, 1)
	// 300 of 1100 paid, still marked pending.
	assert.Equal(t, "partial", audit.Transactions[0].CalculatedStatus)
	assert.False(t, audit.Healthy)
	assert.Equal(t, []string{"1 transaction(s) have incorrect payment status"}, audit.Recommendations)

	payment := decode[api.PaymentReconciliationDTO](t, s.do(t, http.MethodGet, "/api/payments/1/reconcile", nil))
	assert.True(t, payment.FullyAllocated)

	tx := decode[api.TransactionReconciliationDTO](t, s.do(t, http.MethodGet, "/api/transactions/1/reconcile", nil))
	assert.False(t, tx.StatusMatches)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/payments/9/reconcile", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/transactions/9/reconcile", nil).Code)
}

func TestAuditShop_EmptyShopHasNoRecommendations(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/shops/7/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recommendations":[]`)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
