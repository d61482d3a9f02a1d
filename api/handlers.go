/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes obligations, repayments, balance checks and shop audits over
  REST. Handlers parse the request, call the engine and serialize the
  result; no business rules live here.

ENDPOINTS:
  Obligations:
    POST   /api/obligations                               Create obligation
    GET    /api/obligations/{id}                          Obligation with settlement history
    POST   /api/obligations/{id}/settle                   Settle an amount on one obligation
    GET    /api/shops/{shopID}/obligations                Paged list (?user_id, ?status, ?page, ?limit)
    GET    /api/shops/{shopID}/users/{userID}/obligations Pending obligations, FIFO order
    GET    /api/shops/{shopID}/users/{userID}/pending-total
    POST   /api/shops/{shopID}/users/{userID}/repayments  FIFO repayment (dry_run supported)
    GET    /api/shops/{shopID}/farmers/{userID}/net-payable

  Balances:
    GET    /api/users/{id}/balance                        Computed balance
    GET    /api/users/{id}/balance/breakdown
    GET    /api/users/{id}/balance/validate               Drift report
    POST   /api/users/{id}/balance/fix                    Overwrite cache if drifted
    GET    /api/users/{id}/balance/corrections            Correction history

  Reconciliation:
    GET    /api/drift                                     Drifted users (?tolerance)
    POST   /api/drift/scan                                Run a scan now
    GET    /api/drift/runs                                Scan history (?limit)
    GET    /api/shops/{shopID}/audit                      Full shop audit
    GET    /api/payments/{id}/reconcile
    GET    /api/transactions/{id}/reconcile

ERROR HANDLING:
  Engine errors are mapped by writeDomainError:
  - 400: Validation errors, malformed ids or bodies
  - 404: User, obligation, payment or transaction not found
  - 409: Over-settlement, lost compare-and-set
  - 500: Storage and unexpected errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service    *settlement.Service
	Calculator *settlement.Calculator
	Auditor    *settlement.Auditor
	Store      settlement.Store
	Scheduler  *DriftScanScheduler
	Logger     *slog.Logger

	// Seeder is set when the store can be reset and seeded for scenarios.
	Seeder Seeder

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires the engine components over store.
func NewHandler(store settlement.TxStore, runs settlement.ScanRunStore, logger *slog.Logger, tolerance decimal.Decimal) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	svc := settlement.NewService(store, settlement.WithLogger(logger))
	calc := settlement.NewCalculator(store,
		settlement.WithTolerance(tolerance),
		settlement.WithCalculatorLogger(logger),
	)
	scheduler := NewDriftScanScheduler(calc, runs)
	scheduler.Logger = logger

	h := &Handler{
		Service:    svc,
		Calculator: calc,
		Auditor:    settlement.NewAuditor(store, calc),
		Store:      store,
		Scheduler:  scheduler,
		Logger:     logger,
	}
	if seeder, ok := store.(Seeder); ok {
		h.Seeder = seeder
	}
	return h
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

// CreateObligation records a new expense, advance or adjustment.
func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req CreateObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := settlement.NewObligation{
		ShopID:      settlement.ShopID(req.ShopID),
		UserID:      settlement.UserID(req.UserID),
		Amount:      req.Amount,
		Kind:        settlement.ObligationKind(req.Kind),
		Description: req.Description,
	}
	if req.TransactionID != nil {
		id := settlement.TransactionID(*req.TransactionID)
		in.TransactionID = &id
	}

	o, err := h.Service.CreateObligation(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to create obligation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toObligationDTO(o))
}

func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.Service.GetObligation(r.Context(), settlement.ObligationID(id))
	if err != nil {
		writeDomainError(w, "Failed to get obligation", err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationViewDTO(view))
}

func (h *Handler) SettleObligation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	view, err := h.Service.SettleAmount(r.Context(), settlement.ObligationID(id), req.Amount, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to settle obligation", err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationViewDTO(view))
}

func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	shopID, ok := pathID(w, r, "shopID")
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := settlement.ObligationFilter{ShopID: settlement.ShopID(shopID)}
	if v := q.Get("user_id"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid user_id", err)
			return
		}
		filter.UserID = settlement.UserID(userID)
	}
	switch status := settlement.ObligationStatus(q.Get("status")); status {
	case "", settlement.StatusPending, settlement.StatusSettled:
		filter.Status = status
	default:
		writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", status))
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.Service.ListObligations(r.Context(), filter, page, limit)
	if err != nil {
		writeDomainError(w, "Failed to list obligations", err)
		return
	}
	writeJSON(w, http.StatusOK, ObligationPageDTO{
		Items: toObligationViewDTOs(result.Items),
		Total: result.Total,
		Page:  result.Page,
		Limit: result.Limit,
	})
}

// ListPendingObligations returns the user's pending obligations in the order
// repayments will consume them.
func (h *Handler) ListPendingObligations(w http.ResponseWriter, r *http.Request) {
	shopID, userID, ok := shopAndUser(w, r)
	if !ok {
		return
	}
	obs, err := h.Service.ListPendingObligations(r.Context(), shopID, userID)
	if err != nil {
		writeDomainError(w, "Failed to list pending obligations", err)
		return
	}
	dtos := make([]ObligationDTO, len(obs))
	for i, o := range obs {
		dtos[i] = toObligationDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPendingTotal(w http.ResponseWriter, r *http.Request) {
	shopID, userID, ok := shopAndUser(w, r)
	if !ok {
		return
	}
	total, err := h.Service.PendingTotal(r.Context(), shopID, userID)
	if err != nil {
		writeDomainError(w, "Failed to compute pending total", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingTotalDTO{ShopID: int64(shopID), UserID: int64(userID), Total: total})
}

func (h *Handler) ApplyRepayment(w http.ResponseWriter, r *http.Request) {
	shopID, userID, ok := shopAndUser(w, r)
	if !ok {
		return
	}
	var req RepaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var paymentID *settlement.PaymentID
	if req.PaymentID != nil {
		id := settlement.PaymentID(*req.PaymentID)
		paymentID = &id
	}

	result, err := h.Service.ApplyRepaymentFIFO(r.Context(), shopID, userID, req.Amount, paymentID,
		settlement.ApplyOptions{DryRun: req.DryRun, Notes: req.Notes})
	if err != nil {
		writeDomainError(w, "Failed to apply repayment", err)
		return
	}
	writeJSON(w, http.StatusOK, toRepaymentDTO(result))
}

func (h *Handler) GetNetPayable(w http.ResponseWriter, r *http.Request) {
	shopID, userID, ok := shopAndUser(w, r)
	if !ok {
		return
	}
	np, err := h.Service.NetPayable(r.Context(), shopID, userID)
	if err != nil {
		writeDomainError(w, "Failed to compute net payable", err)
		return
	}
	writeJSON(w, http.StatusOK, NetPayableDTO{
		FarmerID:        int64(np.FarmerID),
		CurrentBalance:  np.CurrentBalance,
		PendingExpenses: np.PendingExpenses,
		NetPayable:      np.NetPayable,
		Pending:         toObligationViewDTOs(np.Pending),
	})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) GetComputedBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	computed, err := h.Calculator.ComputeBalance(r.Context(), settlement.UserID(id))
	if err != nil {
		writeDomainError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, ComputedBalanceDTO{UserID: id, Computed: computed})
}

// GetBreakdown returns null for users without a ledger balance.
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.Calculator.Breakdown(r.Context(), settlement.UserID(id))
	if err != nil {
		writeDomainError(w, "Failed to compute breakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

func (h *Handler) ValidateBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.Calculator.ValidateBalanceConsistency(r.Context(), settlement.UserID(id))
	if err != nil {
		writeDomainError(w, "Failed to validate balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toDriftReportDTO(report))
}

func (h *Handler) FixBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.Calculator.FixBalanceDrift(r.Context(), settlement.UserID(id))
	if err != nil {
		writeDomainError(w, "Failed to fix balance", err)
		return
	}
	writeJSON(w, http.StatusOK, FixResultDTO{
		UserID: int64(result.UserID),
		Before: result.Before,
		After:  result.After,
		Fixed:  result.Fixed,
	})
}

func (h *Handler) ListCorrections(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	corrections, err := h.Store.ListBalanceCorrections(r.Context(), settlement.UserID(id))
	if err != nil {
		writeDomainError(w, "Failed to list corrections", err)
		return
	}
	dtos := make([]BalanceCorrectionDTO, len(corrections))
	for i, c := range corrections {
		dtos[i] = BalanceCorrectionDTO{
			ID:        c.ID,
			UserID:    int64(c.UserID),
			Before:    c.Before,
			After:     c.After,
			Drift:     c.Drift,
			Reason:    c.Reason,
			CreatedAt: formatTime(c.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

func (h *Handler) ListDriftedUsers(w http.ResponseWriter, r *http.Request) {
	tolerance := decimal.Zero
	if v := r.URL.Query().Get("tolerance"); v != "" {
		t, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tolerance", err)
			return
		}
		tolerance = t
	}

	reports, err := h.Calculator.FindDriftedUsers(r.Context(), tolerance)
	if err != nil {
		writeDomainError(w, "Failed to find drifted users", err)
		return
	}
	writeJSON(w, http.StatusOK, toDriftReportDTOs(reports))
}

func (h *Handler) TriggerDriftScan(w http.ResponseWriter, r *http.Request) {
	run, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		writeDomainError(w, "Drift scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toScanRunDTO(run))
}

func (h *Handler) ListScanRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	runs, err := h.Scheduler.Runs.ListScanRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "Failed to list scan runs", err)
		return
	}
	dtos := make([]ScanRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toScanRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AuditShop(w http.ResponseWriter, r *http.Request) {
	shopID, ok := pathID(w, r, "shopID")
	if !ok {
		return
	}
	audit, err := h.Auditor.AuditShop(r.Context(), settlement.ShopID(shopID))
	if err != nil {
		writeDomainError(w, "Failed to audit shop", err)
		return
	}
	writeJSON(w, http.StatusOK, toShopAuditDTO(audit))
}

func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.Auditor.ReconcilePayment(r.Context(), settlement.PaymentID(id))
	if err != nil {
		writeDomainError(w, "Failed to reconcile payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentReconciliationDTO(rec))
}

func (h *Handler) ReconcileTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.Auditor.ReconcileTransaction(r.Context(), settlement.TransactionID(id))
	if err != nil {
		writeDomainError(w, "Failed to reconcile transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionReconciliationDTO(rec))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case settlement.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case settlement.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

var errBadID = errors.New("id must be a positive integer")

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, errBadID)
		return 0, false
	}
	return id, true
}

func shopAndUser(w http.ResponseWriter, r *http.Request) (settlement.ShopID, settlement.UserID, bool) {
	shopID, ok := pathID(w, r, "shopID")
	if !ok {
		return 0, 0, false
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return 0, 0, false
	}
	return settlement.ShopID(shopID), settlement.UserID(userID), true
}
