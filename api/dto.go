/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  decimal.Decimal marshals as a JSON string ("120.50") and unmarshals from
  either a string or a number, so amounts never pass through float64.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// OBLIGATIONS
// =============================================================================

type CreateObligationRequest struct {
	ShopID        int64           `json:"shop_id"`
	UserID        int64           `json:"user_id"`
	TransactionID *int64          `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          string          `json:"kind"`
	Description   string          `json:"description"`
}

type ObligationDTO struct {
	ID            int64            `json:"id"`
	ShopID        int64            `json:"shop_id"`
	UserID        int64            `json:"user_id"`
	TransactionID *int64           `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Settled       *decimal.Decimal `json:"settled,omitempty"`
	Outstanding   *decimal.Decimal `json:"outstanding,omitempty"`
	Kind          string           `json:"kind"`
	Description   string           `json:"description"`
	Status        string           `json:"status"`
	CreatedAt     string           `json:"created_at"`
	SettledAt     string           `json:"settled_at,omitempty"`
	Settlements   []SettlementDTO  `json:"settlements,omitempty"`
}

type SettlementDTO struct {
	ID        int64           `json:"id"`
	PaymentID *int64          `json:"payment_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	SettledAt string          `json:"settled_at"`
	Notes     string          `json:"notes"`
}

type ObligationPageDTO struct {
	Items []ObligationDTO `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

type RepaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaymentID *int64          `json:"payment_id,omitempty"`
	DryRun    bool            `json:"dry_run"`
	Notes     string          `json:"notes,omitempty"`
}

type AllocationLineDTO struct {
	ObligationID  int64           `json:"obligation_id"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
	FullySettled  bool            `json:"fully_settled"`
}

type RepaymentDTO struct {
	Allocations []AllocationLineDTO `json:"allocations"`
	Applied     decimal.Decimal     `json:"applied"`
	Remaining   decimal.Decimal     `json:"remaining"`
	DryRun      bool                `json:"dry_run"`
}

type SettleRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes,omitempty"`
}

type PendingTotalDTO struct {
	ShopID int64           `json:"shop_id"`
	UserID int64           `json:"user_id"`
	Total  decimal.Decimal `json:"total"`
}

type NetPayableDTO struct {
	FarmerID        int64           `json:"farmer_id"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	PendingExpenses decimal.Decimal `json:"pending_expenses"`
	NetPayable      decimal.Decimal `json:"net_payable"`
	Pending         []ObligationDTO `json:"pending"`
}

// =============================================================================
// BALANCES
// =============================================================================

type ComputedBalanceDTO struct {
	UserID   int64           `json:"user_id"`
	Computed decimal.Decimal `json:"computed"`
}

type BreakdownDTO struct {
	Role     string           `json:"role"`
	Earned   decimal.Decimal  `json:"earned"`
	Paid     decimal.Decimal  `json:"paid"`
	Pending  decimal.Decimal  `json:"pending"`
	Expenses *decimal.Decimal `json:"expenses,omitempty"`
	Net      decimal.Decimal  `json:"net"`
}

type DriftReportDTO struct {
	UserID       int64           `json:"user_id"`
	Username     string          `json:"username"`
	Role         string          `json:"role"`
	Stored       decimal.Decimal `json:"stored"`
	Computed     decimal.Decimal `json:"computed"`
	Drift        decimal.Decimal `json:"drift"`
	DriftPercent decimal.Decimal `json:"drift_percent"`
	IsValid      bool            `json:"is_valid"`
	Breakdown    *BreakdownDTO   `json:"breakdown,omitempty"`
}

type FixResultDTO struct {
	UserID int64           `json:"user_id"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
	Fixed  bool            `json:"fixed"`
}

type BalanceCorrectionDTO struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Before    decimal.Decimal `json:"before"`
	After     decimal.Decimal `json:"after"`
	Drift     decimal.Decimal `json:"drift"`
	Reason    string          `json:"reason"`
	CreatedAt string          `json:"created_at"`
}

// =============================================================================
// AUDIT
// =============================================================================

type PaymentReconciliationDTO struct {
	PaymentID      int64           `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	Allocated      decimal.Decimal `json:"allocated"`
	Unallocated    decimal.Decimal `json:"unallocated"`
	FullyAllocated bool            `json:"fully_allocated"`
}

type TransactionReconciliationDTO struct {
	TransactionID    int64           `json:"transaction_id"`
	Total            decimal.Decimal `json:"total"`
	Paid             decimal.Decimal `json:"paid"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	CalculatedStatus string          `json:"calculated_status"`
	CurrentStatus    string          `json:"current_status"`
	StatusMatches    bool            `json:"status_matches"`
}

type ShopAuditDTO struct {
	ShopID           int64                          `json:"shop_id"`
	Users            []DriftReportDTO               `json:"users"`
	Payments         []PaymentReconciliationDTO     `json:"payments"`
	Transactions     []TransactionReconciliationDTO `json:"transactions"`
	TotalDiscrepancy decimal.Decimal                `json:"total_discrepancy"`
	Healthy          bool                           `json:"healthy"`
	Recommendations  []string                       `json:"recommendations"`
}

type ScanRunDTO struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Scanned     int    `json:"scanned"`
	Drifted     int    `json:"drifted"`
	Fixed       int    `json:"fixed"`
	Error       string `json:"error,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toObligationDTO(o settlement.Obligation) ObligationDTO {
	dto := ObligationDTO{
		ID:          int64(o.ID),
		ShopID:      int64(o.ShopID),
		UserID:      int64(o.UserID),
		Amount:      o.Amount,
		Kind:        string(o.Kind),
		Description: o.Description,
		Status:      string(o.Status()),
		CreatedAt:   formatTime(o.CreatedAt),
	}
	if o.TransactionID != nil {
		id := int64(*o.TransactionID)
		dto.TransactionID = &id
	}
	if o.SettledAt != nil {
		dto.SettledAt = formatTime(*o.SettledAt)
	}
	return dto
}

func toObligationViewDTO(v settlement.ObligationView) ObligationDTO {
	dto := toObligationDTO(v.Obligation)
	settled, outstanding := v.Settled, v.Outstanding
	dto.Settled = &settled
	dto.Outstanding = &outstanding
	for _, s := range v.Settlements {
		dto.Settlements = append(dto.Settlements, toSettlementDTO(s))
	}
	return dto
}

func toObligationViewDTOs(views []settlement.ObligationView) []ObligationDTO {
	dtos := make([]ObligationDTO, len(views))
	for i, v := range views {
		dtos[i] = toObligationViewDTO(v)
	}
	return dtos
}

func toSettlementDTO(s settlement.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:        int64(s.ID),
		Amount:    s.Amount,
		SettledAt: formatTime(s.SettledAt),
		Notes:     s.Notes,
	}
	if s.PaymentID != nil {
		id := int64(*s.PaymentID)
		dto.PaymentID = &id
	}
	return dto
}

func toRepaymentDTO(r settlement.AllocationResult) RepaymentDTO {
	dto := RepaymentDTO{
		Allocations: make([]AllocationLineDTO, len(r.Lines)),
		Applied:     r.Applied,
		Remaining:   r.Remaining,
		DryRun:      r.DryRun,
	}
	for i, l := range r.Lines {
		dto.Allocations[i] = AllocationLineDTO{
			ObligationID:  int64(l.ObligationID),
			Outstanding:   l.Outstanding,
			SettledAmount: l.SettledAmount,
			FullySettled:  l.FullySettled,
		}
	}
	return dto
}

func toBreakdownDTO(b *settlement.Breakdown) *BreakdownDTO {
	if b == nil {
		return nil
	}
	return &BreakdownDTO{
		Role:     string(b.Role),
		Earned:   b.Earned,
		Paid:     b.Paid,
		Pending:  b.Pending,
		Expenses: b.Expenses,
		Net:      b.Net,
	}
}

func toDriftReportDTO(r settlement.DriftReport) DriftReportDTO {
	return DriftReportDTO{
		UserID:       int64(r.UserID),
		Username:     r.Username,
		Role:         string(r.Role),
		Stored:       r.Stored,
		Computed:     r.Computed,
		Drift:        r.Drift,
		DriftPercent: r.DriftPercent,
		IsValid:      r.IsValid,
		Breakdown:    toBreakdownDTO(r.Breakdown),
	}
}

func toDriftReportDTOs(reports []settlement.DriftReport) []DriftReportDTO {
	dtos := make([]DriftReportDTO, len(reports))
	for i, r := range reports {
		dtos[i] = toDriftReportDTO(r)
	}
	return dtos
}

func toPaymentReconciliationDTO(r settlement.PaymentReconciliation) PaymentReconciliationDTO {
	return PaymentReconciliationDTO{
		PaymentID:      int64(r.PaymentID),
		Amount:         r.Amount,
		Allocated:      r.Allocated,
		Unallocated:    r.Unallocated,
		FullyAllocated: r.FullyAllocated,
	}
}

func toTransactionReconciliationDTO(r settlement.TransactionReconciliation) TransactionReconciliationDTO {
	return TransactionReconciliationDTO{
		TransactionID:    int64(r.TransactionID),
		Total:            r.Total,
		Paid:             r.Paid,
		Outstanding:      r.Outstanding,
		CalculatedStatus: r.CalculatedStatus,
		CurrentStatus:    r.CurrentStatus,
		StatusMatches:    r.StatusMatches,
	}
}

func toShopAuditDTO(a settlement.ShopAudit) ShopAuditDTO {
	dto := ShopAuditDTO{
		ShopID:           int64(a.ShopID),
		Users:            toDriftReportDTOs(a.Users),
		Payments:         make([]PaymentReconciliationDTO, len(a.Payments)),
		Transactions:     make([]TransactionReconciliationDTO, len(a.Transactions)),
		TotalDiscrepancy: a.TotalDiscrepancy,
		Healthy:          a.Healthy,
		Recommendations:  a.Recommendations,
	}
	for i, p := range a.Payments {
		dto.Payments[i] = toPaymentReconciliationDTO(p)
	}
	for i, t := range a.Transactions {
		dto.Transactions[i] = toTransactionReconciliationDTO(t)
	}
	if dto.Recommendations == nil {
		dto.Recommendations = []string{}
	}
	return dto
}

func toScanRunDTO(r settlement.DriftScanRun) ScanRunDTO {
	dto := ScanRunDTO{
		ID:        r.ID,
		StartedAt: formatTime(r.StartedAt),
		Scanned:   r.Scanned,
		Drifted:   r.Drifted,
		Fixed:     r.Fixed,
		Error:     r.Error,
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatTime(*r.CompletedAt)
	}
	return dto
}
