/*
obligation.go - Obligation lifecycle

LIFECYCLE:
  Pending  -> created by CreateObligation, settled total < amount
  Settled  -> MarkSettled once the settled total reaches amount

  Obligations are never deleted and their Amount never changes. Settlement
  progress lives in the settlements table and is read back through a single
  batch query (SettledAmounts) whenever more than one obligation is involved.

BALANCE:
  Creating an obligation does NOT touch the user's cached balance. The
  transaction/payment workflow already subtracts unsettled obligations when
  it recomputes a farmer's balance; writing here would double-count.
*/
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/metrics"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service owns obligations and settlements.
type Service struct {
	store     TxStore
	logger    *slog.Logger
	now       func() time.Time
	onSettled func(ctx context.Context, o Obligation)
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now for CreatedAt/SettledAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSettledHook registers fn to run after commit for every obligation an
// operation transitioned to settled.
func WithSettledHook(fn func(ctx context.Context, o Obligation)) Option {
	return func(s *Service) { s.onSettled = fn }
}

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateObligation validates and inserts a new pending obligation.
func (s *Service) CreateObligation(ctx context.Context, in NewObligation) (Obligation, error) {
	if in.ShopID <= 0 {
		return Obligation{}, &ValidationError{Field: "shop_id", Message: "must be positive"}
	}
	if in.UserID <= 0 {
		return Obligation{}, &ValidationError{Field: "user_id", Message: "must be positive"}
	}
	if !in.Amount.IsPositive() {
		return Obligation{}, invalidAmount("amount", in.Amount)
	}
	if in.Kind == "" {
		in.Kind = KindExpense
	}
	if !in.Kind.Valid() {
		return Obligation{}, &ValidationError{Field: "kind", Message: "must be expense, advance or adjustment"}
	}

	o, err := s.store.CreateObligation(ctx, Obligation{
		ShopID:        in.ShopID,
		UserID:        in.UserID,
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Kind:          in.Kind,
		Description:   in.Description,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return Obligation{}, err
	}

	metrics.ObligationsCreated.WithLabelValues(string(o.Kind)).Inc()
	s.logger.InfoContext(ctx, "obligation created",
		"obligation_id", o.ID,
		"shop_id", o.ShopID,
		"user_id", o.UserID,
		"kind", o.Kind,
		"amount", o.Amount.String(),
	)
	return o, nil
}

// ListPendingObligations returns the user's pending obligations oldest-first.
// This order is the allocation order used by ApplyRepaymentFIFO.
func (s *Service) ListPendingObligations(ctx context.Context, shopID ShopID, userID UserID) ([]Obligation, error) {
	return s.store.FindPendingByUser(ctx, shopID, userID)
}

// GetObligation returns the obligation with its settlement history.
func (s *Service) GetObligation(ctx context.Context, id ObligationID) (ObligationView, error) {
	return loadView(ctx, s.store, id)
}

// ObligationPage is one page of ListObligations.
type ObligationPage struct {
	Items []ObligationView
	Total int
	Page  int
	Limit int
}

// ListObligations pages through a shop's obligations newest-first, with
// settled and outstanding amounts loaded in one batch query per page.
func (s *Service) ListObligations(ctx context.Context, filter ObligationFilter, page, limit int) (ObligationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	filter.Offset = (page - 1) * limit
	filter.Limit = limit

	obs, total, err := s.store.ListObligations(ctx, filter)
	if err != nil {
		return ObligationPage{}, err
	}

	ids := make([]ObligationID, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	settled, err := s.store.SettledAmounts(ctx, ids)
	if err != nil {
		return ObligationPage{}, err
	}

	items := make([]ObligationView, len(obs))
	for i, o := range obs {
		items[i] = newView(o, settled[o.ID])
	}
	return ObligationPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// PendingTotal sums what is still outstanding across the user's pending obligations.
func (s *Service) PendingTotal(ctx context.Context, shopID ShopID, userID UserID) (decimal.Decimal, error) {
	views, err := s.pendingViews(ctx, shopID, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, v := range views {
		total = total.Add(v.Outstanding)
	}
	return total, nil
}

// NetPayable is what the shop can pay a farmer right now.
type NetPayable struct {
	FarmerID        UserID
	CurrentBalance  decimal.Decimal
	PendingExpenses decimal.Decimal
	NetPayable      decimal.Decimal
	Pending         []ObligationView
}

// NetPayable reports the farmer's cached balance alongside pending obligations.
// The cached balance already has unsettled obligations deducted, so the net
// payable is the cached balance clamped at zero, not balance minus pending.
func (s *Service) NetPayable(ctx context.Context, shopID ShopID, farmerID UserID) (NetPayable, error) {
	user, err := s.store.GetUser(ctx, farmerID)
	if err != nil {
		return NetPayable{}, err
	}
	views, err := s.pendingViews(ctx, shopID, farmerID)
	if err != nil {
		return NetPayable{}, err
	}
	pending := decimal.Zero
	for _, v := range views {
		pending = pending.Add(v.Outstanding)
	}
	return NetPayable{
		FarmerID:        farmerID,
		CurrentBalance:  user.Balance,
		PendingExpenses: pending,
		NetPayable:      decimal.Max(decimal.Zero, user.Balance),
		Pending:         views,
	}, nil
}

// MarkSettled transitions a fully settled obligation to settled. Calling it on
// an already settled obligation is a no-op; calling it while an amount is
// still outstanding returns ErrOutstandingBalance.
func (s *Service) MarkSettled(ctx context.Context, id ObligationID) (Obligation, error) {
	var out Obligation
	err := s.store.WithTx(ctx, func(tx Store) error {
		o, err := tx.GetObligation(ctx, id)
		if err != nil {
			return err
		}
		totals, err := tx.SettledAmounts(ctx, []ObligationID{id})
		if err != nil {
			return err
		}
		if settled := totals[id]; settled.LessThan(o.Amount) {
			return fmt.Errorf("obligation %d: %s of %s outstanding: %w",
				id, o.Amount.Sub(settled), o.Amount, ErrOutstandingBalance)
		}
		if err := tx.MarkSettled(ctx, id, s.now()); err != nil {
			return err
		}
		out, err = tx.GetObligation(ctx, id)
		return err
	})
	if err != nil {
		return Obligation{}, err
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) pendingViews(ctx context.Context, shopID ShopID, userID UserID) ([]ObligationView, error) {
	obs, err := s.store.FindPendingByUser(ctx, shopID, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]ObligationID, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	settled, err := s.store.SettledAmounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	views := make([]ObligationView, len(obs))
	for i, o := range obs {
		views[i] = newView(o, settled[o.ID])
	}
	return views, nil
}

func newView(o Obligation, settled decimal.Decimal) ObligationView {
	return ObligationView{
		Obligation:  o,
		Settled:     settled,
		Outstanding: decimal.Max(decimal.Zero, o.Amount.Sub(settled)),
	}
}

func loadView(ctx context.Context, store Store, id ObligationID) (ObligationView, error) {
	o, err := store.GetObligation(ctx, id)
	if err != nil {
		return ObligationView{}, err
	}
	settlements, err := store.ListSettlements(ctx, id)
	if err != nil {
		return ObligationView{}, err
	}
	settled := decimal.Zero
	for _, st := range settlements {
		settled = settled.Add(st.Amount)
	}
	v := newView(o, settled)
	v.Settlements = settlements
	return v, nil
}
