package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/metrics"
)

// SettleAmount applies amount to a single obligation outside the FIFO walk,
// for manual corrections. It records a Settlement row like the allocator
// does and never edits Obligation.Amount. Amounts beyond what is outstanding
// are capped, so the obligation ends fully settled; an obligation with
// nothing outstanding yields *OverSettlementError.
func (s *Service) SettleAmount(ctx context.Context, id ObligationID, amount decimal.Decimal, notes string) (ObligationView, error) {
	if !amount.IsPositive() {
		return ObligationView{}, invalidAmount("amount", amount)
	}
	if notes == "" {
		notes = "Manual settlement"
	}

	var (
		view      ObligationView
		completed []Obligation
	)

	err := s.store.WithTx(ctx, func(tx Store) error {
		o, err := tx.GetObligation(ctx, id)
		if err != nil {
			return err
		}
		totals, err := tx.SettledAmounts(ctx, []ObligationID{id})
		if err != nil {
			return err
		}
		already := totals[id]
		outstanding := o.Amount.Sub(already)
		if !outstanding.IsPositive() {
			return &OverSettlementError{ObligationID: id, Amount: o.Amount, Settled: already, Requested: amount}
		}

		apply := decimal.Min(amount, outstanding)
		now := s.now()
		if _, err := tx.AppendSettlement(ctx, Settlement{
			ObligationID: id,
			Amount:       apply,
			SettledAt:    now,
			Notes:        notes,
		}); err != nil {
			return err
		}
		if already.Add(apply).GreaterThanOrEqual(o.Amount) {
			if err := tx.MarkSettled(ctx, id, now); err != nil {
				return err
			}
			o.SettledAt = &now
			completed = append(completed, o)
		}

		view, err = loadView(ctx, tx, id)
		return err
	})
	if err != nil {
		var over *OverSettlementError
		if errors.As(err, &over) {
			s.logger.WarnContext(ctx, "settlement rejected", "obligation_id", id, "error", err)
		}
		return ObligationView{}, err
	}

	metrics.SettlementsRecorded.Inc()
	s.logger.InfoContext(ctx, "manual settlement recorded",
		"obligation_id", id,
		"requested", amount.String(),
		"outstanding", view.Outstanding.String(),
	)
	s.settled(ctx, completed)
	return view, nil
}
