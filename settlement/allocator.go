/*
allocator.go - FIFO repayment allocation

ALGORITHM:
  1. Load pending obligations for (shop, user), oldest-first
  2. Load settled totals for all of them in one query
  3. Walk in order: apply min(remaining, outstanding) to each
  4. Record a Settlement per touched obligation, mark fully paid ones settled
  5. Return per-obligation lines and the unconsumed remainder

  Steps 1-4 run inside a single store transaction, so concurrent repayments
  for the same user are serialized and cannot both consume the same
  outstanding amount.

EXAMPLE:
  Obligations (oldest first): 100, 50, 30. Repayment: 120.
    #1: apply 100 (fully settled)   remaining 20
    #2: apply 20  (partial)         remaining 0
    #3: untouched

DRY RUN:
  ApplyOptions.DryRun computes the same plan without writing anything.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/metrics"
)

type ApplyOptions struct {
	DryRun bool
	// Notes overrides the default "Settled via payment N" note.
	Notes string
}

// AllocationLine is the effect of a repayment on one obligation.
type AllocationLine struct {
	ObligationID  ObligationID
	Outstanding   decimal.Decimal // before this repayment
	SettledAmount decimal.Decimal
	FullySettled  bool
}

type AllocationResult struct {
	Lines     []AllocationLine
	Applied   decimal.Decimal
	Remaining decimal.Decimal
	DryRun    bool
}

// ApplyRepaymentFIFO allocates amount against the user's pending obligations,
// oldest first. A remainder is not an error: callers decide what to do with
// residual credit.
func (s *Service) ApplyRepaymentFIFO(
	ctx context.Context,
	shopID ShopID,
	userID UserID,
	amount decimal.Decimal,
	paymentID *PaymentID,
	opts ApplyOptions,
) (AllocationResult, error) {
	if !amount.IsPositive() {
		return AllocationResult{}, invalidAmount("amount", amount)
	}

	var (
		result    AllocationResult
		completed []Obligation
	)

	err := s.store.WithTx(ctx, func(tx Store) error {
		pending, err := tx.FindPendingByUser(ctx, shopID, userID)
		if err != nil {
			return err
		}

		ids := make([]ObligationID, len(pending))
		for i, o := range pending {
			ids[i] = o.ID
		}
		settled, err := tx.SettledAmounts(ctx, ids)
		if err != nil {
			return err
		}

		lines, remaining := PlanFIFO(pending, settled, amount)
		result = AllocationResult{
			Lines:     lines,
			Applied:   amount.Sub(remaining),
			Remaining: remaining,
			DryRun:    opts.DryRun,
		}
		if opts.DryRun {
			return nil
		}

		byID := make(map[ObligationID]Obligation, len(pending))
		for _, o := range pending {
			byID[o.ID] = o
		}

		now := s.now()
		for _, line := range lines {
			if _, err := tx.AppendSettlement(ctx, Settlement{
				ObligationID: line.ObligationID,
				PaymentID:    paymentID,
				Amount:       line.SettledAmount,
				SettledAt:    now,
				Notes:        repaymentNotes(opts.Notes, paymentID),
			}); err != nil {
				return err
			}
			if line.FullySettled {
				if err := tx.MarkSettled(ctx, line.ObligationID, now); err != nil {
					return err
				}
				o := byID[line.ObligationID]
				o.SettledAt = &now
				completed = append(completed, o)
			}
		}
		return nil
	})
	if err != nil {
		return AllocationResult{}, err
	}

	if opts.DryRun {
		metrics.RepaymentsApplied.WithLabelValues("dry_run").Inc()
		return result, nil
	}

	metrics.RepaymentsApplied.WithLabelValues("commit").Inc()
	metrics.SettlementsRecorded.Add(float64(len(result.Lines)))
	residual, _ := result.Remaining.Float64()
	metrics.RepaymentResidual.Observe(residual)

	s.logger.InfoContext(ctx, "repayment applied",
		"shop_id", shopID,
		"user_id", userID,
		"amount", amount.String(),
		"applied", result.Applied.String(),
		"remaining", result.Remaining.String(),
		"obligations", len(result.Lines),
	)
	s.settled(ctx, completed)
	return result, nil
}

// PlanFIFO computes the allocation of amount across obligations in the given
// order. settled holds the already-settled total per obligation. It performs
// no I/O and is shared by committed and dry-run repayments.
func PlanFIFO(obligations []Obligation, settled map[ObligationID]decimal.Decimal, amount decimal.Decimal) ([]AllocationLine, decimal.Decimal) {
	remaining := amount
	var lines []AllocationLine

	for _, o := range obligations {
		if !remaining.IsPositive() {
			break
		}

		already := settled[o.ID]
		outstanding := o.Amount.Sub(already)
		if !outstanding.IsPositive() {
			continue
		}

		apply := decimal.Min(remaining, outstanding)
		lines = append(lines, AllocationLine{
			ObligationID:  o.ID,
			Outstanding:   outstanding,
			SettledAmount: apply,
			FullySettled:  already.Add(apply).GreaterThanOrEqual(o.Amount),
		})
		remaining = remaining.Sub(apply)
	}

	return lines, remaining
}

func (s *Service) settled(ctx context.Context, obs []Obligation) {
	for _, o := range obs {
		metrics.ObligationsSettled.Inc()
		s.logger.InfoContext(ctx, "obligation settled",
			"obligation_id", o.ID,
			"user_id", o.UserID,
			"amount", o.Amount.String(),
		)
		if s.onSettled != nil {
			s.onSettled(ctx, o)
		}
	}
}

func repaymentNotes(notes string, paymentID *PaymentID) string {
	if notes != "" {
		return notes
	}
	if paymentID == nil {
		return "Settled via payment unknown"
	}
	return fmt.Sprintf("Settled via payment %d", *paymentID)
}
