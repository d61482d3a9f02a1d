/*
reconcile.go - Drift detection and correction

  ValidateBalanceConsistency and FindDriftedUsers are read-only and safe to
  call concurrently. FixBalanceDrift is the only operation in this engine
  that writes User.Balance. It recomputes inside a store transaction and
  writes through CompareAndSetBalance, so a concurrent balance update by the
  transaction/payment workflow surfaces as ErrConcurrentModification instead
  of being silently overwritten.
*/
package settlement

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/metrics"
)

var hundred = decimal.NewFromInt(100)

// DriftReport compares a cached balance with the computed one.
type DriftReport struct {
	UserID       UserID
	Username     string
	Role         Role
	Stored       decimal.Decimal
	Computed     decimal.Decimal
	Drift        decimal.Decimal
	DriftPercent decimal.Decimal
	IsValid      bool
	Breakdown    *Breakdown
}

// FixResult is the outcome of FixBalanceDrift.
type FixResult struct {
	UserID UserID
	Before decimal.Decimal
	After  decimal.Decimal
	Fixed  bool
}

// ValidateBalanceConsistency reports drift between the cached and computed balance.
func (c *Calculator) ValidateBalanceConsistency(ctx context.Context, userID UserID) (DriftReport, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return DriftReport{}, err
	}
	report, err := c.report(ctx, c.store, user)
	if err != nil {
		return DriftReport{}, err
	}
	if !report.IsValid {
		metrics.DriftDetected.WithLabelValues(string(user.Role)).Inc()
		c.logger.WarnContext(ctx, "balance drift detected",
			"user_id", user.ID,
			"role", user.Role,
			"stored", report.Stored.String(),
			"computed", report.Computed.String(),
			"drift", report.Drift.String(),
		)
	}
	return report, nil
}

// DriftScan is the outcome of one pass over every ledger user.
type DriftScan struct {
	Scanned int
	Drifted []DriftReport
}

// FindDriftedUsers checks every farmer and buyer with a non-zero cached
// balance and returns those whose drift exceeds tolerance, worst first.
// A non-positive tolerance falls back to the calculator's tolerance.
func (c *Calculator) FindDriftedUsers(ctx context.Context, tolerance decimal.Decimal) ([]DriftReport, error) {
	scan, err := c.ScanDrift(ctx, tolerance)
	if err != nil {
		return nil, err
	}
	return scan.Drifted, nil
}

// ScanDrift is FindDriftedUsers plus the number of users checked.
func (c *Calculator) ScanDrift(ctx context.Context, tolerance decimal.Decimal) (DriftScan, error) {
	if !tolerance.IsPositive() {
		tolerance = c.tolerance
	}

	users, err := c.store.ListUsersWithBalance(ctx, []Role{RoleFarmer, RoleBuyer})
	if err != nil {
		return DriftScan{}, err
	}

	scan := DriftScan{Scanned: len(users)}
	for _, u := range users {
		report, err := c.report(ctx, c.store, u)
		if err != nil {
			return DriftScan{}, err
		}
		if report.Drift.GreaterThan(tolerance) {
			metrics.DriftDetected.WithLabelValues(string(u.Role)).Inc()
			scan.Drifted = append(scan.Drifted, report)
		}
	}

	sort.SliceStable(scan.Drifted, func(i, j int) bool {
		return scan.Drifted[i].Drift.GreaterThan(scan.Drifted[j].Drift)
	})
	metrics.DriftedUsers.Set(float64(len(scan.Drifted)))
	return scan, nil
}

// FixBalanceDrift overwrites the cached balance with the computed one when
// drift exceeds tolerance. Within tolerance it writes nothing.
func (c *Calculator) FixBalanceDrift(ctx context.Context, userID UserID) (FixResult, error) {
	var result FixResult

	err := c.store.WithTx(ctx, func(tx Store) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		b, err := breakdownFor(ctx, tx, user)
		if err != nil {
			return err
		}
		computed := netOf(b)
		drift := user.Balance.Sub(computed).Abs()

		result = FixResult{UserID: userID, Before: user.Balance, After: user.Balance}
		if drift.LessThanOrEqual(c.tolerance) {
			return nil
		}

		if err := tx.CompareAndSetBalance(ctx, userID, user.Version, computed); err != nil {
			return err
		}
		if err := tx.AppendBalanceCorrection(ctx, BalanceCorrection{
			ID:        uuid.NewString(),
			UserID:    userID,
			Before:    user.Balance,
			After:     computed,
			Drift:     drift,
			Reason:    "balance drift correction",
			CreatedAt: c.now(),
		}); err != nil {
			return err
		}

		result.After = computed
		result.Fixed = true
		return nil
	})
	if err != nil {
		return FixResult{}, err
	}

	if result.Fixed {
		metrics.DriftFixed.Inc()
		c.logger.InfoContext(ctx, "balance drift fixed",
			"user_id", userID,
			"before", result.Before.String(),
			"after", result.After.String(),
		)
	}
	return result, nil
}

func (c *Calculator) report(ctx context.Context, store Store, user User) (DriftReport, error) {
	b, err := breakdownFor(ctx, store, user)
	if err != nil {
		return DriftReport{}, err
	}
	computed := netOf(b)
	drift := user.Balance.Sub(computed).Abs()

	percent := decimal.Zero
	if !user.Balance.IsZero() {
		percent = drift.Div(user.Balance.Abs()).Mul(hundred).Round(4)
	}

	return DriftReport{
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		Stored:       user.Balance,
		Computed:     computed,
		Drift:        drift,
		DriftPercent: percent,
		IsValid:      drift.LessThanOrEqual(c.tolerance),
		Breakdown:    b,
	}, nil
}
