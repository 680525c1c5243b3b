package services

import (
	"context"
	"fmt"
	"time"

	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var limitPeriods = []models.LimitPeriod{
	models.LimitPeriodDaily,
	models.LimitPeriodWeekly,
	models.LimitPeriodMonthly,
}

// LimitService enforces rolling-window velocity limits. Checks run on the caller's querier,
// before the caller writes anything.
type LimitService struct {
	clock  clock.Clock
	logger *zap.Logger
}

func NewLimitService(clk clock.Clock, logger *zap.Logger) *LimitService {
	return &LimitService{clock: clk, logger: logger}
}

func (s *LimitService) EnsureWithinDepositLimit(ctx context.Context, q repository.Querier, businessID uuid.UUID, amount models.Amount) error {
	return s.ensureWithinLimit(ctx, q, businessID, models.LimitTypeACHDeposit, amount)
}

func (s *LimitService) EnsureWithinWithdrawLimit(ctx context.Context, q repository.Querier, businessID uuid.UUID, amount models.Amount) error {
	return s.ensureWithinLimit(ctx, q, businessID, models.LimitTypeACHWithdraw, amount)
}

func (s *LimitService) ensureWithinLimit(ctx context.Context, q repository.Querier, businessID uuid.UUID, limitType models.LimitType, amount models.Amount) error {
	if err := amount.EnsureNonNegative(); err != nil {
		return err
	}

	settings, err := q.GetBusinessSettings(ctx, businessID)
	if err != nil {
		return fmt.Errorf("load business settings: %w", err)
	}
	amountLimits := settings.AmountLimitsFor(amount.Currency, limitType)
	operationLimits := settings.OperationLimitsFor(amount.Currency, limitType)
	if len(amountLimits) == 0 && len(operationLimits) == 0 {
		return nil
	}

	now := s.clock.Now()
	adjustments, err := q.ListBusinessAdjustments(ctx, businessID,
		[]models.AdjustmentType{limitType.AdjustmentType()}, now.Add(-longestPeriod(amountLimits, operationLimits)))
	if err != nil {
		return fmt.Errorf("load adjustments: %w", err)
	}

	// Operation counts are checked first.
	for _, period := range limitPeriods {
		limit, ok := operationLimits[period]
		if !ok {
			continue
		}
		if count := len(inWindow(adjustments, amount.Currency, now.Add(-period.Duration()))); count >= limit {
			return &models.OperationLimitViolationError{
				BusinessID: businessID,
				LimitType:  limitType,
				Period:     period,
				Limit:      limit,
			}
		}
	}

	direction := decimal.NewFromInt(limitType.Direction())
	for _, period := range limitPeriods {
		limit, ok := amountLimits[period]
		if !ok {
			continue
		}
		usage := decimal.Zero
		for _, adj := range inWindow(adjustments, amount.Currency, now.Add(-period.Duration())) {
			usage = usage.Add(adj.Amount.Amount.Mul(direction))
		}
		total := usage.Add(amount.Amount)
		if total.GreaterThan(limit) {
			s.logger.Info("velocity limit reached",
				zap.String("business_id", businessID.String()),
				zap.String("limit_type", string(limitType)),
				zap.String("period", string(period)),
				zap.String("usage", usage.String()))
			return &models.LimitViolationError{
				BusinessID: businessID,
				LimitType:  limitType,
				Period:     period,
				Amount:     amount,
				Exceeded:   models.NewAmount(amount.Currency, total.Sub(limit)),
			}
		}
	}
	return nil
}

// inWindow returns the adjustments in currency effective after start. Adjustments effective in
// the future are included.
func inWindow(adjustments []models.Adjustment, currency models.Currency, start time.Time) []models.Adjustment {
	var out []models.Adjustment
	for _, adj := range adjustments {
		if adj.Amount.Currency == currency && adj.EffectiveDate.After(start) {
			out = append(out, adj)
		}
	}
	return out
}

func longestPeriod(amountLimits map[models.LimitPeriod]decimal.Decimal, operationLimits map[models.LimitPeriod]int) time.Duration {
	var longest time.Duration
	for _, period := range limitPeriods {
		_, hasAmount := amountLimits[period]
		_, hasCount := operationLimits[period]
		if (hasAmount || hasCount) && period.Duration() > longest {
			longest = period.Duration()
		}
	}
	return longest
}
