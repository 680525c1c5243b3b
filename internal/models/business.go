package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BusinessStatus string

const (
	BusinessStatusOnboarding           BusinessStatus = "ONBOARDING"
	BusinessStatusActive               BusinessStatus = "ACTIVE"
	BusinessStatusSuspendedExpenditure BusinessStatus = "SUSPENDED_EXPENDITURE"
	BusinessStatusSuspended            BusinessStatus = "SUSPENDED"
	BusinessStatusClosed               BusinessStatus = "CLOSED"
)

func (s BusinessStatus) Valid() bool {
	switch s {
	case BusinessStatusOnboarding, BusinessStatusActive, BusinessStatusSuspendedExpenditure,
		BusinessStatusSuspended, BusinessStatusClosed:
		return true
	default:
		return false
	}
}

type Business struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	LegalName string         `json:"legal_name" db:"legal_name"`
	Currency  Currency       `json:"currency" db:"currency"`
	Status    BusinessStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// LimitType names the kind of movement a velocity limit applies to.
type LimitType string

const (
	LimitTypeACHDeposit  LimitType = "ACH_DEPOSIT"
	LimitTypeACHWithdraw LimitType = "ACH_WITHDRAW"
)

func (t LimitType) Valid() bool {
	return t == LimitTypeACHDeposit || t == LimitTypeACHWithdraw
}

// AdjustmentType returns the adjustment kind counted against the limit.
func (t LimitType) AdjustmentType() AdjustmentType {
	switch t {
	case LimitTypeACHWithdraw:
		return AdjustmentTypeWithdraw
	default:
		return AdjustmentTypeDeposit
	}
}

// Direction is the sign adjustments of this type carry: usage is Σ amount × direction.
func (t LimitType) Direction() int64 {
	switch t {
	case LimitTypeACHWithdraw:
		return -1
	default:
		return 1
	}
}

// LimitPeriod is a rolling window.
type LimitPeriod string

const (
	LimitPeriodDaily   LimitPeriod = "DAILY"
	LimitPeriodWeekly  LimitPeriod = "WEEKLY"
	LimitPeriodMonthly LimitPeriod = "MONTHLY"
)

func (p LimitPeriod) Duration() time.Duration {
	switch p {
	case LimitPeriodWeekly:
		return 7 * 24 * time.Hour
	case LimitPeriodMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (p LimitPeriod) Valid() bool {
	switch p {
	case LimitPeriodDaily, LimitPeriodWeekly, LimitPeriodMonthly:
		return true
	default:
		return false
	}
}

type (
	AmountLimits    map[Currency]map[LimitType]map[LimitPeriod]decimal.Decimal
	OperationLimits map[Currency]map[LimitType]map[LimitPeriod]int
)

// BusinessSettings holds per-currency velocity caps for a business.
type BusinessSettings struct {
	BusinessID      uuid.UUID       `json:"business_id"`
	Limits          AmountLimits    `json:"limits"`
	OperationLimits OperationLimits `json:"operation_limits"`
}

// AmountLimitsFor returns the configured amount caps or nil when none exist.
func (s *BusinessSettings) AmountLimitsFor(currency Currency, limitType LimitType) map[LimitPeriod]decimal.Decimal {
	if s == nil || s.Limits == nil {
		return nil
	}
	return s.Limits[currency][limitType]
}

// OperationLimitsFor returns the configured operation-count caps or nil when none exist.
func (s *BusinessSettings) OperationLimitsFor(currency Currency, limitType LimitType) map[LimitPeriod]int {
	if s == nil || s.OperationLimits == nil {
		return nil
	}
	return s.OperationLimits[currency][limitType]
}

// BusinessLimitRow is the flattened storage form of one (currency, type, period) cap.
type BusinessLimitRow struct {
	BusinessID  uuid.UUID           `db:"business_id"`
	Currency    Currency            `db:"currency"`
	LimitType   LimitType           `db:"limit_type"`
	LimitPeriod LimitPeriod         `db:"limit_period"`
	CapAmount   decimal.NullDecimal `db:"cap_amount"`
	CapCount    *int                `db:"cap_count"`
}

// Rows flattens the settings for storage.
func (s *BusinessSettings) Rows() []BusinessLimitRow {
	type key struct {
		currency Currency
		limit    LimitType
		period   LimitPeriod
	}
	index := map[key]int{}
	var rows []BusinessLimitRow
	row := func(k key) *BusinessLimitRow {
		if i, ok := index[k]; ok {
			return &rows[i]
		}
		rows = append(rows, BusinessLimitRow{
			BusinessID:  s.BusinessID,
			Currency:    k.currency,
			LimitType:   k.limit,
			LimitPeriod: k.period,
		})
		index[k] = len(rows) - 1
		return &rows[len(rows)-1]
	}

	for currency, byType := range s.Limits {
		for limitType, byPeriod := range byType {
			for period, value := range byPeriod {
				row(key{currency, limitType, period}).CapAmount = decimal.NewNullDecimal(value)
			}
		}
	}
	for currency, byType := range s.OperationLimits {
		for limitType, byPeriod := range byType {
			for period, value := range byPeriod {
				count := value
				row(key{currency, limitType, period}).CapCount = &count
			}
		}
	}
	return rows
}

// BusinessSettingsFromRows is the inverse of Rows.
func BusinessSettingsFromRows(businessID uuid.UUID, rows []BusinessLimitRow) *BusinessSettings {
	settings := &BusinessSettings{
		BusinessID:      businessID,
		Limits:          AmountLimits{},
		OperationLimits: OperationLimits{},
	}
	for _, r := range rows {
		if r.CapAmount.Valid {
			if settings.Limits[r.Currency] == nil {
				settings.Limits[r.Currency] = map[LimitType]map[LimitPeriod]decimal.Decimal{}
			}
			if settings.Limits[r.Currency][r.LimitType] == nil {
				settings.Limits[r.Currency][r.LimitType] = map[LimitPeriod]decimal.Decimal{}
			}
			settings.Limits[r.Currency][r.LimitType][r.LimitPeriod] = r.CapAmount.Decimal
		}
		if r.CapCount != nil {
			if settings.OperationLimits[r.Currency] == nil {
				settings.OperationLimits[r.Currency] = map[LimitType]map[LimitPeriod]int{}
			}
			if settings.OperationLimits[r.Currency][r.LimitType] == nil {
				settings.OperationLimits[r.Currency][r.LimitType] = map[LimitPeriod]int{}
			}
			settings.OperationLimits[r.Currency][r.LimitType][r.LimitPeriod] = *r.CapCount
		}
	}
	return settings
}

// DefaultBusinessSettings returns the limits a newly created business starts with.
func DefaultBusinessSettings(businessID uuid.UUID) *BusinessSettings {
	amounts := func() map[LimitPeriod]decimal.Decimal {
		return map[LimitPeriod]decimal.Decimal{
			LimitPeriodDaily:   decimal.NewFromInt(10000),
			LimitPeriodMonthly: decimal.NewFromInt(30000),
		}
	}
	counts := func() map[LimitPeriod]int {
		return map[LimitPeriod]int{LimitPeriodDaily: 2, LimitPeriodMonthly: 6}
	}
	return &BusinessSettings{
		BusinessID: businessID,
		Limits: AmountLimits{
			CurrencyUSD: {LimitTypeACHDeposit: amounts(), LimitTypeACHWithdraw: amounts()},
		},
		OperationLimits: OperationLimits{
			CurrencyUSD: {LimitTypeACHDeposit: counts(), LimitTypeACHWithdraw: counts()},
		},
	}
}
