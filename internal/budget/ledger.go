package budget

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is the ledger state for one period.
type Snapshot struct {
	Period   string  `json:"period"`
	Consumed float64 `json:"consumed"`
	Limit    float64 `json:"limit"`
}

// Ledger is the external, independently consistent record of spend.
type Ledger interface {
	// Read returns consumption and limit for period.
	Read(ctx context.Context, period string) (Snapshot, error)
	// Increment adds amount to the consumption recorded for period.
	Increment(ctx context.Context, period string, amount float64) error
}

// Period selects how spend is bucketed.
type Period string

// Supported periods.
const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Key returns the ledger key of the period containing t, in UTC.
func (p Period) Key(t time.Time) string {
	t = t.UTC()
	if p == PeriodMonthly {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

// ParsePeriod validates a configured period name.
func ParsePeriod(name string) (Period, error) {
	switch Period(name) {
	case PeriodDaily, PeriodMonthly:
		return Period(name), nil
	}
	return "", fmt.Errorf("%w: unknown budget period %q", ErrInvalidConfig, name)
}
