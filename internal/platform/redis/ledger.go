package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/phrazzld/garmax-api/internal/budget"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	fieldConsumed = "consumed"
	fieldLimit    = "limit"

	// ledgerTTL keeps monthly periods around for a full month after they end.
	ledgerTTL = 62 * 24 * time.Hour
)

// Ledger stores spend per budget period in a hash at
// "<prefix>:budget:<period>" with fields consumed and limit. A period with no
// limit field uses the default limit.
type Ledger struct {
	rdb          *redis.Client
	prefix       string
	defaultLimit float64
}

var _ budget.Ledger = (*Ledger)(nil)

// NewLedger returns a ledger under prefix.
func NewLedger(rdb *redis.Client, prefix string, defaultLimit float64) (*Ledger, error) {
	if rdb == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if defaultLimit <= 0 {
		return nil, fmt.Errorf("default limit must be positive, got %v", defaultLimit)
	}
	return &Ledger{rdb: rdb, prefix: prefix, defaultLimit: defaultLimit}, nil
}

func (l *Ledger) key(period string) string {
	return fmt.Sprintf("%s:budget:%s", l.prefix, period)
}

// Read implements budget.Ledger.
func (l *Ledger) Read(ctx context.Context, period string) (budget.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "redis.LedgerRead",
		trace.WithAttributes(attribute.String("budget.period", period)))
	defer span.End()

	fields, err := l.rdb.HGetAll(ctx, l.key(period)).Result()
	if err != nil {
		span.RecordError(err)
		return budget.Snapshot{}, fmt.Errorf("failed to read ledger: %w", err)
	}

	snap := budget.Snapshot{Period: period, Limit: l.defaultLimit}
	if raw, ok := fields[fieldConsumed]; ok {
		if snap.Consumed, err = strconv.ParseFloat(raw, 64); err != nil {
			return budget.Snapshot{}, fmt.Errorf("invalid consumed value %q: %w", raw, err)
		}
	}
	if raw, ok := fields[fieldLimit]; ok {
		if snap.Limit, err = strconv.ParseFloat(raw, 64); err != nil {
			return budget.Snapshot{}, fmt.Errorf("invalid limit value %q: %w", raw, err)
		}
	}
	return snap, nil
}

// Increment implements budget.Ledger.
func (l *Ledger) Increment(ctx context.Context, period string, amount float64) error {
	ctx, span := tracer.Start(ctx, "redis.LedgerIncrement",
		trace.WithAttributes(
			attribute.String("budget.period", period),
			attribute.Float64("budget.amount", amount),
		))
	defer span.End()

	key := l.key(period)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrByFloat(ctx, key, fieldConsumed, amount)
		pipe.Expire(ctx, key, ledgerTTL)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to increment ledger: %w", err)
	}
	return nil
}

// SetLimit overrides the limit for one period.
func (l *Ledger) SetLimit(ctx context.Context, period string, limit float64) error {
	key := l.key(period)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldLimit, limit)
		pipe.Expire(ctx, key, ledgerTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set ledger limit: %w", err)
	}
	return nil
}
