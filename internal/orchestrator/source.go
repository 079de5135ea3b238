package orchestrator

import (
	"context"
	"time"

	"execcore/internal/order"
	"execcore/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal is one trading opportunity from the strategy side.
type Signal struct {
	// Instrument and Side fall back to the orchestrator config when empty.
	Instrument     string
	Side           order.Side
	WinProbability float64
	WinLossRatio   float64
	Price          decimal.Decimal
}

// SignalSource yields at most one signal per tick. ok is false when there is nothing to do.
type SignalSource interface {
	Next(ctx context.Context) (sig Signal, ok bool, err error)
}

// Account is the equity and drawdown view the limiter needs.
type Account struct {
	Equity           decimal.Decimal
	TodayDrawdownPct float64
	// Day defaults to the current UTC date.
	Day string
}

// AccountView reports the account state.
type AccountView interface {
	Account(ctx context.Context) (Account, error)
}

// Journal persists dispatched orders and session events.
type Journal interface {
	RecordOrder(ctx context.Context, sessionID uuid.UUID, req order.Request, seq uint64) error
	RecordEvent(ctx context.Context, ev session.Event) error
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(ctx context.Context) (Signal, bool, error)

func (f SignalFunc) Next(ctx context.Context) (Signal, bool, error) {
	return f(ctx)
}

// AccountFunc adapts a function to AccountView.
type AccountFunc func(ctx context.Context) (Account, error)

func (f AccountFunc) Account(ctx context.Context) (Account, error) {
	return f(ctx)
}

// FixedSignal repeats the same signal every interval. Used for paper runs.
type FixedSignal struct {
	Signal   Signal
	Interval time.Duration

	last time.Time
}

func (f *FixedSignal) Next(context.Context) (Signal, bool, error) {
	now := time.Now()
	if f.Interval > 0 && now.Sub(f.last) < f.Interval {
		return Signal{}, false, nil
	}
	f.last = now
	return f.Signal, true, nil
}

// FixedAccount reports a constant account.
type FixedAccount struct {
	Equity           decimal.Decimal
	TodayDrawdownPct float64
}

func (f FixedAccount) Account(context.Context) (Account, error) {
	return Account{Equity: f.Equity, TodayDrawdownPct: f.TodayDrawdownPct}, nil
}
