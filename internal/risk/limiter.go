package risk

import (
	"time"

	"execcore/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Action is the limiter verdict.
type Action uint8

const (
	ActionApprove Action = iota + 1
	ActionClamp
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionApprove:
		return "approve"
	case ActionClamp:
		return "clamp"
	case ActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// CheckRequest is the order proposal the limiter evaluates.
type CheckRequest struct {
	ProposedQty      decimal.Decimal
	Price            decimal.Decimal
	AccountEquity    decimal.Decimal
	TodayDrawdownPct float64
	// Day identifies the trading day the drawdown latch applies to.
	// Empty means the current UTC date.
	Day string
}

// Outcome is Approve(qty), Clamp(qty) or Reject(reason).
type Outcome struct {
	Action      Action
	Qty         decimal.Decimal
	Reason      exception.Kind
	PositionPct decimal.Decimal
	Input       CheckRequest
}

// Dispatchable reports whether an order may be sent with Qty.
func (o Outcome) Dispatchable() bool {
	return o.Action == ActionApprove || o.Action == ActionClamp
}

// Err returns the rejection as an error carrying the triggering input, nil otherwise.
func (o Outcome) Err() error {
	if o.Action != ActionReject {
		return nil
	}
	sentinel := o.Reason.Err()
	if sentinel == nil {
		sentinel = exception.ErrInternal
	}
	return errors.Wrapf(sentinel, "qty: %s, price: %s, equity: %s, drawdownPct: %v, day: %s",
		o.Input.ProposedQty, o.Input.Price, o.Input.AccountEquity, o.Input.TodayDrawdownPct, o.Input.Day)
}

var hundred = decimal.NewFromInt(100)

// Limiter enforces the per-profile position and drawdown limits.
type Limiter struct {
	profile Profile
	latch   *Latch
	qtyStep decimal.Decimal
	maxPct  decimal.Decimal
	now     func() time.Time
}

// LimiterOption customizes a Limiter.
type LimiterOption func(*Limiter)

// WithQtyStep rounds clamped quantities down to a multiple of step.
func WithQtyStep(step decimal.Decimal) LimiterOption {
	return func(l *Limiter) {
		if step.IsPositive() {
			l.qtyStep = step
		}
	}
}

// WithLimiterClock overrides the clock used to date requests without a Day.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter creates a limiter for profile. latch may be shared across limiters.
func NewLimiter(profile Profile, latch *Latch, opts ...LimiterOption) *Limiter {
	if latch == nil {
		latch = NewLatch()
	}
	l := &Limiter{
		profile: profile,
		latch:   latch,
		maxPct:  decimal.NewFromFloat(profile.MaxPositionPct),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Profile returns the profile the limiter enforces.
func (l *Limiter) Profile() Profile {
	return l.profile
}

// Check applies, in order: the drawdown cutoff, the position cap, approval.
func (l *Limiter) Check(req CheckRequest) Outcome {
	if req.Day == "" {
		req.Day = l.now().UTC().Format(time.DateOnly)
	}
	out := Outcome{Input: req, Qty: decimal.Zero}

	if l.latch.Tripped(l.profile.Name, req.Day) || req.TodayDrawdownPct >= l.profile.MaxDailyDrawdownPct {
		l.latch.Trip(l.profile.Name, req.Day)
		out.Action = ActionReject
		out.Reason = exception.KindDrawdownLimitReached
		return out
	}

	if !req.ProposedQty.IsPositive() || !req.Price.IsPositive() || !req.AccountEquity.IsPositive() {
		out.Action = ActionReject
		out.Reason = exception.KindInvalidInput
		return out
	}

	notional := req.ProposedQty.Mul(req.Price)
	out.PositionPct = notional.Mul(hundred).Div(req.AccountEquity)
	if !l.exceeds(req.ProposedQty, req) {
		out.Action = ActionApprove
		out.Qty = req.ProposedQty
		return out
	}

	clamped := l.clampQty(req)
	if !clamped.IsPositive() {
		out.Action = ActionReject
		out.Reason = exception.KindPositionLimitExceeded
		return out
	}
	out.Action = ActionClamp
	out.Qty = clamped
	out.PositionPct = clamped.Mul(req.Price).Mul(hundred).Div(req.AccountEquity)
	return out
}

// exceeds compares qty*price*100 against maxPct*equity without dividing.
func (l *Limiter) exceeds(qty decimal.Decimal, req CheckRequest) bool {
	lhs := qty.Mul(req.Price).Mul(hundred)
	rhs := l.maxPct.Mul(req.AccountEquity)
	return lhs.GreaterThan(rhs)
}

func (l *Limiter) clampQty(req CheckRequest) decimal.Decimal {
	limit := l.maxPct.Mul(req.AccountEquity).Div(req.Price.Mul(hundred))
	step := l.qtyStep
	if step.IsZero() {
		step = decimal.New(1, -8)
	}
	qty := limit.Div(step).Floor().Mul(step)
	// Div rounds at DivisionPrecision; step back once if that rounding landed over the cap.
	if l.exceeds(qty, req) {
		qty = qty.Sub(step)
	}
	return qty
}
