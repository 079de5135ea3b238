/*
Orchestrator drives the execution loop.

# Tick
 1. make sure a session is Active, reconnecting after backoff when it is not
 2. take a signal, size it, check it against the risk limits
 3. send the order on the session, then hand it to the venue adapter and the journal

# Failure policy
  - recoverable kinds are reported as rejections and the loop goes on
  - session kinds terminate the session; a new one is dialed after backoff
  - anything else logs out, terminates and stops the loop
*/
package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"execcore/internal/entropy"
	"execcore/internal/obs"
	"execcore/internal/order"
	"execcore/internal/risk"
	"execcore/internal/session"
	"execcore/pkg/backoff"
	"execcore/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const MinTickInterval = 100 * time.Millisecond

// Config is the orchestrator's own configuration.
type Config struct {
	TickInterval           time.Duration
	EmergencyLogoutTimeout time.Duration
	Instrument             string
	Venue                  string
	Side                   order.Side
	QtyStep                decimal.Decimal
	Backoff                backoff.Backoff
	Session                session.Config
	Chaos                  session.ChaosConfig
	EventQueueSize         int
	RouterWorkers          int
}

func (c Config) withDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = MinTickInterval
	}
	if c.EmergencyLogoutTimeout <= 0 {
		c.EmergencyLogoutTimeout = 2 * time.Second
	}
	if c.Backoff == (backoff.Backoff{}) {
		c.Backoff = backoff.Default()
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = 256
	}
	if c.RouterWorkers <= 0 {
		c.RouterWorkers = 2
	}
	return c
}

// Validate checks the fields New cannot default.
func (c Config) Validate() error {
	switch {
	case c.TickInterval < MinTickInterval:
		return errors.Wrapf(exception.ErrInvalidConfig, "tickInterval must be >= %s, got %s", MinTickInterval, c.TickInterval)
	case c.Instrument == "":
		return errors.Wrap(exception.ErrInvalidConfig, "instrument is required")
	case c.Venue == "":
		return errors.Wrap(exception.ErrInvalidConfig, "venue is required")
	case !c.Side.IsAvailable():
		return errors.Wrap(exception.ErrInvalidConfig, "side is required")
	}
	return c.Chaos.Validate()
}

// Rejection reports a proposal that was not dispatched.
type Rejection struct {
	Kind exception.Kind
	// Input is the value that triggered it: a Signal, a risk.CheckRequest or an order.Request.
	Input any
	Err   error
	At    time.Time
}

// Deps are the collaborators the orchestrator drives. Venues, Journal, LatchStore,
// Metrics and OnRejection are optional.
type Deps struct {
	Pool        *entropy.Pool
	Sizer       *risk.Sizer
	Profile     risk.Profile
	Latch       *risk.Latch
	LatchStore  risk.LatchStore
	Dialer      session.Dialer
	Credentials session.Credentials
	Signals     SignalSource
	Account     AccountView
	Venues      map[string]order.Delegator
	Journal     Journal
	Metrics     *obs.Metrics
	OnRejection func(Rejection)
}

// Orchestrator owns one session at a time and runs the tick loop.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	limiter atomic.Pointer[risk.Limiter]
	tracker *Tracker
	events  *session.EventQueue
	router  *order.Router
	now     func() time.Time

	mu     sync.Mutex
	engine *session.Engine

	// touched only by the Run goroutine
	attempt   int
	connects  int
	nextDial  time.Time
	persisted map[string]string

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the orchestrator. Nothing runs until Run.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Pool == nil:
		return nil, errors.Wrap(exception.ErrNilInstance, "entropy pool")
	case deps.Dialer == nil:
		return nil, errors.Wrap(exception.ErrNilInstance, "session dialer")
	case deps.Signals == nil:
		return nil, errors.Wrap(exception.ErrNilInstance, "signal source")
	case deps.Account == nil:
		return nil, errors.Wrap(exception.ErrNilInstance, "account view")
	}
	if err := deps.Profile.Validate(); err != nil {
		return nil, err
	}
	if deps.Sizer == nil {
		deps.Sizer = risk.NewSizer(risk.DefaultFloor)
	}
	if deps.Latch == nil {
		deps.Latch = risk.NewLatch()
	}

	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		tracker:   NewTracker(),
		events:    session.NewEventQueue(cfg.EventQueueSize),
		now:       time.Now,
		persisted: make(map[string]string),
		stop:      make(chan struct{}),
	}
	o.limiter.Store(risk.NewLimiter(deps.Profile, deps.Latch, risk.WithQtyStep(cfg.QtyStep)))
	if len(deps.Venues) != 0 {
		o.router = order.NewRouter(cfg.RouterWorkers, 64, deps.Venues, o.onVenueResult)
	}
	return o, nil
}

// Tracker exposes the open orders.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Profile returns the risk profile in force.
func (o *Orchestrator) Profile() risk.Profile {
	return o.limiter.Load().Profile()
}

// SetProfile swaps the risk profile. The drawdown latch is kept.
func (o *Orchestrator) SetProfile(p risk.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	o.limiter.Store(risk.NewLimiter(p, o.deps.Latch, risk.WithQtyStep(o.cfg.QtyStep)))
	logs.Infof("risk profile set to %s, kelly: %v, maxPositionPct: %v, maxDailyDrawdownPct: %v",
		p.Name, p.KellyMultiplier, p.MaxPositionPct, p.MaxDailyDrawdownPct)
	return nil
}

// ResetLatch clears a standing drawdown latch, in memory and in the store.
func (o *Orchestrator) ResetLatch(ctx context.Context, profile risk.ProfileName) error {
	o.deps.Latch.Reset(profile)
	if o.deps.LatchStore == nil {
		return nil
	}
	return o.deps.LatchStore.Clear(ctx, string(profile))
}

// Session returns a snapshot of the current session, if any.
func (o *Orchestrator) Session() (session.Session, bool) {
	eng := o.current()
	if eng == nil {
		return session.Session{}, false
	}
	return eng.Session(), true
}

func (o *Orchestrator) current() *session.Engine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine
}

func (o *Orchestrator) setCurrent(eng *session.Engine) {
	o.mu.Lock()
	o.engine = eng
	o.mu.Unlock()
}

// Stop asks Run to finish the current tick, log out and return.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Run blocks until Stop, ctx cancellation or an unrecoverable error.
// It returns nil on a graceful stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.running.Swap(true) {
		return errors.Wrap(exception.ErrInternal, "orchestrator already running")
	}

	feedCtx, cancelFeed := context.WithCancel(context.WithoutCancel(ctx))
	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := o.deps.Pool.Feed(feedCtx); err != nil && !stderrors.Is(err, context.Canceled) {
			logs.Errorf("entropy feed stopped, err: %+v", err)
		}
	}()
	go func() {
		defer wg.Done()
		o.events.Run(bgCtx, o.onEvent)
	}()
	if o.router != nil {
		o.router.Run(bgCtx)
	}
	// the session is logged out before the feed and the workers stop
	defer func() {
		cancelFeed()
		cancelBg()
		wg.Wait()
		if o.router != nil {
			o.router.Wait()
		}
	}()

	o.restoreLatch(ctx)
	logs.Infof("orchestrator started, profile: %s, tick: %s, venue: %s", o.Profile().Name, o.cfg.TickInterval, o.cfg.Venue)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if err := o.tick(ctx); err != nil {
			if ctx.Err() != nil {
				logs.Infof("tick interrupted by stop, err: %v", err)
				o.shutdown()
				return nil
			}
			o.emergency(err)
			return err
		}
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-o.stop:
			o.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) error {
	start := o.now()
	defer func() { o.deps.Metrics.ObserveTick(o.now().Sub(start)) }()
	o.deps.Metrics.SetEventDrops(o.events.Drops())

	eng, err := o.ensureSession(ctx)
	if err != nil || eng == nil {
		return err
	}

	sig, ok, err := o.deps.Signals.Next(ctx)
	if err != nil {
		return o.handleErr(eng, err, nil)
	}
	if !ok {
		return nil
	}
	return o.dispatch(ctx, eng, sig, start)
}

func (o *Orchestrator) dispatch(ctx context.Context, eng *session.Engine, sig Signal, start time.Time) error {
	acct, err := o.deps.Account.Account(ctx)
	if err != nil {
		return o.handleErr(eng, err, sig)
	}
	if acct.Day == "" {
		acct.Day = o.now().UTC().Format(time.DateOnly)
	}

	limiter := o.limiter.Load()
	profile := limiter.Profile()
	sized, err := o.deps.Sizer.Size(risk.SizingRequest{
		WinProbability: sig.WinProbability,
		WinLossRatio:   sig.WinLossRatio,
	}, profile)
	if err != nil {
		return o.handleErr(eng, err, sig)
	}

	qty := decimal.Zero
	if sig.Price.IsPositive() {
		qty = decimal.NewFromFloat(sized.Fraction).Mul(acct.Equity).Div(sig.Price)
	}
	outcome := limiter.Check(risk.CheckRequest{
		ProposedQty:      qty,
		Price:            sig.Price,
		AccountEquity:    acct.Equity,
		TodayDrawdownPct: acct.TodayDrawdownPct,
		Day:              acct.Day,
	})
	if !outcome.Dispatchable() {
		o.reject(Rejection{Kind: outcome.Reason, Input: outcome.Input, Err: outcome.Err()})
		if outcome.Reason == exception.KindDrawdownLimitReached {
			o.persistLatch(ctx, profile.Name, acct.Day)
		}
		return nil
	}

	id, err := o.deps.Pool.UUID(ctx)
	if err != nil {
		return o.handleErr(eng, err, outcome.Input)
	}
	req := order.Request{
		Instrument:    sig.Instrument,
		Side:          sig.Side,
		Quantity:      outcome.Qty,
		Price:         sig.Price,
		Venue:         o.cfg.Venue,
		ClientOrderID: id.String(),
		CreatedAt:     o.now(),
	}
	if req.Instrument == "" {
		req.Instrument = o.cfg.Instrument
	}
	if !req.Side.IsAvailable() {
		req.Side = o.cfg.Side
	}

	if err := o.tracker.Track(req); err != nil {
		return err
	}
	seq, err := eng.SendOrder(ctx, req)
	if err != nil {
		o.tracker.Drop(req.ClientOrderID)
		return o.handleErr(eng, err, req)
	}
	o.tracker.SetSeq(req.ClientOrderID, seq)
	o.deps.Metrics.IncOrder(outcome.Action == risk.ActionClamp)
	o.deps.Metrics.ObserveDispatch(o.now().Sub(start))
	logs.Infof("order %s sent, seq: %d, %s %s %s @ %s, action: %s, positionPct: %s",
		req.ClientOrderID, seq, req.Side, req.Quantity, req.Instrument, req.Price, outcome.Action, outcome.PositionPct.StringFixed(4))

	if o.deps.Journal != nil {
		if err := o.deps.Journal.RecordOrder(ctx, eng.ID(), req, seq); err != nil {
			logs.Errorf("journal order %s, err: %+v", req.ClientOrderID, err)
		}
	}
	if o.router != nil {
		if err := o.router.Handle(req); err != nil {
			o.deps.Metrics.IncVenueError()
			logs.Errorf("venue adapter %s rejected order %s, err: %+v", req.Venue, req.ClientOrderID, err)
		}
	}
	return nil
}

// handleErr applies the failure policy. A non-nil return stops the loop.
func (o *Orchestrator) handleErr(eng *session.Engine, err error, input any) error {
	kind := exception.KindOf(err)
	switch {
	case kind.Recoverable():
		o.reject(Rejection{Kind: kind, Input: input, Err: err})
		return nil
	case kind.SessionFatal(),
		stderrors.Is(err, session.ErrSessionTerminated),
		stderrors.Is(err, session.ErrSessionNotActive):
		logs.Errorf("session %s failed, kind: %s, err: %+v", eng.ID(), kind, err)
		eng.Terminate(err)
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) reject(r Rejection) {
	r.At = o.now()
	o.deps.Metrics.IncRejection(r.Kind)
	logs.Infof("rejected, kind: %s, input: %+v, err: %v", r.Kind, r.Input, r.Err)
	if o.deps.OnRejection != nil {
		o.deps.OnRejection(r)
	}
}

// ensureSession returns the Active engine, or nil while a reconnect is pending.
func (o *Orchestrator) ensureSession(ctx context.Context) (*session.Engine, error) {
	if eng := o.current(); eng != nil {
		if eng.State() == session.StateActive {
			return eng, nil
		}
		o.retire(eng)
		o.scheduleRetry()
		return nil, nil
	}
	if o.now().Before(o.nextDial) {
		return nil, nil
	}

	eng, err := o.connect(ctx)
	if err != nil {
		kind := exception.KindOf(err)
		if !kind.SessionFatal() && !kind.Recoverable() {
			return nil, err
		}
		logs.Errorf("connect attempt %d failed, kind: %s, err: %+v", o.attempt+1, kind, err)
		o.scheduleRetry()
		return nil, nil
	}
	o.attempt = 0
	o.setCurrent(eng)
	return eng, nil
}

func (o *Orchestrator) scheduleRetry() {
	o.attempt++
	wait := o.cfg.Backoff.Next(o.attempt)
	o.nextDial = o.now().Add(wait)
	logs.Infof("reconnect in %s, attempt: %d", wait, o.attempt)
}

func (o *Orchestrator) connect(ctx context.Context) (*session.Engine, error) {
	if o.connects > 0 {
		o.deps.Metrics.IncReconnect()
	}
	o.connects++

	tr, err := o.deps.Dialer.Dial(ctx)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrTransportFailure, "dial: %v", err)
	}
	if o.cfg.Chaos.Enabled() {
		chaos, err := session.NewChaosTransport(tr, o.cfg.Chaos)
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
		tr = chaos
	}

	eng, err := session.NewEngine(ctx, o.cfg.Session, o.deps.Credentials, tr, o.deps.Pool,
		session.WithEvents(o.events),
		session.WithApplicationHandler(o.onApplication),
	)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	if err := eng.Connect(ctx); err != nil {
		eng.Wait()
		return nil, err
	}
	return eng, nil
}

// retire releases a terminated engine and carries sequences over when they are not reset.
func (o *Orchestrator) retire(eng *session.Engine) {
	eng.Terminate(nil)
	eng.Wait()
	o.setCurrent(nil)
	sess := eng.Session()
	if !o.cfg.Session.ResetSeqNumOnLogon {
		o.cfg.Session.InitialSeqOut = sess.SequenceOut
		o.cfg.Session.InitialSeqIn = sess.SequenceIn
	}
	logs.Infof("session %s retired, out: %d, in: %d, kind: %s", sess.ID, sess.SequenceOut, sess.SequenceIn, exception.KindOf(eng.Err()))
}

// shutdown logs out gracefully.
func (o *Orchestrator) shutdown() {
	if eng := o.current(); eng != nil {
		if err := eng.Logout(context.Background(), 0); err != nil {
			logs.Errorf("logout session %s, err: %+v", eng.ID(), err)
		}
		eng.Wait()
	}
	logs.Info("orchestrator stopped")
}

// emergency logs out within EmergencyLogoutTimeout, then forces termination.
func (o *Orchestrator) emergency(cause error) {
	logs.Errorf("emergency shutdown, kind: %s, err: %+v", exception.KindOf(cause), cause)
	eng := o.current()
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EmergencyLogoutTimeout)
	defer cancel()
	if err := eng.Logout(ctx, o.cfg.EmergencyLogoutTimeout); err != nil {
		logs.Errorf("emergency logout session %s, err: %+v", eng.ID(), err)
	}
	eng.Terminate(cause)
	eng.Wait()
}

func (o *Orchestrator) restoreLatch(ctx context.Context) {
	if o.deps.LatchStore == nil {
		return
	}
	entries, err := o.deps.LatchStore.Load(ctx)
	if err != nil {
		logs.Errorf("load drawdown latch, err: %+v", err)
		return
	}
	o.deps.Latch.Restore(entries)
	for p, day := range entries {
		o.persisted[p] = day
	}
	if len(entries) != 0 {
		logs.Infof("restored drawdown latch: %v", entries)
	}
}

func (o *Orchestrator) persistLatch(ctx context.Context, profile risk.ProfileName, day string) {
	if o.deps.LatchStore == nil || o.persisted[string(profile)] == day {
		return
	}
	if err := o.deps.LatchStore.Save(ctx, string(profile), day); err != nil {
		logs.Errorf("persist drawdown latch %s/%s, err: %+v", profile, day, err)
		return
	}
	o.persisted[string(profile)] = day
}

func (o *Orchestrator) onEvent(ev session.Event) {
	if ev.IsTransition() {
		o.deps.Metrics.IncTransition(uint8(ev.To))
	}
	if o.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Journal.RecordEvent(ctx, ev); err != nil {
		logs.Errorf("journal session event, err: %+v", err)
	}
}

func (o *Orchestrator) onApplication(m session.Message) {
	if m.Type != session.MsgExecutionReport {
		return
	}
	tracked, err := o.tracker.ApplyReport(m, o.now())
	if err != nil {
		logs.Errorf("execution report seq %d, err: %+v", m.SeqNum, err)
		return
	}
	logs.Infof("order %s %s", tracked.Request.ClientOrderID, tracked.State)
}

func (o *Orchestrator) onVenueResult(res order.Result) {
	if res.Err == nil {
		return
	}
	o.deps.Metrics.IncVenueError()
	logs.Errorf("venue %s order %s, err: %+v", res.Request.Venue, res.Request.ClientOrderID, res.Err)
}
