package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"execcore/internal/order"
	"execcore/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var (
	ErrSessionNotActive  = errors.New("session: not active")
	ErrSessionTerminated = errors.New("session: terminated")
	ErrLogoutTimeout     = errors.New("session: logout not acknowledged")
)

// Config controls one session with one counterparty.
type Config struct {
	SenderCompID       string        `yaml:"senderCompId" json:"senderCompId" validate:"required"`
	TargetCompID       string        `yaml:"targetCompId" json:"targetCompId" validate:"required"`
	HeartBtInt         time.Duration `yaml:"heartBtInt" json:"heartBtInt" validate:"gt=0"`
	Tolerance          time.Duration `yaml:"tolerance" json:"tolerance" validate:"gte=0"`
	LogonTimeout       time.Duration `yaml:"logonTimeout" json:"logonTimeout" validate:"gte=0"`
	LogoutTimeout      time.Duration `yaml:"logoutTimeout" json:"logoutTimeout" validate:"gte=0"`
	WriteTimeout       time.Duration `yaml:"writeTimeout" json:"writeTimeout" validate:"gte=0"`
	ResetSeqNumOnLogon bool          `yaml:"resetSeqNumOnLogon" json:"resetSeqNumOnLogon"`
	MaxGapHeartbeats   int           `yaml:"maxGapHeartbeats" json:"maxGapHeartbeats" validate:"gte=0"`
	TimerResolution    time.Duration `yaml:"timerResolution" json:"timerResolution" validate:"gte=0"`
	StoreSize          int           `yaml:"storeSize" json:"storeSize" validate:"gte=0"`

	// InitialSeqOut and InitialSeqIn continue sequences across sessions when
	// ResetSeqNumOnLogon is off.
	InitialSeqOut uint64 `yaml:"-" json:"-"`
	InitialSeqIn  uint64 `yaml:"-" json:"-"`
}

// DefaultConfig returns a 30 second heartbeat session that resets sequences on logon.
func DefaultConfig() Config {
	return Config{
		HeartBtInt:         30 * time.Second,
		Tolerance:          5 * time.Second,
		LogonTimeout:       10 * time.Second,
		LogoutTimeout:      5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ResetSeqNumOnLogon: true,
		MaxGapHeartbeats:   3,
		StoreSize:          1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartBtInt <= 0 {
		c.HeartBtInt = def.HeartBtInt
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = def.LogonTimeout
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = def.LogoutTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxGapHeartbeats <= 0 {
		c.MaxGapHeartbeats = def.MaxGapHeartbeats
	}
	if c.StoreSize <= 0 {
		c.StoreSize = def.StoreSize
	}
	if c.TimerResolution <= 0 {
		c.TimerResolution = min(max(c.HeartBtInt/10, 10*time.Millisecond), time.Second)
	}
	return c
}

func (c Config) heartBtSeconds() int {
	return max(int((c.HeartBtInt+time.Second-1)/time.Second), 1)
}

// Entropy supplies identifiers and key material.
type Entropy interface {
	Draw(ctx context.Context, n int) ([]byte, error)
	UUID(ctx context.Context) (uuid.UUID, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEvents publishes lifecycle events to q.
func WithEvents(q *EventQueue) Option {
	return func(e *Engine) { e.events = q }
}

// WithApplicationHandler receives inbound application messages such as execution reports.
// It runs on the reader goroutine and must not block for long.
func WithApplicationHandler(fn func(Message)) Option {
	return func(e *Engine) { e.onApp = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine drives one Session through Created -> LogonSent -> Active -> LogoutSent -> Terminated.
// A terminated Engine is never reused; reconnecting means building a new Engine.
type Engine struct {
	cfg       Config
	creds     Credentials
	transport Transport
	entropy   Entropy
	events    *EventQueue
	onApp     func(Message)
	now       func() time.Time

	// manualTimers disables the timer goroutine; tick is then driven by the caller.
	manualTimers bool

	mu             sync.Mutex
	sess           Session
	err            error
	store          *outboundStore
	gapPending     bool
	gapSince       time.Time
	gapHigh        uint64
	testReqPending bool

	logonAck chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine allocates a session in the Created state. No network activity happens yet.
func NewEngine(ctx context.Context, cfg Config, creds Credentials, transport Transport, entropy Entropy, opts ...Option) (*Engine, error) {
	if transport == nil || entropy == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "session transport or entropy")
	}
	if cfg.SenderCompID == "" || cfg.TargetCompID == "" {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "session comp ids are required")
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:       cfg,
		creds:     creds,
		transport: transport,
		entropy:   entropy,
		now:       time.Now,
		store:     newOutboundStore(cfg.StoreSize),
		logonAck:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	id, err := entropy.UUID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "session id")
	}
	e.sess = Session{
		ID:          id,
		State:       StateCreated,
		SequenceOut: 0,
		SequenceIn:  1,
		CreatedAt:   e.now(),
	}
	if !cfg.ResetSeqNumOnLogon {
		e.sess.SequenceOut = cfg.InitialSeqOut
		if cfg.InitialSeqIn > 0 {
			e.sess.SequenceIn = cfg.InitialSeqIn
		}
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// ID returns the session identity.
func (e *Engine) ID() uuid.UUID {
	return e.sess.ID
}

// Session returns a snapshot of the session.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.State
}

// Err returns the termination cause, nil while running or after a graceful logout.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done is closed once the session reaches Terminated.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the reader and timer goroutines have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Connect sends the logon and waits LogonTimeout for the counterparty acknowledgment.
func (e *Engine) Connect(ctx context.Context) error {
	if st := e.State(); st != StateCreated {
		return errors.Wrapf(ErrInvalidTransition, "connect from %s", st)
	}

	body, err := e.logonBody(ctx)
	if err != nil {
		e.Terminate(err)
		return err
	}

	e.wg.Add(1)
	go e.readLoop()

	e.mu.Lock()
	if _, err := e.sendLocked(ctx, MsgLogon, body, false); err != nil {
		e.mu.Unlock()
		return err
	}
	e.transitionLocked(StateLogonSent, nil)
	e.mu.Unlock()

	timer := time.NewTimer(e.cfg.LogonTimeout)
	defer timer.Stop()
	select {
	case <-e.logonAck:
	case <-e.done:
		return e.terminalErr()
	case <-timer.C:
		e.terminateIf(StateLogonSent, errors.Wrapf(exception.ErrLogonTimeout, "no logon ack within %s", e.cfg.LogonTimeout))
	case <-ctx.Done():
		e.terminateIf(StateLogonSent, errors.Wrapf(exception.ErrTransportFailure, "connect canceled: %v", ctx.Err()))
	}

	if st := e.State(); st != StateActive {
		return e.terminalErr()
	}
	if !e.manualTimers {
		e.wg.Add(1)
		go e.timerLoop()
	}
	return nil
}

func (e *Engine) logonBody(ctx context.Context) ([]Field, error) {
	body := []Field{
		{Tag: TagEncryptMethod, Value: "0"},
		{Tag: TagHeartBtInt, Value: strconv.Itoa(e.cfg.heartBtSeconds())},
	}
	if e.cfg.ResetSeqNumOnLogon {
		body = append(body, Field{Tag: TagResetSeqNumFlag, Value: flag(true)})
	}
	if e.creds.Username != "" {
		body = append(body, Field{Tag: TagUsername, Value: e.creds.Username})
	}
	if len(e.creds.Password) == 0 {
		return body, nil
	}

	salt, err := e.entropy.Draw(ctx, credentialSaltSize)
	if err != nil {
		return nil, errors.Wrap(err, "logon salt")
	}
	nonce, err := e.entropy.Draw(ctx, credentialNonceSize)
	if err != nil {
		return nil, errors.Wrap(err, "logon nonce")
	}
	encrypted, err := EncryptPassword(e.creds.Password, e.creds.Secret, salt, nonce)
	if err != nil {
		return nil, err
	}
	return append(body, Field{Tag: TagPassword, Value: encrypted}), nil
}

// Send sequences and writes an application message. It only succeeds while Active.
func (e *Engine) Send(ctx context.Context, msgType string, body []Field) (uint64, error) {
	if IsAdmin(msgType) {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "admin message type %s", msgType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.sess.State {
	case StateActive:
		return e.sendLocked(ctx, msgType, body, true)
	case StateTerminated:
		if e.err != nil {
			return 0, e.err
		}
		return 0, ErrSessionTerminated
	default:
		return 0, errors.Wrapf(ErrSessionNotActive, "state: %s", e.sess.State)
	}
}

// SendOrder writes req as a NewOrderSingle and returns its sequence number.
func (e *Engine) SendOrder(ctx context.Context, req order.Request) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	body := []Field{
		{Tag: TagClOrdID, Value: req.ClientOrderID},
		{Tag: TagExDestination, Value: req.Venue},
		{Tag: TagSymbol, Value: req.Instrument},
		{Tag: TagSide, Value: req.Side.FIX()},
		{Tag: TagTransactTime, Value: req.CreatedAt.UTC().Format(sendingTimeLayout)},
		{Tag: TagOrderQty, Value: req.Quantity.String()},
	}
	if req.Price.IsPositive() {
		body = append(body, Field{Tag: TagOrdType, Value: "2"}, Field{Tag: TagPrice, Value: req.Price.String()})
	} else {
		body = append(body, Field{Tag: TagOrdType, Value: "1"})
	}
	return e.Send(ctx, MsgNewOrderSingle, body)
}

// Logout sends a Logout and waits up to timeout (LogoutTimeout when <= 0) for the
// counterparty's Logout. The session is Terminated when Logout returns.
func (e *Engine) Logout(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	switch e.sess.State {
	case StateTerminated:
		e.mu.Unlock()
		return nil
	case StateActive:
		if _, err := e.sendLocked(ctx, MsgLogout, nil, false); err != nil {
			e.mu.Unlock()
			return err
		}
		e.transitionLocked(StateLogoutSent, nil)
	case StateLogoutSent:
	default:
		e.transitionLocked(StateTerminated, nil)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if timeout <= 0 {
		timeout = e.cfg.LogoutTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return nil
	case <-timer.C:
		err := errors.Wrapf(ErrLogoutTimeout, "no logout ack within %s", timeout)
		e.Terminate(err)
		return err
	case <-ctx.Done():
		e.Terminate(errors.Wrapf(ErrLogoutTimeout, "logout canceled: %v", ctx.Err()))
		return ctx.Err()
	}
}

// Terminate forces the session into Terminated. It is a no-op once terminated.
func (e *Engine) Terminate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitionLocked(StateTerminated, err)
}

func (e *Engine) terminateIf(state State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State == state {
		e.transitionLocked(StateTerminated, err)
	}
}

func (e *Engine) terminalErr() error {
	if err := e.Err(); err != nil {
		return err
	}
	return ErrSessionTerminated
}

func (e *Engine) transitionLocked(to State, err error) {
	from := e.sess.State
	if !canTransition(from, to) {
		return
	}
	e.sess.State = to
	now := e.now()

	switch to {
	case StateActive:
		close(e.logonAck)
	case StateTerminated:
		e.err = err
		e.cancel()
		_ = e.transport.Close()
		close(e.done)
	}

	e.events.TryPublish(Event{
		SessionID: e.sess.ID,
		From:      from,
		To:        to,
		Kind:      exception.KindOf(err),
		Err:       err,
		At:        now,
	})
	if err != nil {
		logs.Errorf("session %s: %s -> %s, kind: %s, err: %+v", e.sess.ID, from, to, exception.KindOf(err), err)
		return
	}
	logs.Infof("session %s: %s -> %s, out: %d, in: %d", e.sess.ID, from, to, e.sess.SequenceOut, e.sess.SequenceIn)
}

// sendLocked assigns the next outbound sequence number and writes the message.
// The number is consumed only when the write succeeds.
func (e *Engine) sendLocked(ctx context.Context, msgType string, body []Field, store bool) (uint64, error) {
	m := Message{
		Type:         msgType,
		SeqNum:       e.sess.SequenceOut + 1,
		SenderCompID: e.cfg.SenderCompID,
		TargetCompID: e.cfg.TargetCompID,
		SendingTime:  e.now(),
		Body:         body,
	}
	if err := e.writeLocked(ctx, m); err != nil {
		return 0, err
	}
	e.sess.SequenceOut = m.SeqNum
	if store {
		e.store.put(m)
	}
	return m.SeqNum, nil
}

func (e *Engine) writeLocked(ctx context.Context, m Message) error {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	if err := e.transport.Write(wctx, Encode(nil, m)); err != nil {
		ferr := errors.Wrapf(exception.ErrTransportFailure, "write %s seq %d: %v", m.Type, m.SeqNum, err)
		e.transitionLocked(StateTerminated, ferr)
		return ferr
	}
	e.sess.LastSent = m.SendingTime
	return nil
}

func (e *Engine) readLoop() {
	defer e.wg.Done()
	for {
		frame, err := e.transport.Read(e.ctx)
		if err != nil {
			e.onReadError(err)
			return
		}
		m, err := Decode(frame)
		if err != nil {
			logs.Errorf("session %s: drop garbled frame, err: %+v", e.sess.ID, err)
			continue
		}
		for _, app := range e.handle(m) {
			if e.onApp != nil {
				e.onApp(app)
			}
		}
	}
}

func (e *Engine) onReadError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.sess.State {
	case StateTerminated:
	case StateLogoutSent:
		e.transitionLocked(StateTerminated, nil)
	default:
		e.transitionLocked(StateTerminated, errors.Wrapf(exception.ErrTransportFailure, "read: %v", err))
	}
}

func (e *Engine) violationLocked(format string, args ...any) {
	e.transitionLocked(StateTerminated, errors.Wrapf(exception.ErrTransportFailure, "protocol violation: "+format, args...))
}

// handle applies one inbound message and returns the application messages to deliver.
func (e *Engine) handle(m Message) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	switch e.sess.State {
	case StateCreated, StateTerminated:
		return nil
	}
	if m.SenderCompID != e.cfg.TargetCompID || m.TargetCompID != e.cfg.SenderCompID {
		e.violationLocked("comp ids %s -> %s", m.SenderCompID, m.TargetCompID)
		return nil
	}
	if e.sess.State == StateLogonSent {
		e.handleLogonReplyLocked(m, now)
		return nil
	}
	return e.handleActiveLocked(m, now)
}

func (e *Engine) handleLogonReplyLocked(m Message, now time.Time) {
	switch m.Type {
	case MsgLogon:
		if m.SeqNum < e.sess.SequenceIn {
			e.violationLocked("logon seq %d lower than expected %d", m.SeqNum, e.sess.SequenceIn)
			return
		}
		e.sess.LastHeartbeat = now
		gap := m.SeqNum > e.sess.SequenceIn
		if !gap {
			e.sess.SequenceIn = m.SeqNum + 1
		}
		e.transitionLocked(StateActive, nil)
		if gap {
			e.openGapLocked(m.SeqNum, now)
		}
	case MsgLogout, MsgReject:
		text, _ := m.Get(TagText)
		e.transitionLocked(StateTerminated, errors.Wrapf(exception.ErrTransportFailure, "logon rejected by counterparty: %s", text))
	default:
		e.violationLocked("%s received before logon ack", m.Type)
	}
}

func (e *Engine) handleActiveLocked(m Message, now time.Time) []Message {
	if m.Type == MsgSequenceReset && !m.GetBool(TagGapFillFlag) {
		if n, ok := m.GetUint(TagNewSeqNo); ok && n >= e.sess.SequenceIn {
			e.sess.SequenceIn = n
			e.closeGapIfFilledLocked()
		}
		return nil
	}
	expected := e.sess.SequenceIn
	if m.SeqNum < expected {
		if !m.PossDup {
			logs.Errorf("session %s: discard duplicate %s seq %d, expected %d", e.sess.ID, m.Type, m.SeqNum, expected)
		}
		return nil
	}
	if m.Type == MsgHeartbeat {
		e.sess.LastHeartbeat = now
		e.testReqPending = false
	}

	switch {
	case m.SeqNum > expected:
		e.openGapLocked(m.SeqNum, now)
		switch m.Type {
		case MsgResendRequest:
			e.serveResendLocked(m)
		case MsgLogout:
			e.handleLogoutLocked(m)
		}
		return nil
	}

	e.sess.SequenceIn = expected + 1
	var deliver []Message
	switch m.Type {
	case MsgHeartbeat:
	case MsgTestRequest:
		id, _ := m.Get(TagTestReqID)
		_, _ = e.sendLocked(e.ctx, MsgHeartbeat, []Field{{Tag: TagTestReqID, Value: id}}, false)
	case MsgResendRequest:
		e.serveResendLocked(m)
	case MsgReject:
		text, _ := m.Get(TagText)
		ref, _ := m.Get(TagRefSeqNum)
		logs.Errorf("session %s: counterparty reject, ref seq: %s, text: %s", e.sess.ID, ref, text)
		e.events.TryPublish(Event{SessionID: e.sess.ID, From: e.sess.State, To: e.sess.State, Text: "reject ref " + ref + ": " + text, At: now})
	case MsgSequenceReset:
		if n, ok := m.GetUint(TagNewSeqNo); ok && n > e.sess.SequenceIn {
			e.sess.SequenceIn = n
		}
	case MsgLogout:
		e.handleLogoutLocked(m)
	case MsgLogon:
		logs.Errorf("session %s: ignore logon while %s", e.sess.ID, e.sess.State)
	default:
		deliver = append(deliver, m)
	}
	e.closeGapIfFilledLocked()
	return deliver
}

func (e *Engine) handleLogoutLocked(m Message) {
	if e.sess.State == StateLogoutSent {
		e.transitionLocked(StateTerminated, nil)
		return
	}
	text, _ := m.Get(TagText)
	if _, err := e.sendLocked(e.ctx, MsgLogout, nil, false); err != nil {
		return
	}
	e.transitionLocked(StateTerminated, errors.Wrapf(exception.ErrTransportFailure, "counterparty logout: %s", text))
}

func (e *Engine) openGapLocked(seen uint64, now time.Time) {
	if seen > e.gapHigh {
		e.gapHigh = seen
	}
	if e.gapPending {
		return
	}
	e.gapPending = true
	e.gapSince = now
	logs.Errorf("session %s: inbound gap, expected %d, got %d", e.sess.ID, e.sess.SequenceIn, seen)
	_, _ = e.sendLocked(e.ctx, MsgResendRequest, []Field{
		{Tag: TagBeginSeqNo, Value: strconv.FormatUint(e.sess.SequenceIn, 10)},
		{Tag: TagEndSeqNo, Value: "0"},
	}, false)
}

func (e *Engine) closeGapIfFilledLocked() {
	if e.gapPending && e.sess.SequenceIn > e.gapHigh {
		e.gapPending = false
		e.gapHigh = 0
	}
}

// serveResendLocked replays stored application messages and gap-fills the rest.
func (e *Engine) serveResendLocked(m Message) {
	begin, _ := m.GetUint(TagBeginSeqNo)
	end, _ := m.GetUint(TagEndSeqNo)
	last := e.sess.SequenceOut
	if begin == 0 {
		begin = 1
	}
	if end == 0 || end > last {
		end = last
	}

	now := e.now()
	var gapStart uint64
	for seq := begin; seq <= end; seq++ {
		stored, ok := e.store.get(seq)
		if !ok {
			if gapStart == 0 {
				gapStart = seq
			}
			continue
		}
		if gapStart != 0 {
			if e.writeGapFillLocked(gapStart, seq, now) != nil {
				return
			}
			gapStart = 0
		}
		stored.PossDup = true
		stored.OrigSending = stored.SendingTime
		stored.SendingTime = now
		if e.writeLocked(e.ctx, stored) != nil {
			return
		}
	}
	if gapStart != 0 {
		_ = e.writeGapFillLocked(gapStart, end+1, now)
	}
}

func (e *Engine) writeGapFillLocked(seq, next uint64, now time.Time) error {
	return e.writeLocked(e.ctx, Message{
		Type:         MsgSequenceReset,
		SeqNum:       seq,
		SenderCompID: e.cfg.SenderCompID,
		TargetCompID: e.cfg.TargetCompID,
		SendingTime:  now,
		PossDup:      true,
		OrigSending:  now,
		Body: []Field{
			{Tag: TagGapFillFlag, Value: flag(true)},
			{Tag: TagNewSeqNo, Value: strconv.FormatUint(next, 10)},
		},
	})
}

func (e *Engine) timerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TimerResolution)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

// tick enforces heartbeat and gap deadlines at now.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State != StateActive {
		return
	}

	hb := e.cfg.HeartBtInt
	if silent := now.Sub(e.sess.LastHeartbeat); silent > hb+e.cfg.Tolerance {
		e.transitionLocked(StateTerminated, errors.Wrapf(exception.ErrHeartbeatTimeout,
			"no counterparty heartbeat for %s, limit %s", silent, hb+e.cfg.Tolerance))
		return
	}
	if e.gapPending {
		if open := now.Sub(e.gapSince); open > time.Duration(e.cfg.MaxGapHeartbeats)*hb {
			e.transitionLocked(StateTerminated, errors.Wrapf(exception.ErrSequenceGapUnrecovered,
				"gap from %d to %d open for %s", e.sess.SequenceIn, e.gapHigh, open))
			return
		}
	}
	if !e.testReqPending && now.Sub(e.sess.LastHeartbeat) > hb {
		id := strconv.FormatInt(now.UnixNano(), 10)
		if _, err := e.sendLocked(e.ctx, MsgTestRequest, []Field{{Tag: TagTestReqID, Value: id}}, false); err != nil {
			return
		}
		e.testReqPending = true
	}
	if now.Sub(e.sess.LastSent) >= hb {
		_, _ = e.sendLocked(e.ctx, MsgHeartbeat, nil, false)
	}
}
