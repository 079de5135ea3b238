package session

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

// AcceptorConfig describes the counterparty side of a session.
type AcceptorConfig struct {
	// SenderCompID is the acceptor's own id; TargetCompID is the initiator's.
	SenderCompID string
	TargetCompID string
	// HeartBtInt drives unsolicited heartbeats. Zero disables them.
	HeartBtInt time.Duration
	Username   string
	Password   []byte
	Secret     []byte
	// FillOrders answers NewOrderSingle with a fill instead of a new-order ack.
	FillOrders bool
}

// Acceptor is a minimal counterparty: it authenticates the logon, heartbeats,
// answers test and resend requests, acknowledges logout and orders.
type Acceptor struct {
	cfg AcceptorConfig
	t   Transport

	mu       sync.Mutex
	seqOut   uint64
	received []Message
	loggedOn bool
	execID   uint64

	withhold atomic.Bool
}

func NewAcceptor(cfg AcceptorConfig, t Transport) *Acceptor {
	return &Acceptor{cfg: cfg, t: t}
}

// WithholdHeartbeats stops all heartbeats, solicited or not.
func (a *Acceptor) WithholdHeartbeats(withhold bool) {
	a.withhold.Store(withhold)
}

// SkipSeq burns n outbound sequence numbers to open a gap on the initiator.
func (a *Acceptor) SkipSeq(n uint64) {
	a.mu.Lock()
	a.seqOut += n
	a.mu.Unlock()
}

// LoggedOn reports whether a logon was accepted.
func (a *Acceptor) LoggedOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loggedOn
}

// Received returns a copy of every decoded inbound message.
func (a *Acceptor) Received() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.received))
	copy(out, a.received)
	return out
}

// Serve runs until the transport fails or ctx is done.
func (a *Acceptor) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.cfg.HeartBtInt > 0 {
		go a.heartbeatLoop(ctx)
	}
	for {
		frame, err := a.t.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		m, err := Decode(frame)
		if err != nil {
			logs.Errorf("acceptor: drop frame, err: %+v", err)
			continue
		}
		if err := a.handle(ctx, m); err != nil {
			return err
		}
	}
}

func (a *Acceptor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartBtInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.withhold.Load() || !a.LoggedOn() {
				continue
			}
			if err := a.SendHeartbeat(ctx, ""); err != nil {
				return
			}
		}
	}
}

func (a *Acceptor) handle(ctx context.Context, m Message) error {
	a.mu.Lock()
	a.received = append(a.received, m)
	a.mu.Unlock()

	switch m.Type {
	case MsgLogon:
		return a.onLogon(ctx, m)
	case MsgTestRequest:
		if a.withhold.Load() {
			return nil
		}
		id, _ := m.Get(TagTestReqID)
		return a.SendHeartbeat(ctx, id)
	case MsgResendRequest:
		begin, _ := m.GetUint(TagBeginSeqNo)
		return a.gapFill(ctx, begin)
	case MsgLogout:
		err := a.Send(ctx, MsgLogout, nil)
		a.mu.Lock()
		a.loggedOn = false
		a.mu.Unlock()
		return err
	case MsgNewOrderSingle:
		return a.onOrder(ctx, m)
	}
	return nil
}

func (a *Acceptor) onLogon(ctx context.Context, m Message) error {
	if m.GetBool(TagResetSeqNumFlag) {
		a.mu.Lock()
		a.seqOut = 0
		a.mu.Unlock()
	}
	if reason := a.authenticate(m); reason != "" {
		logs.Errorf("acceptor: reject logon from %s: %s", m.SenderCompID, reason)
		return a.Send(ctx, MsgLogout, []Field{{Tag: TagText, Value: reason}})
	}
	hb, _ := m.Get(TagHeartBtInt)
	if err := a.Send(ctx, MsgLogon, []Field{
		{Tag: TagEncryptMethod, Value: "0"},
		{Tag: TagHeartBtInt, Value: hb},
	}); err != nil {
		return err
	}
	a.mu.Lock()
	a.loggedOn = true
	a.mu.Unlock()
	return nil
}

func (a *Acceptor) authenticate(m Message) string {
	if a.cfg.Username != "" {
		if user, _ := m.Get(TagUsername); user != a.cfg.Username {
			return "unknown username"
		}
	}
	if len(a.cfg.Password) == 0 {
		return ""
	}
	encoded, ok := m.Get(TagPassword)
	if !ok {
		return "missing password"
	}
	plain, err := DecryptPassword(encoded, a.cfg.Secret)
	if err != nil || !bytes.Equal(plain, a.cfg.Password) {
		return "invalid credentials"
	}
	return ""
}

func (a *Acceptor) onOrder(ctx context.Context, m Message) error {
	clOrdID, _ := m.Get(TagClOrdID)
	symbol, _ := m.Get(TagSymbol)
	side, _ := m.Get(TagSide)
	qty, _ := m.Get(TagOrderQty)

	execType, status := "0", "0"
	if a.cfg.FillOrders {
		execType, status = "F", "2"
	}
	a.mu.Lock()
	a.execID++
	execID := strconv.FormatUint(a.execID, 10)
	a.mu.Unlock()
	return a.Send(ctx, MsgExecutionReport, []Field{
		{Tag: TagClOrdID, Value: clOrdID},
		{Tag: TagExecID, Value: execID},
		{Tag: TagExecType, Value: execType},
		{Tag: TagOrdStatus, Value: status},
		{Tag: TagSymbol, Value: symbol},
		{Tag: TagSide, Value: side},
		{Tag: TagOrderQty, Value: qty},
	})
}

// gapFill answers a resend request. The acceptor keeps no store, so the whole
// range is skipped.
func (a *Acceptor) gapFill(ctx context.Context, begin uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.seqOut + 1
	if begin == 0 || begin >= next {
		return nil
	}
	now := time.Now()
	return a.t.Write(ctx, Encode(nil, Message{
		Type:         MsgSequenceReset,
		SeqNum:       begin,
		SenderCompID: a.cfg.SenderCompID,
		TargetCompID: a.cfg.TargetCompID,
		SendingTime:  now,
		PossDup:      true,
		OrigSending:  now,
		Body: []Field{
			{Tag: TagGapFillFlag, Value: flag(true)},
			{Tag: TagNewSeqNo, Value: strconv.FormatUint(next, 10)},
		},
	}))
}

// SendHeartbeat sends a heartbeat, echoing testReqID when set.
func (a *Acceptor) SendHeartbeat(ctx context.Context, testReqID string) error {
	var body []Field
	if testReqID != "" {
		body = []Field{{Tag: TagTestReqID, Value: testReqID}}
	}
	return a.Send(ctx, MsgHeartbeat, body)
}

// Send sequences and writes a message to the initiator.
func (a *Acceptor) Send(ctx context.Context, msgType string, body []Field) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seqOut++
	return a.t.Write(ctx, Encode(nil, Message{
		Type:         msgType,
		SeqNum:       a.seqOut,
		SenderCompID: a.cfg.SenderCompID,
		TargetCompID: a.cfg.TargetCompID,
		SendingTime:  time.Now(),
		Body:         body,
	}))
}

// SendRaw writes m as is, without touching the sequence counter.
func (a *Acceptor) SendRaw(ctx context.Context, m Message) error {
	if m.SenderCompID == "" {
		m.SenderCompID = a.cfg.SenderCompID
	}
	if m.TargetCompID == "" {
		m.TargetCompID = a.cfg.TargetCompID
	}
	if m.SendingTime.IsZero() {
		m.SendingTime = time.Now()
	}
	return a.t.Write(ctx, Encode(nil, m))
}
