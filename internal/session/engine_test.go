package session

import (
	"context"
	"crypto/rand"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"execcore/internal/order"
	"execcore/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testEntropy struct{}

func (testEntropy) Draw(_ context.Context, n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func (testEntropy) UUID(context.Context) (uuid.UUID, error) {
	return uuid.NewRandom()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

var testCreds = Credentials{Username: "trader", Password: []byte("hunter2"), Secret: []byte("pre-shared")}

func testSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.SenderCompID = "EXEC"
	cfg.TargetCompID = "VENUE"
	cfg.HeartBtInt = time.Second
	cfg.Tolerance = time.Hour
	cfg.LogonTimeout = 2 * time.Second
	cfg.LogoutTimeout = 2 * time.Second
	return cfg
}

func testAcceptorConfig() AcceptorConfig {
	return AcceptorConfig{
		SenderCompID: "VENUE",
		TargetCompID: "EXEC",
		Username:     testCreds.Username,
		Password:     testCreds.Password,
		Secret:       testCreds.Secret,
	}
}

func newManualEngine(t *testing.T, cfg Config, tr Transport, clk *fakeClock, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(t.Context(), cfg, testCreds, tr, testEntropy{}, append(opts, WithClock(clk.Now))...)
	require.NoError(t, err)
	e.manualTimers = true
	t.Cleanup(func() {
		e.Terminate(nil)
		e.Wait()
	})
	return e
}

func newPair(t *testing.T, cfg Config, acfg AcceptorConfig, opts ...Option) (*Engine, *Acceptor, *fakeClock) {
	t.Helper()
	local, remote := Pipe()
	clk := newFakeClock()
	e := newManualEngine(t, cfg, local, clk, opts...)
	acc := NewAcceptor(acfg, remote)
	go func() { _ = acc.Serve(t.Context()) }()
	return e, acc, clk
}

// rawPeer drives the counterparty side by hand.
type rawPeer struct {
	t   *testing.T
	tr  Transport
	seq uint64
}

func (p *rawPeer) send(msgType string, body ...Field) {
	p.t.Helper()
	p.seq++
	p.sendSeq(p.seq, false, msgType, body...)
}

func (p *rawPeer) sendSeq(seq uint64, possDup bool, msgType string, body ...Field) {
	p.t.Helper()
	require.NoError(p.t, p.tr.Write(p.t.Context(), Encode(nil, Message{
		Type:         msgType,
		SeqNum:       seq,
		SenderCompID: "VENUE",
		TargetCompID: "EXEC",
		SendingTime:  time.Now(),
		PossDup:      possDup,
		Body:         body,
	})))
}

func (p *rawPeer) expect(msgType string) Message {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(p.t.Context(), 2*time.Second)
	defer cancel()
	for {
		frame, err := p.tr.Read(ctx)
		require.NoError(p.t, err, "waiting for %s", msgType)
		m, err := Decode(frame)
		require.NoError(p.t, err)
		if m.Type == msgType {
			return m
		}
	}
}

// connectRaw logs on against a rawPeer and returns once the engine is Active.
func connectRaw(t *testing.T, cfg Config, opts ...Option) (*Engine, *rawPeer, *fakeClock) {
	t.Helper()
	local, remote := Pipe()
	clk := newFakeClock()
	e := newManualEngine(t, cfg, local, clk, opts...)
	peer := &rawPeer{t: t, tr: remote}

	done := make(chan error, 1)
	go func() { done <- e.Connect(t.Context()) }()
	peer.expect(MsgLogon)
	peer.send(MsgLogon, Field{Tag: TagHeartBtInt, Value: "1"})
	require.NoError(t, <-done)
	return e, peer, clk
}

func TestSequenceStrictlyIncreasesThroughLifecycle(t *testing.T) {
	var events []Event
	var mu sync.Mutex
	q := NewEventQueue(64)
	go q.Run(t.Context(), func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	e, acc, clk := newPair(t, testSessionConfig(), testAcceptorConfig(), WithEvents(q))
	require.Equal(t, StateCreated, e.State())
	require.NoError(t, e.Connect(t.Context()))
	require.Equal(t, StateActive, e.State())
	require.True(t, acc.LoggedOn())

	for range 5 {
		e.tick(clk.Advance(time.Second))
		_, err := e.SendOrder(t.Context(), order.Request{
			Instrument:    "BTC-USD",
			Side:          order.SideBuy,
			Quantity:      decimal.RequireFromString("0.1"),
			Price:         decimal.RequireFromString("100"),
			Venue:         "SIM",
			ClientOrderID: uuid.NewString(),
			CreatedAt:     clk.Now(),
		})
		require.NoError(t, err)
	}

	require.NoError(t, e.Logout(t.Context(), 0))
	require.Equal(t, StateTerminated, e.State())
	require.NoError(t, e.Err())

	received := acc.Received()
	require.NotEmpty(t, received)
	require.Equal(t, MsgLogon, received[0].Type)
	require.Equal(t, MsgLogout, received[len(received)-1].Type)
	for i, m := range received {
		if m.SeqNum != uint64(i+1) {
			t.Fatalf("seq mismatch at %d (%s): got %d want %d", i, m.Type, m.SeqNum, i+1)
		}
	}
	require.Equal(t, uint64(len(received)), e.Session().SequenceOut)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 4
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateLogonSent, StateActive, StateLogoutSent, StateTerminated}
	for i, ev := range events {
		require.Equal(t, want[i], ev.To)
		require.True(t, ev.IsTransition())
		require.Equal(t, e.ID(), ev.SessionID)
	}
}

func TestHeartbeatTimeoutDespiteOtherTraffic(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Tolerance = 500 * time.Millisecond

	var reports atomic.Int32
	e, acc, clk := newPair(t, cfg, testAcceptorConfig(), WithApplicationHandler(func(m Message) {
		if m.Type == MsgExecutionReport {
			reports.Add(1)
		}
	}))
	require.NoError(t, e.Connect(t.Context()))
	acc.WithholdHeartbeats(true)

	e.tick(clk.Advance(time.Second))
	require.Equal(t, StateActive, e.State())

	_, err := e.SendOrder(t.Context(), order.Request{
		Instrument:    "ETH-USD",
		Side:          order.SideSell,
		Quantity:      decimal.RequireFromString("1"),
		Venue:         "SIM",
		ClientOrderID: "c-1",
		CreatedAt:     clk.Now(),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reports.Load() == 1 }, time.Second, 5*time.Millisecond)

	e.tick(clk.Advance(600 * time.Millisecond))
	require.Equal(t, StateTerminated, e.State())
	require.Equal(t, exception.KindHeartbeatTimeout, exception.KindOf(e.Err()))

	_, err = e.Send(t.Context(), MsgNewOrderSingle, nil)
	require.ErrorIs(t, err, exception.ErrHeartbeatTimeout)
}

func TestStaleHeartbeatsDoNotKeepSessionAlive(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Tolerance = 500 * time.Millisecond
	e, peer, clk := connectRaw(t, cfg)

	// replay seq 1, then sync on an in-sequence test request
	replay := func(id string) {
		peer.sendSeq(1, false, MsgHeartbeat)
		peer.send(MsgTestRequest, Field{Tag: TagTestReqID, Value: id})
		for {
			m := peer.expect(MsgHeartbeat)
			if got, _ := m.Get(TagTestReqID); got == id {
				return
			}
		}
	}

	replay("r-1")
	e.tick(clk.Advance(time.Second))
	require.Equal(t, StateActive, e.State())

	replay("r-2")
	require.Equal(t, uint64(4), e.Session().SequenceIn)
	e.tick(clk.Advance(time.Second))
	require.Equal(t, StateTerminated, e.State())
	require.Equal(t, exception.KindHeartbeatTimeout, exception.KindOf(e.Err()))
}

func TestLogonTimeout(t *testing.T) {
	cfg := testSessionConfig()
	cfg.LogonTimeout = 50 * time.Millisecond

	local, remote := Pipe()
	defer remote.Close()
	e := newManualEngine(t, cfg, local, newFakeClock())

	err := e.Connect(t.Context())
	require.ErrorIs(t, err, exception.ErrLogonTimeout)
	require.Equal(t, StateTerminated, e.State())
	require.Equal(t, exception.KindLogonTimeout, exception.KindOf(e.Err()))
}

func TestLogonRejectedOnBadCredentials(t *testing.T) {
	acfg := testAcceptorConfig()
	acfg.Password = []byte("something else")
	e, _, _ := newPair(t, testSessionConfig(), acfg)

	err := e.Connect(t.Context())
	require.ErrorIs(t, err, exception.ErrTransportFailure)
	require.Equal(t, StateTerminated, e.State())
}

func TestGapRecoveredByGapFill(t *testing.T) {
	e, acc, _ := newPair(t, testSessionConfig(), testAcceptorConfig())
	require.NoError(t, e.Connect(t.Context()))

	acc.SkipSeq(3)
	require.NoError(t, acc.SendHeartbeat(t.Context(), ""))

	require.Eventually(t, func() bool {
		return e.Session().SequenceIn == 6
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	pending := e.gapPending
	e.mu.Unlock()
	require.False(t, pending)
	require.Equal(t, StateActive, e.State())

	var resend *Message
	for _, m := range acc.Received() {
		if m.Type == MsgResendRequest {
			resend = &m
			break
		}
	}
	require.NotNil(t, resend)
	begin, _ := resend.GetUint(TagBeginSeqNo)
	require.Equal(t, uint64(2), begin)
}

func TestGapUnrecoveredTerminates(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxGapHeartbeats = 3
	e, peer, clk := connectRaw(t, cfg)

	peer.sendSeq(5, false, MsgHeartbeat)
	resend := peer.expect(MsgResendRequest)
	begin, _ := resend.GetUint(TagBeginSeqNo)
	require.Equal(t, uint64(2), begin)

	// a second out-of-order message must not send another request
	peer.sendSeq(6, false, MsgHeartbeat)

	e.tick(clk.Advance(3 * time.Second))
	require.Equal(t, StateActive, e.State())

	e.tick(clk.Advance(600 * time.Millisecond))
	require.Equal(t, StateTerminated, e.State())
	require.Equal(t, exception.KindSequenceGapUnrecovered, exception.KindOf(e.Err()))
	require.Equal(t, uint64(2), e.Session().SequenceIn)
}

func TestDuplicateInboundDiscarded(t *testing.T) {
	var delivered atomic.Int32
	e, peer, _ := connectRaw(t, testSessionConfig(), WithApplicationHandler(func(Message) {
		delivered.Add(1)
	}))

	peer.send(MsgExecutionReport, Field{Tag: TagClOrdID, Value: "a"})
	peer.sendSeq(peer.seq, true, MsgExecutionReport, Field{Tag: TagClOrdID, Value: "a"})
	peer.send(MsgExecutionReport, Field{Tag: TagClOrdID, Value: "b"})

	require.Eventually(t, func() bool {
		return delivered.Load() == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(4), e.Session().SequenceIn)
}

func TestResendRequestReplaysApplicationMessages(t *testing.T) {
	e, peer, _ := connectRaw(t, testSessionConfig())

	for i := range 2 {
		seq, err := e.Send(t.Context(), MsgNewOrderSingle, []Field{{Tag: TagClOrdID, Value: strconv.Itoa(i)}})
		require.NoError(t, err)
		require.Equal(t, uint64(i+2), seq)
		peer.expect(MsgNewOrderSingle)
	}

	peer.send(MsgResendRequest, Field{Tag: TagBeginSeqNo, Value: "1"}, Field{Tag: TagEndSeqNo, Value: "0"})

	fill := peer.expect(MsgSequenceReset)
	require.Equal(t, uint64(1), fill.SeqNum)
	require.True(t, fill.PossDup)
	require.True(t, fill.GetBool(TagGapFillFlag))
	next, _ := fill.GetUint(TagNewSeqNo)
	require.Equal(t, uint64(2), next)

	for i := range 2 {
		m := peer.expect(MsgNewOrderSingle)
		require.Equal(t, uint64(i+2), m.SeqNum)
		require.True(t, m.PossDup)
		id, _ := m.Get(TagClOrdID)
		require.Equal(t, strconv.Itoa(i), id)
	}
	require.Equal(t, uint64(3), e.Session().SequenceOut)
}

func TestTestRequestAnswered(t *testing.T) {
	e, peer, _ := connectRaw(t, testSessionConfig())

	peer.send(MsgTestRequest, Field{Tag: TagTestReqID, Value: "ping"})
	hb := peer.expect(MsgHeartbeat)
	id, _ := hb.Get(TagTestReqID)
	require.Equal(t, "ping", id)
	require.Equal(t, StateActive, e.State())
}

func TestCounterpartyLogoutIsTransportFailure(t *testing.T) {
	e, peer, _ := connectRaw(t, testSessionConfig())

	peer.send(MsgLogout, Field{Tag: TagText, Value: "maintenance"})
	peer.expect(MsgLogout)
	<-e.Done()
	require.Equal(t, exception.KindTransportFailure, exception.KindOf(e.Err()))
}

func TestCompIDMismatchIsProtocolViolation(t *testing.T) {
	e, peer, _ := connectRaw(t, testSessionConfig())

	require.NoError(t, peer.tr.Write(t.Context(), Encode(nil, Message{
		Type:         MsgHeartbeat,
		SeqNum:       2,
		SenderCompID: "SOMEONE",
		TargetCompID: "EXEC",
		SendingTime:  time.Now(),
	})))
	<-e.Done()
	require.ErrorIs(t, e.Err(), exception.ErrTransportFailure)
}

func TestSendRequiresActive(t *testing.T) {
	local, remote := Pipe()
	defer remote.Close()
	e := newManualEngine(t, testSessionConfig(), local, newFakeClock())

	_, err := e.Send(t.Context(), MsgNewOrderSingle, nil)
	require.ErrorIs(t, err, ErrSessionNotActive)

	_, err = e.Send(t.Context(), MsgHeartbeat, nil)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	e.Terminate(nil)
	_, err = e.Send(t.Context(), MsgNewOrderSingle, nil)
	require.ErrorIs(t, err, ErrSessionTerminated)

	err = e.Connect(t.Context())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLogoutTimeout(t *testing.T) {
	e, _, _ := connectRaw(t, testSessionConfig())

	err := e.Logout(t.Context(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrLogoutTimeout)
	require.Equal(t, StateTerminated, e.State())
}

func TestTransitionsAreOneWay(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateCreated, StateLogonSent}:     true,
		{StateLogonSent, StateActive}:      true,
		{StateActive, StateLogoutSent}:     true,
		{StateCreated, StateTerminated}:    true,
		{StateLogonSent, StateTerminated}:  true,
		{StateActive, StateTerminated}:     true,
		{StateLogoutSent, StateTerminated}: true,
	}
	states := []State{StateCreated, StateLogonSent, StateActive, StateLogoutSent, StateTerminated}
	for _, from := range states {
		for _, to := range states {
			if got := canTransition(from, to); got != allowed[[2]State{from, to}] {
				t.Fatalf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}

func TestNewEngineValidates(t *testing.T) {
	local, _ := Pipe()
	_, err := NewEngine(t.Context(), Config{}, testCreds, local, testEntropy{})
	require.ErrorIs(t, err, exception.ErrInvalidConfig)

	_, err = NewEngine(t.Context(), testSessionConfig(), testCreds, nil, testEntropy{})
	require.True(t, errors.Is(err, exception.ErrNilInstance))
}
