package orchestrator

import (
	"sync"
	"time"

	"execcore/internal/order"
	"execcore/internal/session"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	ErrDuplicateOrder    = errors.New("order already tracked")
	ErrUnknownOrder      = errors.New("order not tracked")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// OrderState tracks the lifecycle of a dispatched order from execution reports.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStateSent
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
	OrderStateExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderStateSent:
		return "sent"
	case OrderStateAcked:
		return "acked"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCanceled:
		return "canceled"
	case OrderStateRejected:
		return "rejected"
	case OrderStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further report can change the order.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}

// ordStatus maps tag 39 values.
func ordStatus(v string) OrderState {
	switch v {
	case "0":
		return OrderStateAcked
	case "1":
		return OrderStatePartFilled
	case "2":
		return OrderStateFilled
	case "4":
		return OrderStateCanceled
	case "8":
		return OrderStateRejected
	case "C":
		return OrderStateExpired
	default:
		return OrderStateUnknown
	}
}

// TrackedOrder is the orchestrator's view of one order.
type TrackedOrder struct {
	Request   order.Request
	SeqNum    uint64
	State     OrderState
	UpdatedAt time.Time
}

// Tracker follows open orders by client order id. Terminal orders are dropped.
type Tracker struct {
	mu     sync.Mutex
	orders map[string]*TrackedOrder
}

func NewTracker() *Tracker {
	return &Tracker{orders: make(map[string]*TrackedOrder)}
}

// Track registers an order about to be sent. Reports may arrive before SetSeq.
func (t *Tracker) Track(req order.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orders[req.ClientOrderID]; ok {
		return errors.Wrapf(ErrDuplicateOrder, "client order id: %s", req.ClientOrderID)
	}
	t.orders[req.ClientOrderID] = &TrackedOrder{
		Request:   req,
		State:     OrderStateSent,
		UpdatedAt: req.CreatedAt,
	}
	return nil
}

// SetSeq records the sequence number the order went out under.
func (t *Tracker) SetSeq(id string, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.orders[id]; ok {
		o.SeqNum = seq
	}
}

// Drop forgets an order that was never sent.
func (t *Tracker) Drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, id)
}

// ApplyReport updates an order from an ExecutionReport.
func (t *Tracker) ApplyReport(m session.Message, now time.Time) (TrackedOrder, error) {
	id, _ := m.Get(session.TagClOrdID)
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	if !ok {
		return TrackedOrder{}, errors.Wrapf(ErrUnknownOrder, "client order id: %s", id)
	}
	status, _ := m.Get(session.TagOrdStatus)
	next := ordStatus(status)
	if next == OrderStateUnknown {
		return *o, errors.Wrapf(ErrInvalidTransition, "ord status %q", status)
	}
	o.State = next
	o.UpdatedAt = now
	if next.IsTerminal() {
		delete(t.orders, id)
	}
	return *o, nil
}

// Order returns an open order.
func (t *Tracker) Order(id string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	if !ok {
		return TrackedOrder{}, false
	}
	return *o, true
}

// Open returns the open order count.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}

// OpenQty sums the quantity of open orders.
func (t *Tracker) OpenQty() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum := decimal.Zero
	for _, o := range t.orders {
		sum = sum.Add(o.Request.Quantity)
	}
	return sum
}
