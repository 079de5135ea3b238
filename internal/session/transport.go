package session

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
)

var ErrTransportClosed = errors.New("session: transport closed")

// Transport moves complete frames between the engine and the counterparty.
type Transport interface {
	Write(ctx context.Context, frame []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a fresh transport for each session.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// Pipe returns two connected in-memory transports. Closing either end closes both.
func Pipe() (Transport, Transport) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: ba, out: ab, closed: closed, once: once},
		&pipeEnd{in: ab, out: ba, closed: closed, once: once}
}

type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

func (p *pipeEnd) Write(ctx context.Context, frame []byte) error {
	b := make([]byte, len(frame))
	copy(b, frame)
	select {
	case <-p.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case <-p.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- b:
		return nil
	}
}

func (p *pipeEnd) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	default:
	}
	select {
	case <-p.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-p.in:
		return b, nil
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
