package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/yanun0323/errors"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultKeepAlive   = 30 * time.Second
)

// TCPDialer opens plain TCP sessions.
type TCPDialer struct {
	Addr        string
	DialTimeout time.Duration
	KeepAlive   time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if d.DialTimeout <= 0 {
		d.DialTimeout = DefaultDialTimeout
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = DefaultKeepAlive
	}
	dialer := net.Dialer{
		Timeout:   d.DialTimeout,
		KeepAlive: d.KeepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", d.Addr)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(d.KeepAlive)
	}
	return NewConnTransport(conn), nil
}

// NewConnTransport frames messages over a byte stream.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 16<<10),
	}
}

type connTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
	once   sync.Once
}

func (c *connTransport) Write(ctx context.Context, frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *connTransport) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	frame, err := ReadFrame(c.reader)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return frame, err
}

func (c *connTransport) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}
