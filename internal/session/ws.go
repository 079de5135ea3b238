package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// WSDialer opens sessions carried one frame per binary websocket message.
type WSDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context) (Transport, error) {
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = DefaultDialTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", d.URL)
	}
	return NewWSTransport(conn), nil
}

// NewWSTransport wraps an established websocket connection.
func NewWSTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(MaxBodyLength + 64)
	return &wsTransport{conn: conn}
}

type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
}

func (w *wsTransport) Write(ctx context.Context, frame []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
	} else {
		_ = w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *wsTransport) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	for {
		msgType, payload, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if msgType == websocket.BinaryMessage || msgType == websocket.TextMessage {
			return payload, nil
		}
	}
}

func (w *wsTransport) Close() error {
	var err error
	w.once.Do(func() {
		w.wmu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.wmu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// WSHandler upgrades incoming requests and hands each connection to serve.
// The connection is closed when serve returns.
func WSHandler(serve func(ctx context.Context, t Transport)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 16 << 10,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logs.Errorf("upgrade %s, err: %+v", r.RemoteAddr, err)
			return
		}
		t := NewWSTransport(conn)
		defer t.Close()
		serve(r.Context(), t)
	})
}
