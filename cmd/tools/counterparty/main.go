package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"execcore/internal/config"
	"execcore/internal/session"

	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9878", "TCP listen address (empty=disable)")
	wsAddr := flag.String("ws-addr", "", "WebSocket listen address (empty=disable)")
	wsPath := flag.String("ws-path", "/fix", "WebSocket path")
	sender := flag.String("sender", "VENUE", "Acceptor SenderCompID")
	target := flag.String("target", "EXEC", "Initiator CompID")
	heartbeat := flag.Duration("heartbeat", 30*time.Second, "Unsolicited heartbeat interval (0=disable)")
	fill := flag.Bool("fill", true, "Fill orders instead of acknowledging them")
	envFile := flag.String("env-file", ".env", "dotenv file with the FIX_* credentials")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logs.Errorf("load %s, err: %+v", *envFile, err)
	}

	cfg := session.AcceptorConfig{
		SenderCompID: *sender,
		TargetCompID: *target,
		HeartBtInt:   *heartbeat,
		Username:     os.Getenv(config.EnvUsername),
		Password:     []byte(os.Getenv(config.EnvPassword)),
		Secret:       []byte(os.Getenv(config.EnvSecret)),
		FillOrders:   *fill,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serve := func(ctx context.Context, t session.Transport) {
		if err := session.NewAcceptor(cfg, t).Serve(ctx); err != nil {
			logs.Errorf("counterparty session ended, err: %+v", err)
		}
	}

	if *addr != "" {
		l, err := net.Listen("tcp", *addr)
		if err != nil {
			logs.Errorf("listen %s, err: %+v", *addr, err)
			os.Exit(1)
		}
		defer l.Close()
		go acceptLoop(ctx, l, serve)
		logs.Infof("counterparty listening on tcp %s", *addr)
	}

	if *wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(*wsPath, session.WSHandler(serve))
		srv := &http.Server{Addr: *wsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Errorf("listen ws %s, err: %+v", *wsAddr, err)
				cancel()
			}
		}()
		defer func() {
			_ = srv.Close()
		}()
		logs.Infof("counterparty listening on ws %s%s", *wsAddr, *wsPath)
	}

	select {
	case <-sys.Shutdown():
	case <-ctx.Done():
	}
	logs.Info("counterparty stopped")
}

func acceptLoop(ctx context.Context, l net.Listener, serve func(context.Context, session.Transport)) {
	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() == nil {
				logs.Errorf("accept, err: %+v", err)
			}
			return
		}
		logs.Infof("counterparty accepted %s", c.RemoteAddr())
		go func() {
			t := session.NewConnTransport(c)
			defer t.Close()
			serve(ctx, t)
		}()
	}
}
