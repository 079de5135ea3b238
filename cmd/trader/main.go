package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"execcore/internal/config"
	"execcore/internal/entropy"
	"execcore/internal/journal"
	"execcore/internal/obs"
	"execcore/internal/order"
	"execcore/internal/orchestrator"
	"execcore/internal/risk"
	"execcore/internal/state"
	"execcore/pkg/conn"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML or JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	envFile := flag.String("env-file", ".env", "dotenv file with the FIX_* credentials")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logs.Errorf("load %s, err: %+v", *envFile, err)
	}

	loaded, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if loaded.Pyroscope.ServerAddress != "" {
		profiler, err := startProfiler(loaded.Pyroscope)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	if loaded.MetricsAddr != "" {
		srv := serveMetrics(loaded.MetricsAddr, metrics)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	latchStore, closeLatch, err := openLatchStore(ctx, loaded.Latch)
	if err != nil {
		return err
	}
	defer closeLatch()

	var jnl orchestrator.Journal
	if loaded.Journal.Enabled() {
		client, j, err := openJournal(ctx, loaded.Journal)
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Close()
		}()
		jnl = j
	}

	hardware := entropy.NewCryptoSource()
	if loaded.Entropy.Device != "" {
		device := entropy.NewDeviceSource(loaded.Entropy.Device)
		defer func() {
			_ = device.Close()
		}()
		hardware = device
	} else {
		logs.Info("no entropy device configured, hardware source simulated with crypto/rand")
	}
	pool, err := entropy.NewPool(loaded.Entropy, hardware, entropy.NewCryptoSource())
	if err != nil {
		return err
	}

	o, err := orchestrator.New(loaded.Orchestrator, orchestrator.Deps{
		Pool:        pool,
		Profile:     loaded.Profile,
		LatchStore:  latchStore,
		Dialer:      loaded.Dialer,
		Credentials: loaded.Credentials,
		Signals:     &orchestrator.FixedSignal{Signal: loaded.Signal, Interval: loaded.SignalEvery},
		Account:     loaded.Account,
		Venues: map[string]order.Delegator{
			loaded.Orchestrator.Venue: paperVenue(),
		},
		Journal: jnl,
		Metrics: metrics,
		OnRejection: func(r orchestrator.Rejection) {
			logs.Infof("rejected %s, input: %+v", r.Kind, r.Input)
		},
	})
	if err != nil {
		return err
	}

	if *configPath != "" && *configReload > 0 {
		go config.Watch(ctx, *configPath, *configReload, func(l config.Loaded) {
			if l.Profile == o.Profile() {
				return
			}
			if err := o.SetProfile(l.Profile); err != nil {
				logs.Errorf("apply reloaded profile %s, err: %+v", l.Profile.Name, err)
			}
		})
	}

	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			o.Stop()
		case <-ctx.Done():
		}
	}()

	logs.Infof("trader started, profile: %s, venue: %s, instrument: %s",
		loaded.Profile.Name, loaded.Orchestrator.Venue, loaded.Orchestrator.Instrument)
	err = o.Run(ctx)
	snapshot := metrics.Snapshot()
	logs.Infof("trader stopped, orders: %d, clamped: %d, reconnects: %d, rejections: %v, dispatch: %+v",
		snapshot.Orders, snapshot.Clamps, snapshot.Reconnects, snapshot.Rejections, snapshot.DispatchLatency)
	return err
}

func startProfiler(cfg config.PyroscopeConfig) (*pyroscope.Profiler, error) {
	name := cfg.ApplicationName
	if name == "" {
		name = "execcore.trader"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.ServerAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope")
	}
	return profiler, nil
}

func serveMetrics(addr string, metrics *obs.Metrics) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("metrics listener %s, err: %+v", addr, err)
		}
	}()
	logs.Infof("metrics served on %s/metrics", addr)
	return srv
}

func openLatchStore(ctx context.Context, cfg config.LatchConfig) (risk.LatchStore, func(), error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, errors.Wrapf(err, "ping redis %s", cfg.RedisAddr)
		}
		return risk.NewRedisLatchStore(rdb, cfg.RedisKey), func() { _ = rdb.Close() }, nil
	}
	if cfg.File != "" {
		return state.NewFileLatchStore(cfg.File), func() {}, nil
	}
	return nil, func() {}, nil
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (*conn.Client, *journal.Journal, error) {
	client, err := conn.New(ctx, conn.Option{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		ConnString:      cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.New(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := j.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	return client, j, nil
}

// paperVenue stands in for a venue REST adapter.
func paperVenue() order.Delegator {
	return order.DelegatorFunc(func(_ context.Context, req order.Request) error {
		logs.Infof("paper venue accepted %s: %s %s %s @ %s", req.ClientOrderID, req.Side, req.Quantity, req.Instrument, req.Price)
		return nil
	})
}
