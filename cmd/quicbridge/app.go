package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "runtime"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/fx"
    "go.uber.org/fx/fxevent"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "quicbridge/pkg/codec"
    "quicbridge/pkg/config"
    "quicbridge/pkg/endpoint"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/host"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/observability"
    "quicbridge/pkg/session"
    "quicbridge/pkg/stream"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    app := fx.New(
        fx.Supply(opts),
        fx.Provide(
            loadConfig,
            newLogger,
            newExecutor,
            newEngine,
            newStreamOptions,
            newHost,
            newRole,
        ),
        fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
            return &fxevent.ZapLogger{Logger: l.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
        }),
        fx.Invoke(registerLoop),
    )
    if err := app.Err(); err != nil {
        _, _ = os.Stderr.WriteString("failed to build application: " + err.Error() + "\n")
        return 1
    }

    startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    if err := app.Start(startCtx); err != nil {
        _, _ = os.Stderr.WriteString("failed to start: " + err.Error() + "\n")
        return 1
    }

    sig := <-app.Wait()
    stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancelStop()
    if err := app.Stop(stopCtx); err != nil {
        zap.L().Error("shutdown", zap.Error(err))
        if sig.ExitCode == 0 {
            return 1
        }
    }
    return sig.ExitCode
}

func loadConfig(opts Options) (*config.Config, error) {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        return nil, fmt.Errorf("load config: %w", err)
    }
    if opts.Connect != "" {
        cfg.Client.Connect = opts.Connect
    }
    if opts.Messages > 0 {
        cfg.Client.Messages = opts.Messages
    }
    if opts.Codec != "" {
        cfg.Client.Codec = opts.Codec
    }
    if cfg.Runtime.MaxProcs > 0 {
        runtime.GOMAXPROCS(cfg.Runtime.MaxProcs)
    }
    return cfg, nil
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
    logger, cleanup, err := observability.SetupLogger(cfg.AppName, cfg.Log)
    if err != nil {
        return nil, fmt.Errorf("setup logger: %w", err)
    }
    lc.Append(fx.Hook{OnStop: func(context.Context) error {
        cleanup()
        return nil
    }})
    zap.L().Info("effective configuration", zap.Any("config", cfg))
    return logger, nil
}

// newExecutor is closed by host.Shutdown.
func newExecutor(*zap.Logger) *executor.Executor {
    return executor.New(context.Background())
}

func newEngine(cfg *config.Config, opts Options) (engine.Engine, error) {
    return endpoint.NewQUICEngine(cfg, opts.Role == ids.RoleServer)
}

func newStreamOptions(cfg *config.Config) (stream.Options, error) {
    return endpoint.StreamOptions(cfg.Stream)
}

func newHost(ex *executor.Executor, cfg *config.Config) *host.Host {
    return host.New(ex, session.Limits{
        MaxPacketTransfer:   cfg.Session.MaxPacketTransfer,
        PacketWarnThreshold: cfg.Session.PacketWarnThreshold,
    })
}

func newRole(opts Options, cfg *config.Config, ex *executor.Executor, eng engine.Engine, so stream.Options, h *host.Host) (role, error) {
    if opts.Role == ids.RoleServer {
        for _, addr := range cfg.Server.Listen {
            srv, err := endpoint.Listen(ex, eng, addr, so)
            if err != nil {
                return nil, fmt.Errorf("listen %s: %w", addr, err)
            }
            h.AddServer(srv)
        }
        return &echoServer{}, nil
    }
    reg, err := codec.NewRegistry()
    if err != nil {
        return nil, err
    }
    c, err := reg.Get(cfg.Client.Codec)
    if err != nil {
        return nil, err
    }
    return newPingClient(cfg.Client, c, endpoint.NewClient(ex, eng, so)), nil
}

// registerLoop runs the tick loop and, when enabled, the metrics endpoint in
// one errgroup that lives from OnStart to OnStop.
func registerLoop(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, h *host.Host, r role) {
    var (
        cancel  context.CancelFunc
        stopped = make(chan struct{})
        once    sync.Once
    )
    shutdown := func(code int) {
        once.Do(func() {
            if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
                zap.L().Warn("request shutdown", zap.Error(err))
            }
        })
    }

    lc.Append(fx.Hook{
        OnStart: func(context.Context) error {
            var ctx context.Context
            ctx, cancel = context.WithCancel(context.Background())
            g, gctx := errgroup.WithContext(ctx)

            observability.RegisterMetrics()
            if cfg.Metrics.Enable {
                serveMetrics(gctx, g, cfg.Metrics.Listen)
            }

            r.Start(h)
            g.Go(func() error {
                return h.Run(gctx, cfg.Runtime.TickInterval(), func(h *host.Host, events []host.Event) {
                    if r.OnTick(h, events) {
                        shutdown(r.ExitCode())
                    }
                })
            })

            go func() {
                defer close(stopped)
                if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
                    zap.L().Error("bridge loop stopped", zap.Error(err))
                    shutdown(1)
                }
            }()
            zap.L().Info("quicbridge running", zap.Duration("tick", cfg.Runtime.TickInterval()))
            return nil
        },
        OnStop: func(ctx context.Context) error {
            cancel()
            select {
            case <-stopped:
            case <-ctx.Done():
                return ctx.Err()
            }
            return h.Shutdown(cfg.Runtime.ShutdownTimeout())
        },
    })
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

    g.Go(func() error {
        zap.L().Info("metrics listening", zap.String("addr", addr))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return fmt.Errorf("metrics server: %w", err)
        }
        return nil
    })
    g.Go(func() error {
        <-ctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        return srv.Shutdown(shutdownCtx)
    })
}
