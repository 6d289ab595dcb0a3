// Package observability contains logging setup and the Prometheus metrics
// recorded by stream tasks, connections and the tick driver.
package observability

import (
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"

    "quicbridge/pkg/config"
)

// SetupLogger builds a zap.Logger from the provided configuration, sets it as
// the global logger, and redirects the stdlib log package. The returned
// function syncs the logger and restores the previous globals.
func SetupLogger(appName string, c config.LogConfig) (*zap.Logger, func(), error) {
    level := zap.NewAtomicLevelAt(parseLevel(c.Level))

    encCfg := encoderConfig(c.Development)
    var encoder zapcore.Encoder
    if strings.EqualFold(c.Format, "json") {
        encoder = zapcore.NewJSONEncoder(encCfg)
    } else {
        encoder = zapcore.NewConsoleEncoder(encCfg)
    }

    cores := make([]zapcore.Core, 0, len(c.Outputs))
    for _, out := range c.Outputs {
        ws, err := openOutput(out, c)
        if err != nil {
            return nil, nil, err
        }
        cores = append(cores, zapcore.NewCore(encoder, ws, level))
    }

    opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
    if c.Development {
        opts = append(opts, zap.Development())
    }
    logger := zap.New(zapcore.NewTee(cores...), opts...)
    if appName != "" {
        logger = logger.With(zap.String("app", appName))
    }

    undoGlobals := zap.ReplaceGlobals(logger)
    undoStd, err := zap.RedirectStdLogAt(logger, zap.InfoLevel)
    if err != nil {
        undoGlobals()
        return nil, nil, fmt.Errorf("redirect std log: %w", err)
    }
    cleanup := func() {
        _ = logger.Sync()
        undoStd()
        undoGlobals()
    }
    return logger, cleanup, nil
}

func parseLevel(s string) zapcore.Level {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "warning":
        return zap.WarnLevel
    case "":
        return zap.InfoLevel
    }
    lvl, err := zapcore.ParseLevel(s)
    if err != nil {
        return zap.InfoLevel
    }
    return lvl
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
    if dev {
        cfg := zap.NewDevelopmentEncoderConfig()
        cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
        return cfg
    }
    cfg := zap.NewProductionEncoderConfig()
    cfg.EncodeTime = zapcore.ISO8601TimeEncoder
    return cfg
}

// openOutput maps an output name to a sink: stdout, stderr, or a file path,
// rotated by lumberjack when rotation is enabled.
func openOutput(out string, c config.LogConfig) (zapcore.WriteSyncer, error) {
    switch strings.ToLower(out) {
    case "stdout":
        return zapcore.Lock(os.Stdout), nil
    case "stderr":
        return zapcore.Lock(os.Stderr), nil
    }
    name := out
    if c.Rotation.Enable && strings.TrimSpace(c.Rotation.Filename) != "" {
        name = c.Rotation.Filename
    }
    if dir := filepath.Dir(name); dir != "." {
        if err := os.MkdirAll(dir, 0o755); err != nil {
            return nil, fmt.Errorf("log dir %s: %w", dir, err)
        }
    }
    if c.Rotation.Enable {
        return zapcore.AddSync(&lumberjack.Logger{
            Filename:   name,
            MaxSize:    atLeast(c.Rotation.MaxSizeMB, 10),
            MaxBackups: atLeast(c.Rotation.MaxBackups, 1),
            MaxAge:     atLeast(c.Rotation.MaxAgeDays, 7),
            Compress:   c.Rotation.Compress,
        }), nil
    }
    f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
    if err != nil {
        return nil, fmt.Errorf("open log output %s: %w", name, err)
    }
    return zapcore.AddSync(f), nil
}

func atLeast(v, floor int) int {
    if v < floor {
        return floor
    }
    return v
}
