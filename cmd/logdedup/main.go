package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oicur0t/logdedup/internal/config"
	"github.com/oicur0t/logdedup/internal/pipeline"
	"github.com/oicur0t/logdedup/internal/reader"
	"github.com/oicur0t/logdedup/internal/sink"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Printf("logdedup %s (%s)\n", version, commit)
		return
	}

	// Initialize logger
	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting logdedup",
		zap.String("input", cfg.Input),
		zap.String("output", cfg.Output),
		zap.String("ip", cfg.IP),
		zap.Int("max", cfg.Max),
		zap.String("format", cfg.Format))

	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	source, err := reader.Open(cfg.Input, cfg.MaxLineSize, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("Failed to close input", zap.Error(err))
		}
	}()

	sinks := []sink.Sink{sink.NewFileSink(cfg.Output, format, logger)}

	if cfg.Mongo.URI != "" {
		mongoSink, err := sink.NewMongoSink(ctx, sink.MongoOptions{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
			MaxRetries: cfg.Mongo.MaxRetries,
			TargetIP:   cfg.IP,
			Source:     cfg.Input,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create MongoDB sink: %w", err)
		}
		sinks = append(sinks, mongoSink)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range sinks {
			if err := s.Close(closeCtx); err != nil {
				logger.Warn("Failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
			}
		}
	}()

	result, err := pipeline.New(source, cfg.IP, cfg.Max, sinks, logger).Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("Done",
		zap.Int("summaries", len(result.Summaries)),
		zap.Int("matched", result.Stats.Matched))

	return nil
}

// initLogger creates a configured zap logger
func initLogger(level string, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var loggerConfig zap.Config
	if format == "json" {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
	}

	loggerConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	loggerConfig.DisableStacktrace = true

	return loggerConfig.Build()
}
