// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/watchdog/internal/bootwatch"
	"github.com/antimetal/watchdog/internal/config"
	"github.com/antimetal/watchdog/internal/metrics"
	"github.com/antimetal/watchdog/internal/metrics/consumers/debug"
	"github.com/antimetal/watchdog/internal/metrics/consumers/otel"
	"github.com/antimetal/watchdog/internal/metrics/consumers/recordlog"
	"github.com/antimetal/watchdog/internal/report"
	"github.com/antimetal/watchdog/internal/runtime"
	"github.com/antimetal/watchdog/pkg/config/environment"
	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/antimetal/watchdog/pkg/performance/collectors"
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	dumpFormat string
	verbose    bool
)

func init() {
	flag.StringVar(&dumpFormat, "dump-format", "text",
		"Format of dumps written to stderr on SIGUSR1 and when a custom collection ends: 'text' or 'yaml'")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose development logging")
}

func newLogger() (logr.Logger, error) {
	var (
		zapLog *zap.Logger
		err    error
	)
	if verbose {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zapLog), nil
}

// dumpTo renders one dump to w in the configured format.
func dumpTo(w io.Writer, write func(performance.Sink) error) error {
	switch dumpFormat {
	case "yaml":
		sink := report.NewYAMLSink(w)
		if err := write(sink); err != nil {
			return err
		}
		return sink.Close()
	case "text":
		return write(report.NewTextSink(w))
	default:
		return fmt.Errorf("unknown dump format %q", dumpFormat)
	}
}

func newSources(logger logr.Logger, procPath string) (performance.Sources, error) {
	uidIO, err := collectors.NewUidIoStats(logger, procPath)
	if err != nil {
		return performance.Sources{}, err
	}
	procStat, err := collectors.NewProcStat(logger, procPath)
	if err != nil {
		return performance.Sources{}, err
	}
	procPidStat, err := collectors.NewProcPidStat(logger, procPath)
	if err != nil {
		return performance.Sources{}, err
	}
	return performance.Sources{
		UserIO:  uidIO,
		System:  procStat,
		Process: procPidStat,
	}, nil
}

// newRouter builds the metrics pipeline for the enabled consumers. It returns
// nil when no consumer is enabled.
func newRouter(ctx context.Context, logger logr.Logger, nodeName string) (*metrics.MetricsRouter, error) {
	if !otel.IsEnabled() && !debug.Enabled() && !recordlog.IsEnabled() {
		return nil, nil
	}

	router := metrics.NewMetricsRouter(logger, nodeName)

	if otel.IsEnabled() {
		otelConfig := otel.GetConfigFromEnvironment()
		otelConfig.ServiceVersion = runtime.Version()
		otelConsumer, err := otel.NewConsumer(otelConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("unable to create OpenTelemetry consumer: %w", err)
		}
		if err := router.RegisterConsumer(ctx, otelConsumer); err != nil {
			return nil, fmt.Errorf("unable to register OpenTelemetry consumer: %w", err)
		}
		setupLog.Info("OpenTelemetry consumer started and registered")
	}

	if debug.Enabled() {
		debugConsumer, err := debug.NewConsumer(debug.DefaultConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("unable to create debug consumer: %w", err)
		}
		if err := router.RegisterConsumer(ctx, debugConsumer); err != nil {
			return nil, fmt.Errorf("unable to register debug consumer: %w", err)
		}
		setupLog.Info("Debug consumer started and registered")
	}

	if recordlog.IsEnabled() {
		logConsumer, err := recordlog.NewConsumer(recordlog.GetConfigFromFlags(), logger)
		if err != nil {
			return nil, fmt.Errorf("unable to create record log consumer: %w", err)
		}
		if err := router.RegisterConsumer(ctx, logConsumer); err != nil {
			return nil, fmt.Errorf("unable to register record log consumer: %w", err)
		}
		setupLog.Info("Record log consumer started and registered")
	}

	go func() {
		if err := router.Start(ctx); err != nil {
			setupLog.Error(err, "metrics router stopped")
		}
	}()
	return router, nil
}

func main() {
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		logger = stdr.New(log.New(os.Stderr, "[ioperfd] ", log.LstdFlags))
		logger.Error(err, "unable to create zap logger, logging to stderr")
	}
	setupLog = logger.WithName("setup")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collectionConfig, err := config.LoadFromFlags(setupLog)
	if err != nil {
		setupLog.Error(err, "unable to load collection config")
		os.Exit(1)
	}

	nodeName, err := environment.GetNodeName()
	if err != nil {
		setupLog.Error(err, "unable to get node name")
		os.Exit(1)
	}
	hostPaths := environment.GetHostPaths()

	sources, err := newSources(logger.WithName("collectors"), hostPaths.Proc)
	if err != nil {
		setupLog.Error(err, "unable to create counter sources")
		os.Exit(1)
	}

	var receivers []performance.Receiver
	router, err := newRouter(ctx, logger, nodeName)
	if err != nil {
		setupLog.Error(err, "unable to set up metrics pipeline")
		os.Exit(1)
	}
	if router != nil {
		receivers = append(receivers, router)
		setupLog.Info("Metrics pipeline enabled")
	}

	scheduler, err := performance.NewScheduler(performance.SchedulerOptions{
		Config:    collectionConfig,
		Logger:    logger,
		Sources:   sources,
		Resolver:  collectors.NewUserResolver(logger),
		Receivers: receivers,
	})
	if err != nil {
		setupLog.Error(err, "unable to create I/O performance scheduler")
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		setupLog.Error(err, "unable to start I/O performance collection")
		os.Exit(1)
	}

	onBoot := func() {
		if err := scheduler.OnBootFinished(); err != nil {
			setupLog.Error(err, "unable to switch to periodic collection")
		}
	}
	if marker := bootwatch.MarkerPath(); marker != "" {
		watcher, err := bootwatch.New(marker, onBoot, logger)
		if err != nil {
			setupLog.Error(err, "unable to watch boot marker", "path", marker)
			scheduler.Terminate()
			os.Exit(1)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				setupLog.Error(err, "unable to close boot marker watcher")
			}
		}()
	} else {
		onBoot()
	}

	control := make(chan os.Signal, 1)
	signal.Notify(control, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(control)

	setupLog.Info("collecting I/O performance data",
		"node", nodeName, "proc", hostPaths.Proc, "version", runtime.Version())

	for {
		select {
		case <-ctx.Done():
			setupLog.Info("shutting down")
			scheduler.Terminate()
			return
		case sig := <-control:
			handleControl(scheduler, sig)
		}
	}
}

// handleControl serves the runtime controls: SIGUSR1 dumps every collection,
// SIGUSR2 starts a custom collection or, when one is running, ends it and
// dumps it.
func handleControl(scheduler *performance.Scheduler, sig os.Signal) {
	var err error
	switch sig {
	case syscall.SIGUSR1:
		err = dumpTo(os.Stderr, scheduler.Dump)
	case syscall.SIGUSR2:
		if scheduler.Mode() == performance.ModeCustom {
			err = dumpTo(os.Stderr, scheduler.EndCustomCollection)
		} else {
			err = scheduler.StartCustomCollection(0, 0)
			if err == nil {
				setupLog.Info("custom collection started")
			}
		}
	}
	if err != nil {
		setupLog.Error(err, "control request failed", "signal", sig)
	}
}
