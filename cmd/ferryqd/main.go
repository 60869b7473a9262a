//
// Copyright © 2017 Solus Project
//

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/solus-project/ferryq/internal/processor"
	"github.com/solus-project/ferryq/internal/registry"
	"github.com/solus-project/ferryq/internal/service"
	"github.com/solus-project/ferryq/internal/store"
)

var (
	baseDir    = "/var/lib/ferryqd"
	socketPath = "/run/ferryqd.sock"
	strategy   = service.StrategySimple

	waitTimeMillis      int64 = 1000
	maxThreads                = 5
	threadStartupMillis int64 = 50
	conflictRetryLimit        = 5

	systemdEnabled = false
)

// bind sets up the listener, preferring a systemd-activated socket (so the
// daemon can be launched under socket activation) and falling back to
// binding the unix socket ourselves, exactly as ferryd's Server.Bind does.
func bind() (net.Listener, error) {
	if _, ok := os.LookupEnv("LISTEN_FDS"); ok {
		listeners, err := activation.Listeners()
		if err != nil {
			return nil, err
		}
		if len(listeners) != 1 {
			return nil, fmt.Errorf("expected exactly one socket from systemd, got %d", len(listeners))
		}
		systemdEnabled = true
		return listeners[0], nil
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func main() {
	pflag.StringVarP(&baseDir, "base", "d", baseDir, "Base directory for ferryqd's database and logs")
	pflag.StringVarP(&socketPath, "socket", "s", socketPath, "Unix socket path for the admin API")
	pflag.StringVar(&strategy, "strategy", strategy, "Processor strategy to start with (simple or multi)")
	pflag.Int64Var(&waitTimeMillis, "wait-time-ms", waitTimeMillis, "Idle wait time between claim attempts, in milliseconds")
	pflag.IntVar(&maxThreads, "max-threads", maxThreads, "Maximum concurrent jobs for the multi strategy")
	pflag.Int64Var(&threadStartupMillis, "thread-startup-ms", threadStartupMillis, "Delay between spawning workers in the multi strategy")
	pflag.IntVar(&conflictRetryLimit, "conflict-retries", conflictRetryLimit, "Maximum store-conflict retries per claim cycle")
	pflag.Parse()

	form := &log.TextFormatter{DisableColors: true, FullTimestamp: true, TimestampFormat: "15:04:05"}
	log.SetFormatter(form)

	b, err := filepath.Abs(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot resolve base directory %v: %v\n", baseDir, err)
		os.Exit(1)
	}
	baseDir = b

	if err := os.MkdirAll(baseDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create base directory %v: %v\n", baseDir, err)
		os.Exit(1)
	}

	logPath := filepath.Join(baseDir, "ferryqd.log")
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %v: %v\n", logPath, err)
		os.Exit(1)
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	log.Info("initialising ferryqd")

	db, err := store.Open(filepath.Join(baseDir, "ferryq.db"))
	if err != nil {
		log.WithError(err).Error("failed to open store")
		os.Exit(1)
	}

	reg := registry.New()
	registerBuiltinTasks(reg)

	svc := service.New(db, reg, log.WithField("component", "service"))
	defer svc.Close()

	cfg := processor.Config{
		WaitTime:           time.Duration(waitTimeMillis) * time.Millisecond,
		ConflictRetryLimit: conflictRetryLimit,
		MaxThreads:         maxThreads,
		ThreadStartupWait:  time.Duration(threadStartupMillis) * time.Millisecond,
	}
	if err := svc.StartProcessing(strategy, cfg); err != nil {
		log.WithError(err).Error("failed to start processor")
		os.Exit(1)
	}

	listener, err := bind()
	if err != nil {
		log.WithError(err).Error("failed to bind admin socket")
		os.Exit(1)
	}

	admin := service.NewAdmin(svc, log.WithField("component", "admin"))
	httpServer := &http.Server{Handler: admin}

	killHandler(svc, httpServer, listener)

	if systemdEnabled {
		daemon.SdNotify(false, daemon.SdNotifyReady)
	}

	log.WithField("socket", socketPath).Info("serving admin API")
	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("admin server stopped unexpectedly")
		os.Exit(1)
	}
}

// killHandler ensures SIGINT/SIGTERM drain in-flight jobs before the
// process exits, matching ferryd's Server.killHandler.
func killHandler(svc *service.Service, httpServer *http.Server, listener net.Listener) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Warning("ferryqd shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
		svc.Close()
		if !systemdEnabled {
			os.Remove(socketPath)
		}
		os.Exit(0)
	}()
}
