package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/canyonero/internal/adapterd"
	"github.com/kstaniek/canyonero/internal/config"
	"github.com/kstaniek/canyonero/internal/discovery"
	"github.com/kstaniek/canyonero/internal/metrics"
)

func main() {
	cfg, showVersion, err := config.Parse(os.Args[1:])
	if showVersion {
		fmt.Printf("canyonero-adapterd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	srv := adapterd.NewServer(cfg,
		adapterd.WithInfo(adapterd.Info{
			Vendor:   cfg.Vendor,
			Model:    cfg.Model,
			Hardware: cfg.Hardware,
			Serial:   cfg.Serial,
			Firmware: cfg.Firmware,
		}),
		adapterd.WithLogger(l),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.MDNSEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		port := portOf(addr)
		cleanup, err := discovery.Advertise(ctx, cfg.MDNSName, port, []string{"version=" + version})
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", discovery.ServiceType, "port", port)
		go func() { <-ctx.Done(); cleanup() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	wg.Wait()
}

func portOf(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if n, err := strconv.Atoi(addr[i+1:]); err == nil {
			return n
		}
	}
	return 0
}
