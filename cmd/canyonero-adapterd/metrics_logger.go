package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/canyonero/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"kline_rx", snap.KLineRx,
					"kline_tx", snap.KLineTx,
					"can_rx", snap.CANRx,
					"can_tx", snap.CANTx,
					"pdu_rx", snap.PDURx,
					"pdu_tx", snap.PDUTx,
					"channels_active", snap.ChannelsActive,
					"periodic_active", snap.PeriodicActive,
					"tester_connections", snap.TesterConnections,
					"tester_rejected", snap.TesterRejected,
					"errors", snap.Errors,
					"protocol_violations", snap.ProtocolViolations,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
