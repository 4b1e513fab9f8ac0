package adapterd

import (
	"context"
	"time"

	"github.com/kstaniek/canyonero/internal/canbus"
	"github.com/kstaniek/canyonero/internal/logging"
	"github.com/kstaniek/canyonero/internal/metrics"
)

// periodicMessage re-emits a fixed frame at interval until cancelled, the
// only place besides bus backends that owns a goroutine/timer - spec.md §5's
// "no timers" constraint binds the protocol core, not adapter behavior.
//
// startPeriodicMessage's wire payload carries its own Arbitration and data,
// with no channel handle (pdu.StartPeriodicMessage takes no handle
// argument): a periodic message is an independent raw-CAN transmission, not
// bound to any open channel.
type periodicMessage struct {
	handle byte
	cancel context.CancelFunc
	done   chan struct{}
}

// startPeriodic launches a ticker goroutine re-sending frame on the shared
// CAN bus every interval (in units of 10ms, matching spec.md's
// "interval (adapter-defined units)" wording) until stop is called.
func (s *Server) startPeriodic(ctx context.Context, handle byte, interval byte, frame canbus.Frame) *periodicMessage {
	pctx, cancel := context.WithCancel(ctx)
	pm := &periodicMessage{handle: handle, cancel: cancel, done: make(chan struct{})}
	period := time.Duration(interval) * 10 * time.Millisecond
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	go func() {
		defer close(pm.done)
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-t.C:
				if err := s.canBus.WriteFrame(frame); err != nil {
					metrics.IncError(metrics.ErrCANWrite)
					logging.WithPeriodic(logging.L(), handle).Error("periodic_can_write_error", "error", err)
				}
			}
		}
	}()
	return pm
}

func (pm *periodicMessage) stop() {
	pm.cancel()
	<-pm.done
}
