package adapterd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/canyonero/internal/metrics"
)

const writeDeadline = 10 * time.Second

// startWriter serializes encoded replies back to conn in arrival order.
func (s *Server) startWriter(ctx context.Context, conn net.Conn, replies <-chan []byte, logger *slog.Logger) {
	defer s.wg.Done()
	for {
		select {
		case out := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if _, err := conn.Write(out); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				logger.Warn("conn_write_error", "error", wrap)
				return
			}
			metrics.IncPDUTx()
		case <-ctx.Done():
			return
		}
	}
}
