package adapterd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/canyonero/internal/metrics"
	"github.com/kstaniek/canyonero/internal/pdu"
)

const readDeadline = 60 * time.Second

// startReader accumulates bytes from conn, splits complete PDUs with
// pdu.Probe, dispatches each, and pushes the encoded reply onto replies.
func (s *Server) startReader(ctx context.Context, conn net.Conn, replies chan<- []byte, cancel context.CancelFunc, logger *slog.Logger) {
	defer s.wg.Done()
	defer cancel()

	buf := make([]byte, 4096)
	acc := bytes.NewBuffer(nil)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := conn.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			for {
				frameLen, ok := pdu.Probe(acc.Bytes())
				if !ok {
					break
				}
				frame := make([]byte, frameLen)
				copy(frame, acc.Bytes()[:frameLen])
				acc.Next(frameLen)

				p, derr := pdu.Decode(frame)
				if derr != nil {
					metrics.IncError(metrics.ErrFormatInvalid)
					logger.Warn("pdu_decode_error", "error", derr)
					continue
				}
				metrics.IncPDURx()
				reply := s.dispatch(ctx, p, logger)
				out, eerr := reply.Encode()
				if eerr != nil {
					logger.Error("pdu_encode_error", "error", eerr)
					continue
				}
				select {
				case replies <- out:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			logger.Warn("conn_read_error", "error", wrap)
			return
		}
	}
}
