package adapterd

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/canyonero/internal/logging"
	"github.com/kstaniek/canyonero/internal/metrics"
	"github.com/kstaniek/canyonero/internal/pdu"
	"github.com/kstaniek/canyonero/internal/transceiver"
)

// dispatch routes one decoded command PDU to its handler and returns the
// reply (or error) PDU to send back.
func (s *Server) dispatch(ctx context.Context, p pdu.PDU, logger *slog.Logger) pdu.PDU {
	switch p.Type() {
	case pdu.TypePing:
		return s.handlePing(p)
	case pdu.TypeRequestInfo:
		return s.handleRequestInfo()
	case pdu.TypeReadVoltage:
		return s.handleReadVoltage()
	case pdu.TypeOpenChannel:
		return s.handleOpenChannel(ctx, p, logger)
	case pdu.TypeCloseChannel:
		return s.handleCloseChannel(p)
	case pdu.TypeSend:
		return s.handleSend(ctx, p, logger)
	case pdu.TypeSetArbitration:
		return s.handleSetArbitration(p)
	case pdu.TypeStartPeriodicMessage:
		return s.handleStartPeriodicMessage(ctx, p, logger)
	case pdu.TypeEndPeriodicMessage:
		return s.handleEndPeriodicMessage(p)
	case pdu.TypePrepareForUpdate:
		return s.handlePrepareForUpdate()
	case pdu.TypeSendUpdateData:
		return s.handleSendUpdateData(p)
	case pdu.TypeCommitUpdate:
		return s.handleCommitUpdate()
	case pdu.TypeReset:
		return s.handleReset()
	default:
		metrics.IncProtocolViolation()
		return pdu.ErrorInvalidCommand()
	}
}

func (s *Server) handlePing(p pdu.PDU) pdu.PDU {
	payload, _ := p.DataSlice()
	return pdu.Pong(payload)
}

func (s *Server) handleRequestInfo() pdu.PDU {
	return pdu.Info(s.info.Vendor, s.info.Model, s.info.Hardware, s.info.Serial, s.info.Firmware)
}

func (s *Server) handleReadVoltage() pdu.PDU {
	return pdu.Voltage(s.readVoltage())
}

func (s *Server) handleOpenChannel(ctx context.Context, p pdu.PDU, logger *slog.Logger) pdu.PDU {
	protocol, err := p.OpenChannelProtocol()
	if err != nil {
		metrics.IncError(metrics.ErrFormatInvalid)
		return pdu.ErrorHardware()
	}
	switch protocol {
	case pdu.ProtocolISO9141, pdu.ProtocolKWP2000:
		if err := s.ensureKLineBus(ctx); err != nil {
			logger.Error("kline_bus_open_error", "protocol", protocol, "error", err)
			return pdu.ErrorHardware()
		}
	case pdu.ProtocolRawCAN, pdu.ProtocolISOTP:
		if err := s.ensureCANBus(ctx); err != nil {
			logger.Error("can_bus_open_error", "protocol", protocol, "error", err)
			return pdu.ErrorHardware()
		}
	default:
		return pdu.ErrorInvalidChannel()
	}

	s.mu.Lock()
	h, ok := s.chAlloc.Allocate()
	if !ok {
		s.mu.Unlock()
		return pdu.ErrorInvalidChannel()
	}
	s.channels[h] = newChannel(h, protocol)
	s.mu.Unlock()

	metrics.IncChannelOpened()
	return pdu.ChannelOpened(h)
}

func (s *Server) handleCloseChannel(p pdu.PDU) pdu.PDU {
	h, err := p.Channel()
	if err != nil {
		return pdu.ErrorInvalidChannel()
	}
	s.mu.Lock()
	_, ok := s.channels[h]
	if ok {
		delete(s.channels, h)
		s.chAlloc.Release(h)
	}
	s.mu.Unlock()
	if !ok {
		return pdu.ErrorInvalidChannel()
	}
	metrics.IncChannelClosed()
	return pdu.ChannelClosed(h)
}

func (s *Server) lookupChannel(h byte) (*Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[h]
	return ch, ok
}

func (s *Server) handleSend(ctx context.Context, p pdu.PDU, logger *slog.Logger) pdu.PDU {
	h, err := p.Channel()
	if err != nil {
		return pdu.ErrorInvalidChannel()
	}
	ch, ok := s.lookupChannel(h)
	if !ok {
		return pdu.ErrorInvalidChannel()
	}
	data, err := p.DataSlice()
	if err != nil {
		return pdu.ErrorHardware()
	}

	if ch.isKLine() {
		return s.sendKLine(ctx, ch, data, logger)
	}
	return s.sendCAN(ch, data)
}

func (s *Server) sendKLine(ctx context.Context, ch *Channel, data []byte, logger *slog.Logger) pdu.PDU {
	frames, err := ch.buildOutgoing(data)
	if err != nil {
		metrics.IncError(metrics.ErrFormatInvalid)
		return pdu.ErrorHardware()
	}
	var sent int
	for _, f := range frames {
		if err := s.klBus.Write(f); err != nil {
			metrics.IncError(metrics.ErrKLineWrite)
			logging.WithChannel(logger, ch.handle, ch.protocol).Error("kline_send_error", "error", err)
			return pdu.ErrorHardware()
		}
		sent += len(f)
	}

	// Give any reply frames a short window to arrive, purely to surface
	// Transceiver protocol violations (SPEC_FULL.md §7); the reassembled
	// payload itself has no wire reply to carry it, see DESIGN.md.
	tf := ch.replyTransceiver()
	tr := transceiver.New(tf.target, tf.source, 0, tf.mode)
	deadline := time.Now().Add(klineReplyWindow)
	var sawFrame bool
	for time.Now().Before(deadline) {
		select {
		case f := <-s.klRx:
			sawFrame = true
			action := tr.Feed(f)
			if action.Kind == transceiver.ProtocolViolation {
				metrics.IncProtocolViolation()
				return mapTransceiverError(action.Reason)
			}
			if action.Kind == transceiver.Process {
				return pdu.Sent(ch.handle, uint16(sent))
			}
		case <-ctx.Done():
			return pdu.Sent(ch.handle, uint16(sent))
		case <-time.After(klineReplyPollEvery):
		}
	}
	if sawFrame {
		if action := tr.Finalize(); action.Kind == transceiver.ProtocolViolation {
			metrics.IncProtocolViolation()
			return mapTransceiverError(action.Reason)
		}
	}
	return pdu.Sent(ch.handle, uint16(sent))
}

func (s *Server) sendCAN(ch *Channel, data []byte) pdu.PDU {
	if !ch.hasArb {
		return pdu.ErrorInvalidChannel()
	}
	frames := ch.canFrames(data)
	var sent int
	for _, fr := range frames {
		if err := s.canBus.WriteFrame(fr); err != nil {
			metrics.IncError(metrics.ErrCANWrite)
			return pdu.ErrorHardware()
		}
		sent += int(fr.Len)
	}
	return pdu.Sent(ch.handle, uint16(sent))
}

func mapTransceiverError(err error) pdu.PDU {
	switch errorReplyFor(err) {
	case kindNoResponse:
		return pdu.ErrorNoResponse()
	case kindHardware:
		return pdu.ErrorHardware()
	default:
		return pdu.ErrorUnspecified()
	}
}

func (s *Server) handleSetArbitration(p pdu.PDU) pdu.PDU {
	h, err := p.Channel()
	if err != nil {
		return pdu.ErrorInvalidChannel()
	}
	arb, err := p.Arbitration()
	if err != nil {
		return pdu.ErrorHardware()
	}
	s.mu.Lock()
	ch, ok := s.channels[h]
	if ok {
		ch.arb = arb
		ch.hasArb = true
	}
	s.mu.Unlock()
	if !ok {
		return pdu.ErrorInvalidChannel()
	}
	return pdu.ArbitrationSet()
}

func (s *Server) handleStartPeriodicMessage(ctx context.Context, p pdu.PDU, logger *slog.Logger) pdu.PDU {
	interval, err := p.PeriodicInterval()
	if err != nil {
		return pdu.ErrorHardware()
	}
	arb, err := p.Arbitration()
	if err != nil {
		return pdu.ErrorHardware()
	}
	data, err := p.DataSlice()
	if err != nil {
		return pdu.ErrorHardware()
	}
	frame, err := buildSingleCANFrame(arb, data)
	if err != nil {
		return pdu.ErrorHardware()
	}
	if err := s.ensureCANBus(ctx); err != nil {
		logger.Error("can_bus_open_error", "error", err)
		return pdu.ErrorHardware()
	}

	s.mu.Lock()
	if len(s.periodics) >= s.cfg.MaxPeriodicMessages {
		s.mu.Unlock()
		return pdu.ErrorInvalidPeriod()
	}
	h, ok := s.pAlloc.Allocate()
	if !ok {
		s.mu.Unlock()
		return pdu.ErrorInvalidPeriod()
	}
	pm := s.startPeriodic(ctx, h, interval, frame)
	s.periodics[h] = pm
	n := len(s.periodics)
	s.mu.Unlock()

	metrics.SetPeriodicActive(n)
	return pdu.PeriodicMessageStarted(h)
}

func (s *Server) handleEndPeriodicMessage(p pdu.PDU) pdu.PDU {
	h, err := p.PeriodicMessage()
	if err != nil {
		return pdu.ErrorInvalidPeriod()
	}
	s.mu.Lock()
	pm, ok := s.periodics[h]
	if ok {
		delete(s.periodics, h)
		s.pAlloc.Release(h)
	}
	n := len(s.periodics)
	s.mu.Unlock()
	if !ok {
		return pdu.ErrorInvalidPeriod()
	}
	pm.stop()
	metrics.SetPeriodicActive(n)
	return pdu.PeriodicMessageEnded(h)
}

func (s *Server) handlePrepareForUpdate() pdu.PDU {
	if err := s.applier.Prepare(); err != nil {
		return pdu.ErrorHardware()
	}
	return pdu.UpdateStartedSendData()
}

func (s *Server) handleSendUpdateData(p pdu.PDU) pdu.PDU {
	data, err := p.DataSlice()
	if err != nil {
		return pdu.ErrorHardware()
	}
	if err := s.applier.SendChunk(data); err != nil {
		return pdu.ErrorHardware()
	}
	return pdu.UpdateDataReceived()
}

func (s *Server) handleCommitUpdate() pdu.PDU {
	if err := s.applier.Commit(); err != nil {
		return pdu.ErrorHardware()
	}
	return pdu.UpdateCompleted()
}

func (s *Server) handleReset() pdu.PDU {
	s.mu.Lock()
	for h := range s.channels {
		delete(s.channels, h)
		s.chAlloc.Release(h)
	}
	for h, pm := range s.periodics {
		pm.stop()
		delete(s.periodics, h)
		s.pAlloc.Release(h)
	}
	s.mu.Unlock()
	metrics.SetPeriodicActive(0)
	return pdu.Resetting()
}
