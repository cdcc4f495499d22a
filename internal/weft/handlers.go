package weft

import (
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/observability"
	"github.com/danmuck/weft/internal/protocol"
	"github.com/danmuck/weft/internal/protocol/schema"
	"github.com/danmuck/weft/internal/transport"
)

// registerHandlers wires the message kinds into the transport. Handlers
// are pure state mutators plus further sends; anything that could block a
// user event goes through a continuation on a worker instead.
func (rt *Runtime) registerHandlers() {
	rt.tr.RegisterHandler(schema.MsgBarrierArrival, rt.handleBarrierArrival)
	rt.tr.RegisterHandler(schema.MsgBarrierNotify, rt.handleBarrierNotify)
	rt.tr.RegisterHandler(schema.MsgBarrierResultSubscribe, rt.handleBarrierResultSubscribe)
	rt.tr.RegisterHandler(schema.MsgEventSubscribe, rt.handleEventSubscribe)
	rt.tr.RegisterHandler(schema.MsgEventTrigger, rt.handleEventTrigger)
	rt.tr.RegisterHandler(schema.MsgRuntimeShutdown, rt.handleRuntimeShutdown)
	rt.tr.RegisterHandler(schema.MsgBarrierAlter, rt.handleBarrierAlter)
}

func (rt *Runtime) handleBarrierArrival(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeBarrierArrival(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier arrival decode failed")
		return
	}
	impl, err := rt.barrierImpl(m.Barrier)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier arrival resolve failed")
		return
	}
	h := ids.Barrier{ID: m.Barrier, Gen: m.Gen, CreatorGen: m.CreatorGen}
	if err := impl.Arrive(h, int64(m.Count), m.HasValue, m.Value, m.Poisoned); err != nil {
		rt.logger.Error().
			Err(err).
			Str("barrier", m.Barrier.String()).
			Uint32("sender", uint32(p.Sender)).
			Msg("remote arrival rejected")
		return
	}
	observability.RecordBarrierArrival(uint32(rt.self))
}

func (rt *Runtime) handleBarrierNotify(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeBarrierNotify(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier notify decode failed")
		return
	}
	impl, err := rt.barrierImpl(m.Barrier)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier notify resolve failed")
		return
	}
	impl.ApplyRemoteNotify(m.Gen, m.Value, m.Poisoned)
}

func (rt *Runtime) handleBarrierResultSubscribe(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeBarrierResultSubscribe(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier subscribe decode failed")
		return
	}
	impl, err := rt.barrierImpl(m.Barrier)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier subscribe resolve failed")
		return
	}
	impl.AddResultSubscriber(m.Gen, p.Sender)
}

func (rt *Runtime) handleEventSubscribe(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeEventSubscribe(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("event subscribe decode failed")
		return
	}
	impl, err := rt.genEventImpl(m.Event)
	if err != nil {
		rt.logger.Error().Err(err).Msg("event subscribe resolve failed")
		return
	}
	impl.AddRemoteSubscriber(p.Sender, m.Gen)
}

func (rt *Runtime) handleEventTrigger(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeEventTrigger(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("event trigger decode failed")
		return
	}
	impl, err := rt.genEventImpl(m.Event)
	if err != nil {
		rt.logger.Error().Err(err).Msg("event trigger resolve failed")
		return
	}
	impl.ApplyRemoteTrigger(m.Gen, m.Poisoned)
}

func (rt *Runtime) handleBarrierAlter(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeBarrierAlter(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier alter decode failed")
		return
	}
	impl, err := rt.barrierImpl(m.Barrier)
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier alter resolve failed")
		return
	}
	h := ids.Barrier{ID: m.Barrier, Gen: m.Gen, CreatorGen: m.CreatorGen}
	if err := impl.AlterArrivalCount(h, m.Delta); err != nil {
		rt.logger.Error().Err(err).Str("barrier", m.Barrier.String()).Msg("remote alter rejected")
	}
}

func (rt *Runtime) handleRuntimeShutdown(p transport.Packet) {
	observability.RecordMessageReceived(uint32(rt.self), p.Kind, uint32(p.Sender))
	m, err := protocol.DecodeRuntimeShutdown(p.Payload)
	if err != nil {
		rt.logger.Error().Err(err).Msg("shutdown decode failed")
		return
	}
	rt.logger.Info().Uint32("initiator", uint32(m.Initiator)).Msg("shutdown requested by peer")
	rt.beginShutdown(false)
}
