package weft

import (
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/observability"
	"github.com/danmuck/weft/internal/protocol"
	"github.com/danmuck/weft/internal/protocol/schema"
)

// The runtime is the Notifier/Sender for every slot on this node: slots
// hand it a typed message shape and it does the encode, the send, and the
// metrics.

func (rt *Runtime) sendMsg(target ids.NodeID, kind uint32, payload []byte) {
	if err := rt.tr.Send(target, kind, payload); err != nil {
		rt.logger.Error().
			Err(err).
			Uint32("target", uint32(target)).
			Uint32("kind", kind).
			Msg("active message send failed")
		return
	}
	observability.RecordMessageSent(uint32(rt.self), kind, uint32(target))
}

func (rt *Runtime) SendEventSubscribe(owner ids.NodeID, e ids.Event) {
	payload, err := (protocol.EventSubscribe{Event: e.ID, Gen: e.Gen}).Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("event subscribe encode failed")
		return
	}
	rt.sendMsg(owner, schema.MsgEventSubscribe, payload)
}

func (rt *Runtime) SendEventTrigger(target ids.NodeID, e ids.Event, poisoned bool) {
	payload, err := (protocol.EventTrigger{Event: e.ID, Gen: e.Gen, Poisoned: poisoned}).Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("event trigger encode failed")
		return
	}
	rt.sendMsg(target, schema.MsgEventTrigger, payload)
}

func (rt *Runtime) SendBarrierArrival(owner ids.NodeID, b ids.Barrier, count uint64, hasValue bool, value []byte, poisoned bool) {
	payload, err := (protocol.BarrierArrival{
		Barrier:    b.ID,
		Gen:        b.Gen,
		CreatorGen: b.CreatorGen,
		Count:      count,
		Poisoned:   poisoned,
		HasValue:   hasValue,
		Value:      value,
	}).Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier arrival encode failed")
		return
	}
	rt.sendMsg(owner, schema.MsgBarrierArrival, payload)
}

func (rt *Runtime) SendBarrierNotify(target ids.NodeID, b ids.Barrier, value []byte, poisoned bool) {
	payload, err := (protocol.BarrierNotify{
		Barrier:  b.ID,
		Gen:      b.Gen,
		Poisoned: poisoned,
		Value:    value,
	}).Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier notify encode failed")
		return
	}
	rt.sendMsg(target, schema.MsgBarrierNotify, payload)
}

func (rt *Runtime) SendBarrierResultSubscribe(owner ids.NodeID, b ids.Barrier) {
	payload, err := (protocol.BarrierResultSubscribe{Barrier: b.ID, Gen: b.Gen}).Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier subscribe encode failed")
		return
	}
	rt.sendMsg(owner, schema.MsgBarrierResultSubscribe, payload)
}

func (rt *Runtime) SendBarrierAlter(owner ids.NodeID, b ids.Barrier, delta int64) {
	payload, err := (protocol.BarrierAlter{
		Barrier:    b.ID,
		Gen:        b.Gen,
		CreatorGen: b.CreatorGen,
		Delta:      delta,
	}).Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("barrier alter encode failed")
		return
	}
	rt.sendMsg(owner, schema.MsgBarrierAlter, payload)
}

func (rt *Runtime) encodeShutdown() ([]byte, error) {
	return (protocol.RuntimeShutdown{Initiator: rt.self}).Encode()
}
