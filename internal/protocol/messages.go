// Package protocol defines the typed active-message shapes and their TLV
// payload codecs. Framing (sender, sequence, kind) is the frame package's
// job; this package only encodes and decodes payloads.
package protocol

import (
	"fmt"

	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/protocol/schema"
	"github.com/danmuck/weft/internal/protocol/tlv"
)

// BarrierArrival carries count arrivals for one barrier generation to the
// owner, optionally with the serialized reduction value of that one
// arrival.
type BarrierArrival struct {
	Barrier    ids.ID
	Gen        uint32
	CreatorGen uint32
	Count      uint64
	Poisoned   bool
	HasValue   bool
	Value      []byte
}

func (m BarrierArrival) Kind() uint32 { return schema.MsgBarrierArrival }

func (m BarrierArrival) Encode() ([]byte, error) {
	fields := []tlv.Field{
		tlv.U64Field(schema.FieldObjectID, uint64(m.Barrier)),
		tlv.U32Field(schema.FieldGeneration, m.Gen),
		tlv.U32Field(schema.FieldCreatorGen, m.CreatorGen),
		tlv.U64Field(schema.FieldCount, m.Count),
		tlv.BoolField(schema.FieldHasValue, m.HasValue),
		tlv.BoolField(schema.FieldPoisoned, m.Poisoned),
	}
	if m.HasValue {
		fields = append(fields, tlv.BytesField(schema.FieldValue, m.Value))
	}
	return encodePayload(m.Kind(), fields)
}

func DecodeBarrierArrival(payload []byte) (BarrierArrival, error) {
	fields, err := decodePayload(schema.MsgBarrierArrival, payload)
	if err != nil {
		return BarrierArrival{}, err
	}
	var m BarrierArrival
	objID, err := u64At(fields, schema.FieldObjectID)
	if err != nil {
		return BarrierArrival{}, err
	}
	m.Barrier = ids.ID(objID)
	if m.Gen, err = u32At(fields, schema.FieldGeneration); err != nil {
		return BarrierArrival{}, err
	}
	if m.CreatorGen, err = u32At(fields, schema.FieldCreatorGen); err != nil {
		return BarrierArrival{}, err
	}
	if m.Count, err = u64At(fields, schema.FieldCount); err != nil {
		return BarrierArrival{}, err
	}
	if m.HasValue, err = boolAt(fields, schema.FieldHasValue); err != nil {
		return BarrierArrival{}, err
	}
	if m.Poisoned, err = boolAt(fields, schema.FieldPoisoned); err != nil {
		return BarrierArrival{}, err
	}
	if m.HasValue {
		f, ok := tlv.GetField(fields, schema.FieldValue)
		if !ok {
			return BarrierArrival{}, fmt.Errorf("%w: value bytes", ErrMissingField)
		}
		m.Value = f.Value
	}
	return m, nil
}

// BarrierNotify is the owner's publication broadcast to result subscribers.
type BarrierNotify struct {
	Barrier  ids.ID
	Gen      uint32
	Poisoned bool
	Value    []byte
}

func (m BarrierNotify) Kind() uint32 { return schema.MsgBarrierNotify }

func (m BarrierNotify) Encode() ([]byte, error) {
	fields := []tlv.Field{
		tlv.U64Field(schema.FieldObjectID, uint64(m.Barrier)),
		tlv.U32Field(schema.FieldGeneration, m.Gen),
		tlv.BoolField(schema.FieldPoisoned, m.Poisoned),
		tlv.BytesField(schema.FieldValue, m.Value),
	}
	return encodePayload(m.Kind(), fields)
}

func DecodeBarrierNotify(payload []byte) (BarrierNotify, error) {
	fields, err := decodePayload(schema.MsgBarrierNotify, payload)
	if err != nil {
		return BarrierNotify{}, err
	}
	var m BarrierNotify
	objID, err := u64At(fields, schema.FieldObjectID)
	if err != nil {
		return BarrierNotify{}, err
	}
	m.Barrier = ids.ID(objID)
	if m.Gen, err = u32At(fields, schema.FieldGeneration); err != nil {
		return BarrierNotify{}, err
	}
	if m.Poisoned, err = boolAt(fields, schema.FieldPoisoned); err != nil {
		return BarrierNotify{}, err
	}
	if f, ok := tlv.GetField(fields, schema.FieldValue); ok {
		m.Value = f.Value
	}
	return m, nil
}

// BarrierResultSubscribe asks the owner to send BarrierNotify for a
// generation once (or as soon as) it publishes.
type BarrierResultSubscribe struct {
	Barrier ids.ID
	Gen     uint32
}

func (m BarrierResultSubscribe) Kind() uint32 { return schema.MsgBarrierResultSubscribe }

func (m BarrierResultSubscribe) Encode() ([]byte, error) {
	return encodePayload(m.Kind(), []tlv.Field{
		tlv.U64Field(schema.FieldObjectID, uint64(m.Barrier)),
		tlv.U32Field(schema.FieldGeneration, m.Gen),
	})
}

func DecodeBarrierResultSubscribe(payload []byte) (BarrierResultSubscribe, error) {
	fields, err := decodePayload(schema.MsgBarrierResultSubscribe, payload)
	if err != nil {
		return BarrierResultSubscribe{}, err
	}
	var m BarrierResultSubscribe
	objID, err := u64At(fields, schema.FieldObjectID)
	if err != nil {
		return BarrierResultSubscribe{}, err
	}
	m.Barrier = ids.ID(objID)
	if m.Gen, err = u32At(fields, schema.FieldGeneration); err != nil {
		return BarrierResultSubscribe{}, err
	}
	return m, nil
}

// EventSubscribe asks an event's owner for a trigger notification.
type EventSubscribe struct {
	Event ids.ID
	Gen   uint32
}

func (m EventSubscribe) Kind() uint32 { return schema.MsgEventSubscribe }

func (m EventSubscribe) Encode() ([]byte, error) {
	return encodePayload(m.Kind(), []tlv.Field{
		tlv.U64Field(schema.FieldObjectID, uint64(m.Event)),
		tlv.U32Field(schema.FieldGeneration, m.Gen),
	})
}

func DecodeEventSubscribe(payload []byte) (EventSubscribe, error) {
	fields, err := decodePayload(schema.MsgEventSubscribe, payload)
	if err != nil {
		return EventSubscribe{}, err
	}
	var m EventSubscribe
	objID, err := u64At(fields, schema.FieldObjectID)
	if err != nil {
		return EventSubscribe{}, err
	}
	m.Event = ids.ID(objID)
	if m.Gen, err = u32At(fields, schema.FieldGeneration); err != nil {
		return EventSubscribe{}, err
	}
	return m, nil
}

// EventTrigger is the owner's trigger notification to subscribers.
type EventTrigger struct {
	Event    ids.ID
	Gen      uint32
	Poisoned bool
}

func (m EventTrigger) Kind() uint32 { return schema.MsgEventTrigger }

func (m EventTrigger) Encode() ([]byte, error) {
	return encodePayload(m.Kind(), []tlv.Field{
		tlv.U64Field(schema.FieldObjectID, uint64(m.Event)),
		tlv.U32Field(schema.FieldGeneration, m.Gen),
		tlv.BoolField(schema.FieldPoisoned, m.Poisoned),
	})
}

func DecodeEventTrigger(payload []byte) (EventTrigger, error) {
	fields, err := decodePayload(schema.MsgEventTrigger, payload)
	if err != nil {
		return EventTrigger{}, err
	}
	var m EventTrigger
	objID, err := u64At(fields, schema.FieldObjectID)
	if err != nil {
		return EventTrigger{}, err
	}
	m.Event = ids.ID(objID)
	if m.Gen, err = u32At(fields, schema.FieldGeneration); err != nil {
		return EventTrigger{}, err
	}
	if m.Poisoned, err = boolAt(fields, schema.FieldPoisoned); err != nil {
		return EventTrigger{}, err
	}
	return m, nil
}

// BarrierAlter forwards an alter_arrival_count to the owner. Delta rides
// as two's-complement in a u64 field.
type BarrierAlter struct {
	Barrier    ids.ID
	Gen        uint32
	CreatorGen uint32
	Delta      int64
}

func (m BarrierAlter) Kind() uint32 { return schema.MsgBarrierAlter }

func (m BarrierAlter) Encode() ([]byte, error) {
	return encodePayload(m.Kind(), []tlv.Field{
		tlv.U64Field(schema.FieldObjectID, uint64(m.Barrier)),
		tlv.U32Field(schema.FieldGeneration, m.Gen),
		tlv.U32Field(schema.FieldCreatorGen, m.CreatorGen),
		tlv.U64Field(schema.FieldDelta, uint64(m.Delta)),
	})
}

func DecodeBarrierAlter(payload []byte) (BarrierAlter, error) {
	fields, err := decodePayload(schema.MsgBarrierAlter, payload)
	if err != nil {
		return BarrierAlter{}, err
	}
	var m BarrierAlter
	objID, err := u64At(fields, schema.FieldObjectID)
	if err != nil {
		return BarrierAlter{}, err
	}
	m.Barrier = ids.ID(objID)
	if m.Gen, err = u32At(fields, schema.FieldGeneration); err != nil {
		return BarrierAlter{}, err
	}
	if m.CreatorGen, err = u32At(fields, schema.FieldCreatorGen); err != nil {
		return BarrierAlter{}, err
	}
	delta, err := u64At(fields, schema.FieldDelta)
	if err != nil {
		return BarrierAlter{}, err
	}
	m.Delta = int64(delta)
	return m, nil
}

// RuntimeShutdown is the two-phase shutdown broadcast.
type RuntimeShutdown struct {
	Initiator ids.NodeID
}

func (m RuntimeShutdown) Kind() uint32 { return schema.MsgRuntimeShutdown }

func (m RuntimeShutdown) Encode() ([]byte, error) {
	return encodePayload(m.Kind(), []tlv.Field{
		tlv.U32Field(schema.FieldInitiator, uint32(m.Initiator)),
	})
}

func DecodeRuntimeShutdown(payload []byte) (RuntimeShutdown, error) {
	fields, err := decodePayload(schema.MsgRuntimeShutdown, payload)
	if err != nil {
		return RuntimeShutdown{}, err
	}
	init, err := u32At(fields, schema.FieldInitiator)
	if err != nil {
		return RuntimeShutdown{}, err
	}
	return RuntimeShutdown{Initiator: ids.NodeID(init)}, nil
}

func encodePayload(kind uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(kind, fields); err != nil {
		return nil, err
	}
	return tlv.EncodeFields(fields), nil
}

func decodePayload(kind uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(kind, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func u32At(fields []tlv.Field, id uint16) (uint32, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return 0, fmt.Errorf("%w: field %d", ErrMissingField, id)
	}
	if err := tlv.MustType(f, tlv.TypeU32); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
	}
	return tlv.U32FromBytes(f.Value)
}

func u64At(fields []tlv.Field, id uint16) (uint64, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return 0, fmt.Errorf("%w: field %d", ErrMissingField, id)
	}
	if err := tlv.MustType(f, tlv.TypeU64); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
	}
	return tlv.U64FromBytes(f.Value)
}

func boolAt(fields []tlv.Field, id uint16) (bool, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return false, fmt.Errorf("%w: field %d", ErrMissingField, id)
	}
	if err := tlv.MustType(f, tlv.TypeBool); err != nil {
		return false, fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
	}
	return tlv.BoolFromBytes(f.Value)
}
