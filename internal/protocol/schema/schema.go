// Package schema pins the required fields of every active-message kind.
// Unknown extra fields are ignored by design so nodes can interoperate
// across minor protocol revisions.
package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/weft/internal/protocol/tlv"
)

// Message kind IDs.
const (
	MsgBarrierArrival         uint32 = 1
	MsgBarrierNotify          uint32 = 2
	MsgBarrierResultSubscribe uint32 = 3
	MsgEventSubscribe         uint32 = 4
	MsgEventTrigger           uint32 = 5
	MsgRuntimeShutdown        uint32 = 6
	// MsgBarrierAlter extends the required set: alter_arrival_count issued
	// away from the owner is forwarded through it.
	MsgBarrierAlter uint32 = 7
)

// Field IDs.
const (
	FieldObjectID   uint16 = 1
	FieldGeneration uint16 = 2
	FieldCreatorGen uint16 = 3
	FieldCount      uint16 = 4
	FieldHasValue   uint16 = 5
	FieldValue      uint16 = 6
	FieldPoisoned   uint16 = 7
	FieldInitiator  uint16 = 8
	FieldDelta      uint16 = 9
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MsgKind uint32
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: msg_kind=%d: %s", e.MsgKind, e.Reason)
	}
	return fmt.Sprintf("schema: msg_kind=%d field=%d: %s", e.MsgKind, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgBarrierArrival: {
		{FieldObjectID, tlv.TypeU64},
		{FieldGeneration, tlv.TypeU32},
		{FieldCreatorGen, tlv.TypeU32},
		{FieldCount, tlv.TypeU64},
		{FieldHasValue, tlv.TypeBool},
		{FieldPoisoned, tlv.TypeBool},
	},
	MsgBarrierNotify: {
		{FieldObjectID, tlv.TypeU64},
		{FieldGeneration, tlv.TypeU32},
		{FieldPoisoned, tlv.TypeBool},
	},
	MsgBarrierResultSubscribe: {
		{FieldObjectID, tlv.TypeU64},
		{FieldGeneration, tlv.TypeU32},
	},
	MsgEventSubscribe: {
		{FieldObjectID, tlv.TypeU64},
		{FieldGeneration, tlv.TypeU32},
	},
	MsgEventTrigger: {
		{FieldObjectID, tlv.TypeU64},
		{FieldGeneration, tlv.TypeU32},
		{FieldPoisoned, tlv.TypeBool},
	},
	MsgRuntimeShutdown: {
		{FieldInitiator, tlv.TypeU32},
	},
	MsgBarrierAlter: {
		{FieldObjectID, tlv.TypeU64},
		{FieldGeneration, tlv.TypeU32},
		{FieldCreatorGen, tlv.TypeU32},
		{FieldDelta, tlv.TypeU64},
	},
}

// Validate enforces required fields and their types for a message kind.
func Validate(msgKind uint32, fields []tlv.Field) error {
	reqs, ok := requirements[msgKind]
	if !ok {
		log.Debug().Uint32("msg_kind", msgKind).Msg("schema: unknown message kind")
		return ValidationError{MsgKind: msgKind, Reason: "unknown message kind"}
	}
	for _, req := range reqs {
		f, ok := tlv.GetField(fields, req.ID)
		if !ok {
			return ValidationError{MsgKind: msgKind, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{
				MsgKind: msgKind,
				FieldID: req.ID,
				Reason:  fmt.Sprintf("field type %d, want %d", f.Type, req.Type),
			}
		}
	}
	return nil
}

// Known reports whether the kind is part of the wire contract.
func Known(msgKind uint32) bool {
	_, ok := requirements[msgKind]
	return ok
}
