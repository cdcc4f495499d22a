package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/weft/internal/protocol/tlv"
)

func arrivalFields() []tlv.Field {
	return []tlv.Field{
		tlv.U64Field(FieldObjectID, 77),
		tlv.U32Field(FieldGeneration, 1),
		tlv.U32Field(FieldCreatorGen, 1),
		tlv.U64Field(FieldCount, 1),
		tlv.BoolField(FieldHasValue, false),
		tlv.BoolField(FieldPoisoned, false),
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(MsgBarrierArrival, arrivalFields()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateIgnoresUnknownFields(t *testing.T) {
	fields := append(arrivalFields(), tlv.U32Field(999, 5))
	if err := Validate(MsgBarrierArrival, fields); err != nil {
		t.Fatalf("unknown extra field must be ignored: %v", err)
	}
}

func TestValidateMissingField(t *testing.T) {
	fields := arrivalFields()[1:]
	err := Validate(MsgBarrierArrival, fields)
	var vErr ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.FieldID != FieldObjectID {
		t.Fatalf("wrong field reported: %d", vErr.FieldID)
	}
}

func TestValidateWrongType(t *testing.T) {
	fields := arrivalFields()
	fields[1] = tlv.U64Field(FieldGeneration, 1)
	var vErr ValidationError
	if err := Validate(MsgBarrierArrival, fields); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	var vErr ValidationError
	if err := Validate(999, nil); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if Known(999) {
		t.Fatalf("kind 999 must not be known")
	}
	if !Known(MsgRuntimeShutdown) {
		t.Fatalf("shutdown kind must be known")
	}
}
