package tlv

import (
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTrip(t *testing.T) {
	in := []Field{
		U64Field(1, 0xDEADBEEF00112233),
		U32Field(2, 7),
		BoolField(3, true),
		BytesField(4, []byte{9, 8, 7}),
		{ID: 5, Type: TypeString, Value: []byte("owner-0")},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("field count mismatch: got %d want %d", len(out), len(in))
	}
	v, err := U64FromBytes(out[0].Value)
	if err != nil || v != 0xDEADBEEF00112233 {
		t.Fatalf("u64 mismatch: %x err=%v", v, err)
	}
	b, err := BoolFromBytes(out[2].Value)
	if err != nil || !b {
		t.Fatalf("bool mismatch: %v err=%v", b, err)
	}
}

func TestDecodeFieldsShortHeader(t *testing.T) {
	_, err := DecodeFields([]byte{0, 1, 2})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsShortValue(t *testing.T) {
	enc := EncodeField(BytesField(1, []byte{1, 2, 3, 4}))
	_, err := DecodeFields(enc[:len(enc)-2])
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestGetFieldAndMustType(t *testing.T) {
	fields := []Field{U32Field(10, 3)}
	f, ok := GetField(fields, 10)
	if !ok {
		t.Fatalf("field 10 not found")
	}
	if err := MustType(f, TypeU32); err != nil {
		t.Fatalf("must type: %v", err)
	}
	if err := MustType(f, TypeU64); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if _, ok := GetField(fields, 11); ok {
		t.Fatalf("found nonexistent field")
	}
}

func TestScalarAccessorLengthChecks(t *testing.T) {
	if _, err := U32FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected u32 length error")
	}
	if _, err := U64FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected u64 length error")
	}
	if _, err := BoolFromBytes([]byte{}); err == nil {
		t.Fatalf("expected bool length error")
	}
}
