package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/protocol/schema"
)

func TestBarrierArrivalRoundTrip(t *testing.T) {
	in := BarrierArrival{
		Barrier:    ids.Make(ids.KindBarrier, 0, 5),
		Gen:        3,
		CreatorGen: 1,
		Count:      2,
		HasValue:   true,
		Value:      []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeBarrierArrival(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Barrier != in.Barrier || out.Gen != in.Gen || out.CreatorGen != in.CreatorGen || out.Count != in.Count {
		t.Fatalf("mismatch: got %+v want %+v", out, in)
	}
	if !out.HasValue || !bytes.Equal(out.Value, in.Value) {
		t.Fatalf("value mismatch: %+v", out)
	}
}

func TestBarrierArrivalWithoutValue(t *testing.T) {
	in := BarrierArrival{Barrier: ids.Make(ids.KindBarrier, 1, 9), Gen: 1, Count: 1}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeBarrierArrival(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.HasValue || out.Value != nil {
		t.Fatalf("unexpected value: %+v", out)
	}
}

func TestBarrierNotifyRoundTrip(t *testing.T) {
	in := BarrierNotify{
		Barrier: ids.Make(ids.KindBarrier, 0, 2),
		Gen:     7,
		Value:   []byte{42, 0, 0, 0, 0, 0, 0, 0},
	}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeBarrierNotify(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Barrier != in.Barrier || out.Gen != in.Gen || !bytes.Equal(out.Value, in.Value) {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestSubscribeShapesRoundTrip(t *testing.T) {
	bsub := BarrierResultSubscribe{Barrier: ids.Make(ids.KindBarrier, 2, 4), Gen: 2}
	payload, err := bsub.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out, err := DecodeBarrierResultSubscribe(payload); err != nil || out != bsub {
		t.Fatalf("barrier subscribe mismatch: %+v err=%v", out, err)
	}

	esub := EventSubscribe{Event: ids.Make(ids.KindEvent, 1, 11), Gen: 6}
	payload, err = esub.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out, err := DecodeEventSubscribe(payload); err != nil || out != esub {
		t.Fatalf("event subscribe mismatch: %+v err=%v", out, err)
	}
}

func TestEventTriggerRoundTrip(t *testing.T) {
	in := EventTrigger{Event: ids.Make(ids.KindEvent, 0, 3), Gen: 4, Poisoned: true}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeEventTrigger(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("mismatch: got %+v want %+v", out, in)
	}
}

func TestRuntimeShutdownRoundTrip(t *testing.T) {
	in := RuntimeShutdown{Initiator: 2}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeRuntimeShutdown(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeRejectsWrongKindPayload(t *testing.T) {
	payload, err := RuntimeShutdown{Initiator: 0}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var vErr schema.ValidationError
	if _, err := DecodeBarrierArrival(payload); !errors.As(err, &vErr) {
		t.Fatalf("expected schema validation error, got %v", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	payload, err := EventTrigger{Event: ids.Make(ids.KindEvent, 0, 1), Gen: 1}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeEventTrigger(payload[:len(payload)-3]); err == nil {
		t.Fatalf("expected decode error on truncated payload")
	}
}
