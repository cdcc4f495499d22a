package redop

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(IntAdd()); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, err := r.Get(IntAddID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.LHSSize != 8 || d.RHSSize != 8 {
		t.Fatalf("unexpected operand sizes: %d/%d", d.LHSSize, d.RHSSize)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(IntAdd()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(IntAdd()); !errors.Is(err, ErrDuplicateOp) {
		t.Fatalf("expected ErrDuplicateOp, got %v", err)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(99); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}
}

func TestIntAddFoldApply(t *testing.T) {
	d := IntAdd()
	acc := append([]byte(nil), d.Identity...)
	for _, v := range []int64{3, -1, 40} {
		d.Fold(acc, EncodeInt64(v))
	}
	got, err := DecodeInt64(acc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 42 {
		t.Fatalf("fold sum = %d, want 42", got)
	}

	lhs := EncodeInt64(100)
	d.Apply(lhs, acc)
	applied, _ := DecodeInt64(lhs)
	if applied != 142 {
		t.Fatalf("apply = %d, want 142", applied)
	}
}

func TestDescriptorValidate(t *testing.T) {
	bad := IntAdd()
	bad.Identity = []byte{1}
	if err := bad.Validate(); !errors.Is(err, ErrBadOperand) {
		t.Fatalf("expected ErrBadOperand, got %v", err)
	}
	bad = IntAdd()
	bad.Fold = nil
	if err := bad.Validate(); !errors.Is(err, ErrBadOperand) {
		t.Fatalf("expected ErrBadOperand, got %v", err)
	}
}
