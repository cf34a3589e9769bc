package rs

import (
	"bytes"
	"testing"
)

func TestNewParamsMatchesSpecFormula(t *testing.T) {
	p, err := NewParams(4, 1)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	if p.K != 2 || p.M != 2 || p.N() != 4 {
		t.Fatalf("got k=%d m=%d n=%d, want k=2 m=2 n=4", p.K, p.M, p.N())
	}
}

func TestNewParamsRejectsDegenerateT(t *testing.T) {
	if _, err := NewParams(2, 1); err == nil {
		t.Fatalf("expected error when n - 2t <= 0")
	}
}

func TestEncodeReconstructRoundTripFullFragments(t *testing.T) {
	p, _ := NewParams(4, 1)
	payload := []byte("the quick brown fox jumps over the lazy dog, twice over for padding")

	shards, err := Encode(p, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(shards) != p.N() {
		t.Fatalf("got %d shards, want %d", len(shards), p.N())
	}

	got, err := Reconstruct(p, shards, len(payload))
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reconstructed payload mismatch")
	}
}

func TestReconstructFromAnyKFragments(t *testing.T) {
	p, _ := NewParams(4, 1)
	payload := []byte("any k of n fragments must suffice per spec section 4.1")
	shards, err := Encode(p, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	partial := make([][]byte, len(shards))
	// Keep only K=p.K fragments, drop the rest (simulate an erasure).
	kept := 0
	for i := range shards {
		if kept < p.K {
			partial[i] = shards[i]
			kept++
		}
	}

	got, err := Reconstruct(p, partial, len(payload))
	if err != nil {
		t.Fatalf("reconstruct from partial set: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reconstructed payload mismatch from partial fragments")
	}
}

func TestCountAvailable(t *testing.T) {
	frags := [][]byte{{1}, nil, {2}, nil}
	if got := CountAvailable(frags); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}
