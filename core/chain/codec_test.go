package chain

import (
	"testing"

	"trustchain.dev/trustchain/internal/xcrypto"
)

func TestCpBlockEncodeDecodeRoundTrip(t *testing.T) {
	vk, sk := mustKeypair(t)
	sigVK, sigSK := mustKeypair(t)

	inner := CpBlockInner{
		Prev:     GenesisPrev(),
		Seq:      3,
		Round:    2,
		ConsHash: xcrypto.SHA256([]byte("cons")),
		P:        1,
		SS: []Signature{
			SignDigest(sigSK, sigVK, xcrypto.SHA256([]byte("whatever"))),
		},
	}
	cp := &CpBlock{Inner: inner, S: SignDigest(sk, vk, inner.Hash())}

	encoded := cp.Encode()
	decoded, err := DecodeCpBlock(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Inner.Hash() != cp.Inner.Hash() {
		t.Fatalf("round-tripped hash differs (P10): got %x want %x", decoded.Inner.Hash(), cp.Inner.Hash())
	}
	if decoded.CompactHash() != cp.CompactHash() {
		t.Fatalf("round-tripped compact hash differs")
	}
	if !decoded.S.Verify(decoded.Inner.Hash()) {
		t.Fatalf("round-tripped owner signature does not verify")
	}
}

func TestCpBlockDecodeRejectsTruncatedInput(t *testing.T) {
	if _, err := DecodeCpBlock([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding truncated input")
	}
}
