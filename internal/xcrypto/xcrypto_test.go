package xcrypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	vk, sk, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	digest := SHA256([]byte("hello"))
	sig := Sign(sk, digest)
	if !Verify(vk, digest, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyFailsOnWrongDigest(t *testing.T) {
	vk, sk, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sig := Sign(sk, SHA256([]byte("a")))
	if Verify(vk, SHA256([]byte("b")), sig) {
		t.Fatalf("expected verification to fail for mismatched digest")
	}
}

func TestVerifyFailsOnWrongKey(t *testing.T) {
	_, sk, _ := GenerateKeypair()
	otherVK, _, _ := GenerateKeypair()
	digest := SHA256([]byte("hello"))
	sig := Sign(sk, digest)
	if Verify(otherVK, digest, sig) {
		t.Fatalf("expected verification to fail for mismatched key")
	}
}

func TestSHA256IsDeterministic(t *testing.T) {
	a := SHA256([]byte("x"), []byte("y"))
	b := SHA256([]byte("x"), []byte("y"))
	if a != b {
		t.Fatalf("expected identical digests for identical input")
	}
	c := SHA256([]byte("xy"))
	if a != c {
		t.Fatalf("expected SHA256 of concatenated parts to equal SHA256 of joined bytes")
	}
}

func TestRandomNonceIsFullLength(t *testing.T) {
	n, err := RandomNonce()
	if err != nil {
		t.Fatalf("random nonce: %v", err)
	}
	allZero := true
	for _, b := range n {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatalf("nonce was all-zero, statistically impossible for a correct RNG")
	}
}

func TestCoinTapeDeterministicAndBinary(t *testing.T) {
	tape := NewCoinTape([]byte("run-seed"))
	other := NewCoinTape([]byte("run-seed"))
	for r := uint64(0); r < 20; r++ {
		a := tape.Coin(r)
		b := other.Coin(r)
		if a != b {
			t.Fatalf("round %d: coin tapes with identical seed diverged: %d != %d", r, a, b)
		}
		if a != 0 && a != 1 {
			t.Fatalf("round %d: coin value %d not in {0,1}", r, a)
		}
	}
}

func TestCoinTapeDiffersBySeed(t *testing.T) {
	a := NewCoinTape([]byte("seed-a"))
	b := NewCoinTape([]byte("seed-b"))
	diff := false
	for r := uint64(0); r < 64; r++ {
		if a.Coin(r) != b.Coin(r) {
			diff = true
			break
		}
	}
	if !diff {
		t.Fatalf("expected distinct seeds to produce distinct tapes over 64 rounds")
	}
}
