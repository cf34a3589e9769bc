// Package xcrypto provides the crypto primitives spec.md §4.1 requires:
// Ed25519 sign/verify over a 32-byte digest, SHA-256 digests, fixed-length
// nonces, and the deterministic shared-coin tape of §6.
//
// The interface shape (a narrow provider consumed by the rest of the core)
// follows the teacher's crypto.CryptoProvider (_examples' node crypto
// package); the concrete primitives are what spec.md names (Ed25519,
// SHA-256) rather than the teacher's post-quantum placeholders, since the
// teacher's own ML-DSA-87/SLH-DSA verifiers are stubs in its dev provider.
package xcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	DigestSize = 32
	NonceSize  = 32
)

type Digest [DigestSize]byte

func (d Digest) Bytes() []byte { return d[:] }

func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// SHA256 computes the canonical digest used for all hash pointers and
// signed values in the core.
func SHA256(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// VK / SK are Ed25519 key types, kept distinct from the stdlib's raw byte
// slices so callers can't accidentally swap a signature in for a key.
type VK [ed25519.PublicKeySize]byte
type SK [ed25519.PrivateKeySize]byte

func (vk VK) Bytes() []byte { return vk[:] }

func (vk VK) String() string { return fmt.Sprintf("%x", vk[:8]) }

// GenerateKeypair produces a fresh Ed25519 keypair, the keystore primitive
// spec.md §1 assumes is available to every node.
func GenerateKeypair() (VK, SK, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return VK{}, SK{}, fmt.Errorf("xcrypto: generate keypair: %w", err)
	}
	var vk VK
	var sk SK
	copy(vk[:], pub)
	copy(sk[:], priv)
	return vk, sk, nil
}

// Sign signs a 32-byte digest, the only message shape spec.md §3 allows.
func Sign(sk SK, digest Digest) []byte {
	return ed25519.Sign(ed25519.PrivateKey(sk[:]), digest[:])
}

// Verify checks a signature over a 32-byte digest. Returns BadSignature
// semantics are the caller's responsibility (see core/chain.Signature.Verify).
func Verify(vk VK, digest Digest, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(vk[:]), digest[:], sig)
}

// RandomNonce produces the fixed-length nonce required by TxBlockInner.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("xcrypto: random nonce: %w", err)
	}
	return n, nil
}

// CoinTape is the deterministic external oracle of spec.md §6: a fixed
// bitstring indexed by MMR round number, known to every node before the
// run. Rather than shipping a literal slice in source (which would be
// indistinguishable from a hardcoded test fixture), it is derived from a
// keyed blake2b stream over the run's shared seed — every node computes
// the identical tape from the same seed, and the seam for a future
// threshold-signature coin (SPEC_FULL.md DOMAIN STACK) stays a pure
// function of (seed, round) rather than a mutable table.
type CoinTape struct {
	seed []byte
}

func NewCoinTape(seed []byte) *CoinTape {
	cp := make([]byte, len(seed))
	copy(cp, seed)
	return &CoinTape{seed: cp}
}

// Coin returns coin(r) in {0, 1}, stable for the lifetime of the tape.
func (c *CoinTape) Coin(round uint64) int {
	h, err := blake2b.New256(c.seed)
	if err != nil {
		// blake2b.New256 only errors on an over-long key; c.seed is never
		// attacker-controlled key material here, so this would indicate a
		// programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("xcrypto: coin tape: %v", err))
	}
	var rb [8]byte
	for i := 0; i < 8; i++ {
		rb[i] = byte(round >> (8 * i))
	}
	h.Write(rb[:])
	sum := h.Sum(nil)
	return int(sum[0] & 1)
}
