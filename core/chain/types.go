// Package chain implements the per-node hash-chain data model of spec.md
// §3-§4.2: TxBlock, CpBlock, CompactBlock, Cons, Chain and the TrustChain
// aggregate, together with the invariants I1-I6 and the chain operations
// of §4.2.
//
// The block/chain shape generalises the teacher's header+index model
// (_examples' node/store: BlockIndexEntry{Height, PrevHash, ...} chained by
// hash, genesis-seeded) from a UTXO PoW chain to a signed, dual-block
// (TX/CP) append-only chain; the append-then-validate-linkage idiom is the
// same.
package chain

import (
	"sort"

	"trustchain.dev/trustchain/internal/xcrypto"
)

type Digest = xcrypto.Digest
type VK = xcrypto.VK
type SK = xcrypto.SK

// GenesisPrev is the distinguished prev pointer of chain[0] (I3):
// sha256("0").
func GenesisPrev() Digest {
	return xcrypto.SHA256([]byte("0"))
}

// Signature is a (vk, raw signature) pair verifying a single 32-byte
// digest (spec.md §3).
type Signature struct {
	VK  VK
	Sig []byte
}

func (s Signature) Verify(digest Digest) bool {
	if len(s.Sig) == 0 {
		return false
	}
	return xcrypto.Verify(s.VK, digest, s.Sig)
}

func SignDigest(sk SK, vk VK, digest Digest) Signature {
	return Signature{VK: vk, Sig: xcrypto.Sign(sk, digest)}
}

// sortedSignatures returns a copy of sigs sorted by signer VK, the
// canonical ordering spec.md §3 requires for hashing signature lists.
func sortedSignatures(sigs []Signature) []Signature {
	out := make([]Signature, len(sigs))
	copy(out, sigs)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].VK[:]) < string(out[j].VK[:])
	})
	return out
}

// Validity is the monotone TxBlock validity state of spec.md §4.2's
// set_validity: Unknown -> {Valid, Invalid}, later calls ignored.
type Validity int

const (
	ValidityUnknown Validity = iota
	ValidityValid
	ValidityInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "Valid"
	case ValidityInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// TxBlockInner is the signed, hashable value of a transaction block
// (spec.md §3).
type TxBlockInner struct {
	Prev         Digest
	Seq          uint64
	Counterparty VK
	Nonce        [32]byte
	M            []byte
}

// Hash is the canonical digest of TxBlockInner under the fixed field
// ordering of spec.md §3/§6: prev, seq, counterparty, nonce, m.
func (in TxBlockInner) Hash() Digest {
	var seqB [8]byte
	putUint64(seqB[:], in.Seq)
	return xcrypto.SHA256(in.Prev[:], seqB[:], in.Counterparty[:], in.Nonce[:], in.M)
}

// TxBlock is a transaction block as it sits in a chain: the owner's
// signed inner value, plus the counterparty's matched half once obtained
// (I4).
type TxBlock struct {
	Inner            TxBlockInner
	Sig              Signature
	OtherHalf        *TxBlock
	Validity         Validity
	RequestSentRound uint64
}

func (b *TxBlock) BlockSeq() uint64    { return b.Inner.Seq }
func (b *TxBlock) IsCP() bool          { return false }
func (b *TxBlock) CompactHash() Digest { return b.Inner.Hash() }

// SetValidity applies spec.md §4.2's monotone transition: Unknown ->
// {Valid, Invalid}; later calls are ignored.
func (b *TxBlock) SetValidity(v Validity) {
	if b.Validity == ValidityUnknown {
		b.Validity = v
	}
}

// CpBlockInner is the signed, hashable value of a checkpoint block
// (spec.md §3).
type CpBlockInner struct {
	Prev     Digest
	Seq      uint64
	Round    uint64
	ConsHash Digest
	SS       []Signature // >= t+1 signatures from the round-(r-1) committee, over Cons of round r
	P        uint8       // promoter-candidacy flag, 0 or 1
}

// Hash is the canonical digest of CpBlockInner under the fixed field
// ordering of spec.md §3/§6; SS is hashed in signer-vk sort order.
func (in CpBlockInner) Hash() Digest {
	var seqB, roundB [8]byte
	putUint64(seqB[:], in.Seq)
	putUint64(roundB[:], in.Round)
	sorted := sortedSignatures(in.SS)
	parts := make([][]byte, 0, 5+2*len(sorted))
	parts = append(parts, in.Prev[:], seqB[:], roundB[:], in.ConsHash[:], []byte{in.P})
	for _, s := range sorted {
		parts = append(parts, s.VK[:], s.Sig)
	}
	return xcrypto.SHA256(parts...)
}

// CpBlock is a checkpoint block as it sits in a chain: the owner-signed
// inner value (I5 governs the signature count at round > 0).
type CpBlock struct {
	Inner CpBlockInner
	S     Signature
}

func (b *CpBlock) BlockSeq() uint64    { return b.Inner.Seq }
func (b *CpBlock) IsCP() bool          { return true }
func (b *CpBlock) CompactHash() Digest { return b.Inner.Hash() }

// Block is the common interface of TxBlock and CpBlock as chain elements
// (spec.md §3's Chain: "ordered sequence of blocks").
type Block interface {
	BlockSeq() uint64
	IsCP() bool
	CompactHash() Digest
}

// CompactBlock is the redacted form circulated during validation
// (spec.md §4.7): a digest + prev pointer + seq, with CP endpoints
// additionally annotated by the consensus round that agreed them.
type CompactBlock struct {
	Digest      Digest
	Prev        Digest
	Seq         uint64
	AgreedRound *uint64 // nil unless this CompactBlock is a CP endpoint annotated by agreed_pieces
}

func CompactOf(b Block) CompactBlock {
	switch v := b.(type) {
	case *TxBlock:
		return CompactBlock{Digest: v.CompactHash(), Prev: v.Inner.Prev, Seq: v.Inner.Seq}
	case *CpBlock:
		return CompactBlock{Digest: v.CompactHash(), Prev: v.Inner.Prev, Seq: v.Inner.Seq}
	default:
		panic("chain: unknown block type")
	}
}

// Cons is the output of one ACS round: the agreed dictionary of CpBlocks
// (spec.md §3, §4.5).
type Cons struct {
	Round  uint64
	Blocks []CpBlock
}

// Hash is Cons' canonical digest: round, followed by each block's inner
// hash, in signer-vk sort order (mirrors sortedSignatures' ordering rule
// applied at the Cons level per spec.md §3 "hash is stable under
// re-serialisation").
func (c Cons) Hash() Digest {
	blocks := make([]CpBlock, len(c.Blocks))
	copy(blocks, c.Blocks)
	sort.Slice(blocks, func(i, j int) bool {
		return string(blocks[i].S.VK[:]) < string(blocks[j].S.VK[:])
	})
	var roundB [8]byte
	putUint64(roundB[:], c.Round)
	parts := make([][]byte, 0, 1+len(blocks))
	parts = append(parts, roundB[:])
	for _, b := range blocks {
		h := b.CompactHash()
		parts = append(parts, h[:])
	}
	return xcrypto.SHA256(parts...)
}

// Equal implements I6 (cons agreement): two Cons values for the same
// round must be equal.
func (c Cons) Equal(other Cons) bool {
	return c.Round == other.Round && c.Hash() == other.Hash()
}

// GetPromoters selects the next committee from a Cons' candidate CpBlocks
// (spec.md §4.6): filter to p=1, sort by luck = sha256(hash || signer vk),
// take the first n.
func (c Cons) GetPromoters(n int) []VK {
	type cand struct {
		vk   VK
		luck Digest
	}
	cands := make([]cand, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Inner.P != 1 {
			continue
		}
		h := b.CompactHash()
		luck := xcrypto.SHA256(h[:], b.S.VK[:])
		cands = append(cands, cand{vk: b.S.VK, luck: luck})
	}
	sort.Slice(cands, func(i, j int) bool {
		return string(cands[i].luck[:]) < string(cands[j].luck[:])
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]VK, len(cands))
	for i, c := range cands {
		out[i] = c.vk
	}
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
