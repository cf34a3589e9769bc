package chain

import "trustchain.dev/trustchain/core/result"

// TrustChain is the single-writer aggregate owned by one node: its own
// keypair and Chain, the round->Cons map it has learned, and a cache of
// counterparty CompactBlock fragments (spec.md §3's TrustChain entity).
type TrustChain struct {
	VK         VK
	SK         SK
	Chain      *Chain
	consensus  map[uint64]Cons
	fragments  map[VK]map[uint64]CompactBlock // per-counterparty sparse cache, indexed by seq
}

func NewTrustChain(vk VK, sk SK) *TrustChain {
	return &TrustChain{
		VK:        vk,
		SK:        sk,
		Chain:     NewGenesisChain(vk, sk),
		consensus: make(map[uint64]Cons),
		fragments: make(map[VK]map[uint64]CompactBlock),
	}
}

// NewTrustChainFromChain wraps an already-restored Chain (e.g. loaded from
// durable storage on node restart) instead of seeding a fresh genesis.
func NewTrustChainFromChain(vk VK, sk SK, restored *Chain) *TrustChain {
	return &TrustChain{
		VK:        vk,
		SK:        sk,
		Chain:     restored,
		consensus: make(map[uint64]Cons),
		fragments: make(map[VK]map[uint64]CompactBlock),
	}
}

// AddCons records a Cons for its round, enforcing I6: two Cons values for
// the same round must be equal; disagreement is an error.
func (t *TrustChain) AddCons(c Cons) result.Result {
	if existing, ok := t.consensus[c.Round]; ok {
		if !existing.Equal(c) {
			return result.Err(result.BadHash, "trustchain: conflicting Cons for round %d", c.Round)
		}
		return result.Handled()
	}
	t.consensus[c.Round] = c
	return result.Handled(c)
}

func (t *TrustChain) ConsForRound(round uint64) (Cons, bool) {
	c, ok := t.consensus[round]
	return c, ok
}

// AgreedRoundOf implements the AgreedRoundLookup spec.md §4.2 needs for
// agreed_pieces: the round of the known Cons containing a CpBlock whose
// compact hash equals cpHash.
func (t *TrustChain) AgreedRoundOf(cpHash Digest) (uint64, bool) {
	for round, c := range t.consensus {
		for _, b := range c.Blocks {
			if b.CompactHash() == cpHash {
				return round, true
			}
		}
	}
	return 0, false
}

// AgreedPieces is a convenience wrapper over Chain.AgreedPieces bound to
// this TrustChain's own Cons map.
func (t *TrustChain) AgreedPieces(seq int) []CompactBlock {
	return t.Chain.AgreedPieces(seq, t.AgreedRoundOf)
}

// CacheInsert stores a counterparty's verified pieces segment (spec.md
// §4.7's cache), indexed by seq, so later verifications can consult the
// cache before a network round trip.
func (t *TrustChain) CacheInsert(counterparty VK, pieces []CompactBlock) {
	m, ok := t.fragments[counterparty]
	if !ok {
		m = make(map[uint64]CompactBlock)
		t.fragments[counterparty] = m
	}
	for _, p := range pieces {
		m[p.Seq] = p
	}
}

// CacheLookup returns the cached CompactBlock for (counterparty, seq), if
// present.
func (t *TrustChain) CacheLookup(counterparty VK, seq uint64) (CompactBlock, bool) {
	m, ok := t.fragments[counterparty]
	if !ok {
		return CompactBlock{}, false
	}
	cb, ok := m[seq]
	return cb, ok
}

// CacheEncloses reports whether the cache already holds an unbroken
// hash-linked segment from some cached CP endpoint through to seq, for
// the given counterparty — i.e. a cached sub-segment that already
// encloses the target (spec.md §4.7's cache fast path).
func (t *TrustChain) CacheEncloses(counterparty VK, seq uint64) ([]CompactBlock, bool) {
	m, ok := t.fragments[counterparty]
	if !ok {
		return nil, false
	}
	target, ok := m[seq]
	if !ok {
		return nil, false
	}
	// Walk backward via prev pointers within the cache to the nearest CP,
	// then forward to the next CP, mirroring Chain.Pieces' definition but
	// operating over cached fragments instead of the live chain.
	segment := []CompactBlock{target}
	cur := target
	for cur.AgreedRound == nil {
		found := false
		for _, cand := range m {
			if cand.Digest == cur.Prev {
				segment = append([]CompactBlock{cand}, segment...)
				cur = cand
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	cur = target
	for cur.AgreedRound == nil {
		found := false
		for _, cand := range m {
			if cand.Prev == cur.Digest {
				segment = append(segment, cand)
				cur = cand
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return segment, true
}
