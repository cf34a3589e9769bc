package chain

import "trustchain.dev/trustchain/core/result"

// Chain is one node's ordered, append-only sequence of blocks (spec.md
// §3/§4.2). seq = position; genesis sits at index 0.
type Chain struct {
	blocks []Block
}

// NewGenesisChain builds a chain whose sole block is the genesis CpBlock
// of I3: round=0, p=1, empty ss, prev=GenesisPrev(), signed by (vk, sk).
func NewGenesisChain(vk VK, sk SK) *Chain {
	inner := CpBlockInner{
		Prev:  GenesisPrev(),
		Seq:   0,
		Round: 0,
		P:     1,
		SS:    nil,
	}
	cp := &CpBlock{Inner: inner, S: SignDigest(sk, vk, inner.Hash())}
	return &Chain{blocks: []Block{cp}}
}

// NewChainFromGenesis rebuilds a Chain whose sole starting block is an
// already-signed genesis CpBlock loaded from durable storage.
func NewChainFromGenesis(genesis *CpBlock) *Chain {
	return &Chain{blocks: []Block{genesis}}
}

func (c *Chain) Len() int { return len(c.blocks) }

func (c *Chain) At(seq int) (Block, bool) {
	if seq < 0 || seq >= len(c.blocks) {
		return nil, false
	}
	return c.blocks[seq], true
}

func (c *Chain) Latest() Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// LatestCP returns the most recently appended CpBlock.
func (c *Chain) LatestCP() *CpBlock {
	for i := len(c.blocks) - 1; i >= 0; i-- {
		if cp, ok := c.blocks[i].(*CpBlock); ok {
			return cp
		}
	}
	return nil
}

func (c *Chain) NextSeq() uint64 { return uint64(len(c.blocks)) }

// checkLinkage implements I1: block.prev must equal the latest block's
// compact hash, and block.seq must be latest.seq + 1.
func (c *Chain) checkLinkage(prev Digest, seq uint64) result.Result {
	latest := c.Latest()
	if latest == nil {
		return result.Err(result.BadLink, "chain: empty chain, cannot append")
	}
	if prev != latest.CompactHash() {
		return result.Err(result.BadLink, "chain: prev %x != latest hash %x", prev, latest.CompactHash())
	}
	if seq != latest.BlockSeq()+1 {
		return result.Err(result.BadLink, "chain: seq %d != latest seq %d + 1", seq, latest.BlockSeq())
	}
	return result.Handled()
}

// AppendTx implements §4.2's append_tx: fails with BadLink if
// tx.prev != latest_compact.hash or tx.seq != latest.seq + 1.
func (c *Chain) AppendTx(tx *TxBlock) result.Result {
	if r := c.checkLinkage(tx.Inner.Prev, tx.Inner.Seq); r.IsErr() {
		return r
	}
	c.blocks = append(c.blocks, tx)
	return result.Handled()
}

// AppendCP implements §4.2's append_cp: the linkage check of AppendTx,
// plus I2 (cp.round > latest_cp.round); otherwise BadLink or BadRound.
func (c *Chain) AppendCP(cp *CpBlock) result.Result {
	if r := c.checkLinkage(cp.Inner.Prev, cp.Inner.Seq); r.IsErr() {
		return r
	}
	if latestCP := c.LatestCP(); latestCP != nil && cp.Inner.Round <= latestCP.Inner.Round {
		return result.Err(result.BadRound, "chain: round %d <= latest cp round %d", cp.Inner.Round, latestCP.Inner.Round)
	}
	c.blocks = append(c.blocks, cp)
	return result.Handled()
}

// Pieces implements §4.2's pieces(seq): the compact-form slice
// [cp_a ... cp_b] where cp_a is the nearest preceding CpBlock and cp_b the
// nearest following CpBlock of chain[seq] (a TxBlock). Empty if either
// enclosure is missing.
func (c *Chain) Pieces(seq int) []CompactBlock {
	if seq < 0 || seq >= len(c.blocks) {
		return nil
	}
	aIdx := -1
	for i := seq; i >= 0; i-- {
		if c.blocks[i].IsCP() {
			aIdx = i
			break
		}
	}
	bIdx := -1
	for i := seq; i < len(c.blocks); i++ {
		if c.blocks[i].IsCP() {
			bIdx = i
			break
		}
	}
	if aIdx < 0 || bIdx < 0 {
		return nil
	}
	out := make([]CompactBlock, 0, bIdx-aIdx+1)
	for i := aIdx; i <= bIdx; i++ {
		out = append(out, CompactOf(c.blocks[i]))
	}
	return out
}

// AgreedRoundLookup resolves the consensus round (if any) in which a
// CpBlock's hash appears, across the node's known Cons map.
type AgreedRoundLookup func(cpHash Digest) (round uint64, ok bool)

// AgreedPieces implements §4.2's agreed_pieces(seq): identical to Pieces
// but requires each enclosing CP to be in some known Cons, annotating the
// first and last CompactBlock with their agreed_round.
func (c *Chain) AgreedPieces(seq int, lookup AgreedRoundLookup) []CompactBlock {
	pieces := c.Pieces(seq)
	if len(pieces) == 0 {
		return nil
	}
	firstRound, ok := lookup(pieces[0].Digest)
	if !ok {
		return nil
	}
	lastRound, ok := lookup(pieces[len(pieces)-1].Digest)
	if !ok {
		return nil
	}
	pieces[0].AgreedRound = &firstRound
	pieces[len(pieces)-1].AgreedRound = &lastRound
	return pieces
}

// Blocks exposes the raw backing slice read-only, for iteration by chain
// consumers (e.g. the round driver scanning for the latest p=1 CP).
func (c *Chain) Blocks() []Block {
	return c.blocks
}
