// Package txvalidate implements spec.md §4.7: two-message transaction
// formation, three-message asynchronous chain-segment validation, and the
// per-counterparty cache fast path.
//
// The request/response pairing keyed by (counterparty, seq), with a
// pending-request guard to prevent duplicate outstanding requests, follows
// the teacher's node/p2p request/response correlation idiom
// (_examples' node/p2p: per-peer pending-request maps keyed by item hash),
// generalised from block/inv requests to TX and validation requests.
package txvalidate

import (
	"trustchain.dev/trustchain/core/chain"
	"trustchain.dev/trustchain/core/result"
	"trustchain.dev/trustchain/internal/xcrypto"
)

type VK = xcrypto.VK

// Network is the outbound primitive this package requires.
type Network interface {
	SendTxReq(to VK, tx *chain.TxBlock)
	SendTxResp(to VK, aSeq uint64, bTx *chain.TxBlock)
	SendValidationReq(to VK, sA, sB uint64)
	SendValidationResp(to VK, sA, sB uint64, pieces []chain.CompactBlock)
}

// Manager wraps a TrustChain with the transaction/validation protocol
// state: outstanding request guards and the backpressure counters of §5.
type Manager struct {
	tc  *chain.TrustChain
	net Network

	maxPendingUnverified int // "> 20*n pauses new TX creation"
	pendingUnverified     int

	outstandingValidation map[VK]map[uint64]struct{} // counterparty -> set of own seqs with an outstanding ValidationReq this round
}

func NewManager(tc *chain.TrustChain, net Network, n int) *Manager {
	return &Manager{
		tc:                     tc,
		net:                    net,
		maxPendingUnverified:   20 * n,
		outstandingValidation:  make(map[VK]map[uint64]struct{}),
	}
}

// CanCreateTx reports whether backpressure (§5) allows forming a new TX.
func (m *Manager) CanCreateTx() bool {
	return m.pendingUnverified <= m.maxPendingUnverified
}

// CreateTx implements §4.7 step 1: A creates a TxBlock addressed to B,
// appends it to its own chain, and sends TxReq.
func (m *Manager) CreateTx(counterparty VK, payload []byte) (*chain.TxBlock, result.Result) {
	if !m.CanCreateTx() {
		return nil, result.Err(result.Aborted, "txvalidate: pending unverified TX backlog exceeds %d", m.maxPendingUnverified)
	}
	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, result.Err(result.Aborted, "txvalidate: nonce generation failed: %v", err)
	}
	latest := m.tc.Chain.Latest()
	inner := chain.TxBlockInner{
		Prev:         latest.CompactHash(),
		Seq:          m.tc.Chain.NextSeq(),
		Counterparty: counterparty,
		Nonce:        nonce,
		M:            payload,
	}
	tx := &chain.TxBlock{Inner: inner, Sig: chain.SignDigest(m.tc.SK, m.tc.VK, inner.Hash())}
	if r := m.tc.Chain.AppendTx(tx); r.IsErr() {
		return nil, r
	}
	m.pendingUnverified++
	m.net.SendTxReq(counterparty, tx)
	return tx, result.Handled(tx)
}

// OnTxReq implements §4.7 step 2: B validates A's signature, appends a
// matching half sharing (nonce, m), stores A's half as other_half, and
// replies TxResp.
func (m *Manager) OnTxReq(from VK, aTx *chain.TxBlock) result.Result {
	if !aTx.Sig.Verify(aTx.Inner.Hash()) {
		return result.Err(result.BadSignature, "txvalidate: TxReq signature does not verify")
	}
	latest := m.tc.Chain.Latest()
	inner := chain.TxBlockInner{
		Prev:         latest.CompactHash(),
		Seq:          m.tc.Chain.NextSeq(),
		Counterparty: from,
		Nonce:        aTx.Inner.Nonce,
		M:            aTx.Inner.M,
	}
	bTx := &chain.TxBlock{
		Inner:     inner,
		Sig:       chain.SignDigest(m.tc.SK, m.tc.VK, inner.Hash()),
		OtherHalf: aTx,
	}
	if r := m.tc.Chain.AppendTx(bTx); r.IsErr() {
		return r
	}
	m.net.SendTxResp(from, aTx.Inner.Seq, bTx)
	return result.Handled(bTx)
}

// OnTxResp implements §4.7 step 3: A stores B's half as other_half under
// the seq A originally used, after verifying the halves match (I4).
func (m *Manager) OnTxResp(aSeq uint64, bTx *chain.TxBlock) result.Result {
	block, ok := m.tc.Chain.At(int(aSeq))
	if !ok {
		return result.Err(result.BadLink, "txvalidate: no local tx at seq %d", aSeq)
	}
	aTx, ok := block.(*chain.TxBlock)
	if !ok {
		return result.Err(result.BadLink, "txvalidate: block at seq %d is not a TxBlock", aSeq)
	}
	if !bTx.Sig.Verify(bTx.Inner.Hash()) {
		return result.Err(result.BadSignature, "txvalidate: TxResp signature does not verify")
	}
	if bTx.Inner.Nonce != aTx.Inner.Nonce || string(bTx.Inner.M) != string(aTx.Inner.M) {
		return result.Err(result.BadHash, "txvalidate: other half nonce/payload mismatch")
	}
	aTx.OtherHalf = bTx
	return result.Handled(aTx)
}

// requestGuard reports whether a ValidationReq is already outstanding for
// (counterparty, seq), per §5's "not already having an outstanding request
// for the same TX this round".
func (m *Manager) requestGuard(counterparty VK, seq uint64) bool {
	byCp, ok := m.outstandingValidation[counterparty]
	if !ok {
		return false
	}
	_, outstanding := byCp[seq]
	return outstanding
}

func (m *Manager) setRequestOutstanding(counterparty VK, seq uint64) {
	byCp, ok := m.outstandingValidation[counterparty]
	if !ok {
		byCp = make(map[uint64]struct{})
		m.outstandingValidation[counterparty] = byCp
	}
	byCp[seq] = struct{}{}
}

func (m *Manager) clearRequestOutstanding(counterparty VK, seq uint64) {
	if byCp, ok := m.outstandingValidation[counterparty]; ok {
		delete(byCp, seq)
	}
}

// RequestValidation implements §4.7 step 1 of validation: gated on
// latest_round > 1 and no duplicate outstanding request, sends
// ValidationReq(s_A, s_B) to the counterparty holding the other half.
func (m *Manager) RequestValidation(latestRound uint64, seqA uint64) result.Result {
	if latestRound <= 1 {
		return result.Err(result.Aborted, "txvalidate: validation gated until latest_round > 1")
	}
	block, ok := m.tc.Chain.At(int(seqA))
	if !ok {
		return result.Err(result.BadLink, "txvalidate: no local tx at seq %d", seqA)
	}
	tx, ok := block.(*chain.TxBlock)
	if !ok || tx.OtherHalf == nil {
		return result.Err(result.Aborted, "txvalidate: tx at seq %d has no other_half yet", seqA)
	}
	counterparty := tx.Inner.Counterparty
	seqB := tx.OtherHalf.Inner.Seq
	if m.requestGuard(counterparty, seqA) {
		return result.Err(result.Aborted, "txvalidate: validation already outstanding for seq %d", seqA)
	}
	m.setRequestOutstanding(counterparty, seqA)
	m.net.SendValidationReq(counterparty, seqA, seqB)
	return result.Handled()
}

// OnValidationReq implements §4.7 step 2: B computes agreed_pieces on its
// own chain and replies, or replies empty if the segment is not yet
// agreed.
func (m *Manager) OnValidationReq(from VK, seqA, seqB uint64) result.Result {
	pieces := m.tc.AgreedPieces(int(seqB))
	m.net.SendValidationResp(from, seqA, seqB, pieces)
	return result.Handled(pieces)
}

// OnValidationResp implements §4.7 step 3: A verifies the enclosing CPs,
// the hash-linked chain through pieces, and that some block's digest
// equals other_half's hash; sets validity to Valid when all checks hold.
// Otherwise validity is left unchanged; this method never sets Invalid.
func (m *Manager) OnValidationResp(seqA, seqB uint64, pieces []chain.CompactBlock) result.Result {
	block, ok := m.tc.Chain.At(int(seqA))
	if !ok {
		return result.Err(result.BadLink, "txvalidate: no local tx at seq %d", seqA)
	}
	tx, ok := block.(*chain.TxBlock)
	if !ok || tx.OtherHalf == nil {
		return result.Handled()
	}
	m.clearRequestOutstanding(tx.Inner.Counterparty, seqA)

	if len(pieces) == 0 {
		// Empty or premature reply: validity stays Unknown, no corruption.
		return result.Handled()
	}

	if ok := m.verifyPieces(tx, pieces); ok {
		tx.SetValidity(chain.ValidityValid)
		m.pendingUnverified--
		if mp := m.pendingUnverified; mp < 0 {
			m.pendingUnverified = 0
		}
		m.tc.CacheInsert(tx.Inner.Counterparty, pieces)
		m.recheckPending(tx.Inner.Counterparty)
	}
	return result.Handled(tx.Validity)
}

// verifyPieces implements P8: the two outer CPs must be in this node's own
// Cons for their declared agreed_round, the pieces must form an unbroken
// hash-linked segment, and one block's digest must equal other_half's
// hash.
func (m *Manager) verifyPieces(tx *chain.TxBlock, pieces []chain.CompactBlock) bool {
	first, last := pieces[0], pieces[len(pieces)-1]
	if first.AgreedRound == nil || last.AgreedRound == nil {
		return false
	}
	cons, ok := m.tc.ConsForRound(*first.AgreedRound)
	if !ok || !consContains(cons, first.Digest) {
		return false
	}
	cons, ok = m.tc.ConsForRound(*last.AgreedRound)
	if !ok || !consContains(cons, last.Digest) {
		return false
	}
	for i := 1; i < len(pieces); i++ {
		if pieces[i].Prev != pieces[i-1].Digest {
			return false
		}
	}
	target := tx.OtherHalf.CompactHash()
	for _, p := range pieces {
		if p.Digest == target {
			return true
		}
	}
	return false
}

func consContains(c chain.Cons, digest chain.Digest) bool {
	for _, b := range c.Blocks {
		if b.CompactHash() == digest {
			return true
		}
	}
	return false
}

// recheckPending re-verifies any other pending Unknown TXs with the same
// counterparty against the now-larger cache, per §4.7's cache fast path.
func (m *Manager) recheckPending(counterparty VK) {
	for i := 0; i < m.tc.Chain.Len(); i++ {
		block, ok := m.tc.Chain.At(i)
		if !ok {
			continue
		}
		tx, ok := block.(*chain.TxBlock)
		if !ok || tx.Validity != chain.ValidityUnknown || tx.OtherHalf == nil {
			continue
		}
		if tx.Inner.Counterparty != counterparty {
			continue
		}
		if pieces, ok := m.tc.CacheEncloses(counterparty, tx.OtherHalf.Inner.Seq); ok {
			if m.verifyPieces(tx, pieces) {
				tx.SetValidity(chain.ValidityValid)
			}
		}
	}
}

// TryCacheFastPath implements §4.7's cache fast path explicitly: if the
// cache already encloses the target seq, verification succeeds without a
// network round trip.
func (m *Manager) TryCacheFastPath(seqA uint64) result.Result {
	block, ok := m.tc.Chain.At(int(seqA))
	if !ok {
		return result.Err(result.BadLink, "txvalidate: no local tx at seq %d", seqA)
	}
	tx, ok := block.(*chain.TxBlock)
	if !ok || tx.OtherHalf == nil {
		return result.Err(result.Aborted, "txvalidate: tx at seq %d has no other_half yet", seqA)
	}
	if tx.Validity != chain.ValidityUnknown {
		return result.Handled(tx.Validity) // P9: idempotent no-op once decided
	}
	pieces, ok := m.tc.CacheEncloses(tx.Inner.Counterparty, tx.OtherHalf.Inner.Seq)
	if !ok {
		return result.Replay()
	}
	if m.verifyPieces(tx, pieces) {
		tx.SetValidity(chain.ValidityValid)
		m.recheckPending(tx.Inner.Counterparty)
	}
	return result.Handled(tx.Validity)
}
