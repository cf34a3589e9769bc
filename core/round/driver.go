// Package round implements the round driver of spec.md §4.6: it drives one
// ACS instance per consensus round, collects promoter signatures over the
// ACS output, appends the resulting CpBlock to the local chain, and
// selects the next committee.
//
// The per-round state table plus the "collect until threshold, then act"
// shape is grounded on the teacher's node/store reorg bookkeeping pattern
// (_examples' node/store: per-height pending-work accumulation before
// commit), generalised from block reorg accounting to round-keyed
// signature accounting.
package round

import (
	"time"

	"trustchain.dev/trustchain/core/acs"
	"trustchain.dev/trustchain/core/chain"
	"trustchain.dev/trustchain/core/result"
	"trustchain.dev/trustchain/internal/xcrypto"
)

type VK = xcrypto.VK

// Scheduler abstracts "call f after d" so tests can exercise settle-delay
// auto-advance synchronously instead of waiting on a real timer.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// RealScheduler is the production Scheduler, backed by time.AfterFunc.
var RealScheduler Scheduler = realScheduler{}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Network is the outbound primitive the round driver requires, distinct
// from the ACS Wire (which carries Bracha/Mo14 sub-messages): whole-round
// artifacts broadcast or sent point-to-point.
type Network interface {
	BroadcastCons(to []VK, cons chain.Cons)
	BroadcastSig(to []VK, sig chain.Signature, round uint64)
	SendCp(to VK, cp *chain.CpBlock)
	SendAskCons(to VK, round uint64)
}

// ACSStarter constructs and starts a fresh ACS instance for a round, wiring
// it to the transport via the acs.Wire the caller already owns.
type ACSStarter func(round uint64, committee []VK, input []byte) *acs.ACS

// RoundState is the per-round accumulator of spec.md §4.6: the agreed Cons
// once known, the signatures collected toward it, and any peer CpBlocks
// observed out of band.
type RoundState struct {
	Round uint64
	Cons  *chain.Cons
	Sigs  map[VK]chain.Signature
	Cps   []*chain.CpBlock // peer CPs observed via direct Cp gossip, not yet folded into a Cons
	acs   *acs.ACS
	acsDone bool
	closed  bool // a CpBlock has been appended for this round already
}

func newRoundState(round uint64) *RoundState {
	return &RoundState{Round: round, Sigs: make(map[VK]chain.Signature)}
}

// Driver is the single per-node round driver instance.
type Driver struct {
	tc  *chain.TrustChain
	net Network
	acsStart ACSStarter

	n, t int

	committee     []VK // running this round's ACS
	nextCommittee []VK // cons.get_promoters(n), once known

	latestRound uint64
	states      map[uint64]*RoundState

	scheduler   Scheduler     // nil unless EnableAutoAdvance was called
	settleDelay time.Duration
}

func NewDriver(tc *chain.TrustChain, net Network, acsStart ACSStarter, n, t int, initialCommittee []VK) *Driver {
	return &Driver{
		tc:        tc,
		net:       net,
		acsStart:  acsStart,
		n:         n,
		t:         t,
		committee: initialCommittee,
		states:    make(map[uint64]*RoundState),
	}
}

// EnableAutoAdvance turns on spec.md §4.6 step 5: once this node lands in
// the newly-selected committee for a round it just closed, start ACS for
// round+1 after settleDelay, aborting if someone else already closed
// round+1 in the meantime. settleDelay is ordinarily
// time.Duration(cfg.SettleDelayMS) * time.Millisecond, cfg being the
// node's internal/config.Config. Auto-advance is off (no-op tryClose
// behavior beyond step 4) until this is called.
func (d *Driver) EnableAutoAdvance(sched Scheduler, settleDelay time.Duration) {
	d.scheduler = sched
	d.settleDelay = settleDelay
}

func (d *Driver) stateFor(round uint64) *RoundState {
	s, ok := d.states[round]
	if !ok {
		s = newRoundState(round)
		d.states[round] = s
	}
	return s
}

// StartRound begins round r's ACS among this node's current committee,
// using its own latest CpBlock as the input payload (spec.md §4.6 step 1).
func (d *Driver) StartRound(round uint64) {
	s := d.stateFor(round)
	latest := d.tc.Chain.LatestCP()
	payload := latest.Encode()
	s.acs = d.acsStart(round, d.committee, payload)
}

// HandleACSOutput is called once this node's local ACS instance for round
// r has produced its dictionary (spec.md §4.6 step 2): build Cons from the
// members decided 1, broadcast Cons to the future committee, sign the
// Cons hash, and broadcast Sig to present + future committees.
func (d *Driver) HandleACSOutput(round uint64, results map[VK]int, payloadOf func(member VK) ([]byte, bool)) result.Result {
	if round < d.latestRound {
		return result.Handled()
	}
	s := d.stateFor(round)
	if s.acsDone {
		return result.Handled()
	}

	blocks := make([]chain.CpBlock, 0, len(results))
	for member, v := range results {
		if v != 1 {
			continue
		}
		payload, ok := payloadOf(member)
		if !ok {
			continue
		}
		cp, err := chain.DecodeCpBlock(payload)
		if err != nil {
			continue
		}
		blocks = append(blocks, *cp)
	}
	cons := chain.Cons{Round: round, Blocks: blocks}
	s.acsDone = true
	s.Cons = &cons

	future := cons.GetPromoters(d.n)
	d.nextCommittee = future

	d.net.BroadcastCons(future, cons)

	sig := chain.SignDigest(d.tc.SK, d.tc.VK, cons.Hash())
	presentAndFuture := unionVKs(d.committee, future)
	d.net.BroadcastSig(presentAndFuture, sig, round)

	return d.tryClose(round)
}

// HandleCons processes a received Cons(cons) for a round (spec.md §4.6):
// records it (enforcing I6 via TrustChain.AddCons) and attempts to close
// the round if enough signatures are already on hand.
func (d *Driver) HandleCons(round uint64, cons chain.Cons) result.Result {
	if round < d.latestRound {
		return result.Handled()
	}
	if r := d.tc.AddCons(cons); r.IsErr() {
		return r
	}
	s := d.stateFor(round)
	c := cons
	s.Cons = &c
	return d.tryClose(round)
}

// HandleSig processes a received Sig(s, r): validates it against the
// round's known Cons (if any) and records it toward the t+1 threshold.
func (d *Driver) HandleSig(round uint64, sig chain.Signature) result.Result {
	if round < d.latestRound {
		return result.Handled()
	}
	s := d.stateFor(round)
	if s.closed {
		return result.Handled()
	}
	if s.Cons != nil && !sig.Verify(s.Cons.Hash()) {
		return result.Err(result.BadSignature, "round: sig for round %d does not verify against known cons", round)
	}
	s.Sigs[sig.VK] = sig
	return d.tryClose(round)
}

// HandleCp records a peer's directly-gossiped CpBlock (spec.md §4.6 step
// 4's "send own CP to the new committee"), for use as a fallback alongside
// AskCons.
func (d *Driver) HandleCp(round uint64, cp *chain.CpBlock) result.Result {
	s := d.stateFor(round)
	s.Cps = append(s.Cps, cp)
	return result.Handled()
}

// HandleAskCons answers a poll for a round's Cons (spec.md §4.6's
// missing-result recovery): promoters answer unconditionally with the full
// Cons if they have it.
func (d *Driver) HandleAskCons(round uint64, asker VK) (chain.Cons, bool) {
	c, ok := d.tc.ConsForRound(round)
	return c, ok
}

// tryClose implements step 4: once cons is known and |sigs| >= t+1, create
// and append this node's own CpBlock, advance the committee, and send it
// to the new committee.
func (d *Driver) tryClose(round uint64) result.Result {
	s := d.stateFor(round)
	if s.closed || s.Cons == nil || len(s.Sigs) < d.t+1 {
		return result.Handled()
	}

	latest := d.tc.Chain.Latest()
	ss := make([]chain.Signature, 0, len(s.Sigs))
	for _, sig := range s.Sigs {
		ss = append(ss, sig)
	}
	inner := chain.CpBlockInner{
		Prev:     latest.CompactHash(),
		Seq:      d.tc.Chain.NextSeq(),
		Round:    round,
		ConsHash: s.Cons.Hash(),
		SS:       ss,
		P:        1,
	}
	cp := &chain.CpBlock{Inner: inner, S: chain.SignDigest(d.tc.SK, d.tc.VK, inner.Hash())}
	if r := d.tc.Chain.AppendCP(cp); r.IsErr() {
		return r
	}
	s.closed = true
	if round > d.latestRound {
		d.latestRound = round
	}
	d.committee = s.Cons.GetPromoters(d.n)

	for _, member := range d.committee {
		d.net.SendCp(member, cp)
	}
	d.maybeAutoAdvance(round)
	return result.Handled(cp)
}

// maybeAutoAdvance implements step 5: if auto-advance is enabled and this
// node is in the committee tryClose just selected, schedule ACS for the
// next round after the settle delay, unless it has already been closed by
// then (by Cons/Sig messages received from the rest of the committee).
func (d *Driver) maybeAutoAdvance(closedRound uint64) {
	if d.scheduler == nil || !containsVK(d.committee, d.tc.VK) {
		return
	}
	next := closedRound + 1
	d.scheduler.AfterFunc(d.settleDelay, func() {
		if s, ok := d.states[next]; ok && s.closed {
			return
		}
		d.StartRound(next)
	})
}

func containsVK(list []VK, vk VK) bool {
	for _, v := range list {
		if v == vk {
			return true
		}
	}
	return false
}

// PendingWithoutCons reports whether round r has reached the t+1 signature
// threshold locally but this node still lacks the round's Cons — the
// trigger condition for AskCons polling (spec.md §4.6's missing-result
// recovery).
func (d *Driver) PendingWithoutCons(round uint64) bool {
	s, ok := d.states[round]
	if !ok {
		return false
	}
	return s.Cons == nil && len(s.Sigs) >= d.t+1
}

// LatestRound reports the highest round this node has closed (appended a
// CpBlock for).
func (d *Driver) LatestRound() uint64 { return d.latestRound }

// Committee reports the committee currently running ACS.
func (d *Driver) Committee() []VK { return d.committee }

// GCStaleRounds drops RoundState for rounds below latestRound, per §5's
// "stale ACS/Bracha/Mo14 instances ... are garbage-collected when their
// round number falls below latest_round".
func (d *Driver) GCStaleRounds() {
	for r := range d.states {
		if r < d.latestRound {
			delete(d.states, r)
		}
	}
}

func unionVKs(a, b []VK) []VK {
	seen := make(map[VK]struct{}, len(a)+len(b))
	out := make([]VK, 0, len(a)+len(b))
	for _, vk := range a {
		if _, ok := seen[vk]; !ok {
			seen[vk] = struct{}{}
			out = append(out, vk)
		}
	}
	for _, vk := range b {
		if _, ok := seen[vk]; !ok {
			seen[vk] = struct{}{}
			out = append(out, vk)
		}
	}
	return out
}
