// Package ba implements the Mostefaoui-Moumen-Raynal randomized binary
// Byzantine agreement protocol (spec.md §4.4): BV-broadcast of EST votes
// followed by AUX-vote aggregation and a coin-driven decide/restart loop,
// externalizing the common coin as a deterministic per-round tape.
//
// The round-keyed vote-set bookkeeping and the store-then-branch-on-round
// dispatch (drop r' < r, Replay r' > r) is grounded on
// _examples/original_source/src/consensus/mo14.py's Mo14.handle, translated
// from its cascading if-state-machine into the same fall-through structure
// in Go; the Result/Replay boundary type follows the teacher's p2p message
// handler idiom (_examples' node/p2p, "unexpected message kind -> Replay").
package ba

import (
	"math/rand"

	"trustchain.dev/trustchain/core/result"
	"trustchain.dev/trustchain/internal/xcrypto"
)

type VK = xcrypto.VK

// MsgType distinguishes the two message kinds of spec.md §4.4.
type MsgType int

const (
	EstMsg MsgType = iota
	AuxMsg
)

type state int

const (
	stateStart state = iota
	stateEst
	stateAux
	stateCoin
	stateStopped
)

// FailureMode lets a test harness simulate a misbehaving committee member
// without needing a second adversarial implementation (SPEC_FULL.md's
// Byzantine failure-mode test hook).
type FailureMode int

const (
	FailureNone FailureMode = iota
	FailureOmission
	FailureByzantine
)

// Network is the narrow broadcast primitive this instance requires.
type Network interface {
	BroadcastEst(round uint64, v int)
	BroadcastAux(round uint64, v int)
}

// voteSet holds, for one round and one message type, the set of distinct
// signer vks that voted 0 and the set that voted 1.
type voteSet [2]map[VK]struct{}

func newVoteSet() voteSet {
	return voteSet{make(map[VK]struct{}), make(map[VK]struct{})}
}

// Instance is one committee member's run of Mo14 for a single ACS slot.
type Instance struct {
	selfVK  VK
	n, t    int
	net     Network
	coins   *xcrypto.CoinTape
	failure FailureMode
	rng     *rand.Rand

	round uint64
	est   int // -1 until Start is called
	state state

	estValues   map[uint64]voteSet
	auxValues   map[uint64]voteSet
	broadcasted map[uint64][2]bool
	binValues   map[uint64]map[int]struct{}

	decided    bool
	decidedVal int
}

func NewInstance(selfVK VK, n, t int, net Network, coins *xcrypto.CoinTape) *Instance {
	return &Instance{
		selfVK:      selfVK,
		n:           n,
		t:           t,
		net:         net,
		coins:       coins,
		rng:         rand.New(rand.NewSource(1)),
		est:         -1,
		estValues:   make(map[uint64]voteSet),
		auxValues:   make(map[uint64]voteSet),
		broadcasted: make(map[uint64][2]bool),
		binValues:   make(map[uint64]map[int]struct{}),
	}
}

// SetFailureMode configures this instance to simulate an omitting or
// Byzantine committee member for test scenarios. It must be called before
// Start.
func (inst *Instance) SetFailureMode(mode FailureMode) { inst.failure = mode }

// Round reports the round this instance is currently acting in.
func (inst *Instance) Round() uint64 { return inst.round }

// Decided reports whether this instance has decided, and on what value.
func (inst *Instance) Decided() (int, bool) { return inst.decidedVal, inst.decided }

func (inst *Instance) maybeFlip(v int) int {
	if inst.failure == FailureByzantine {
		return inst.rng.Intn(2)
	}
	return v
}

// Start begins (or restarts) the agreement with initial estimate v,
// broadcasting EST(round, v) for the freshly incremented round.
func (inst *Instance) Start(v int) result.Result {
	inst.round++
	inst.est = v
	inst.state = stateStart
	if inst.failure == FailureOmission {
		return result.Handled()
	}
	inst.net.BroadcastEst(inst.round, inst.maybeFlip(v))
	return result.Handled()
}

func (inst *Instance) storeMsg(ty MsgType, round uint64, v int, sender VK) {
	switch ty {
	case EstMsg:
		vs, ok := inst.estValues[round]
		if !ok {
			vs = newVoteSet()
			inst.estValues[round] = vs
		}
		vs[v][sender] = struct{}{}
	case AuxMsg:
		vs, ok := inst.auxValues[round]
		if !ok {
			vs = newVoteSet()
			inst.auxValues[round] = vs
		}
		vs[v][sender] = struct{}{}
	}
}

// Handle processes one inbound EST/AUX message (spec.md §4.4). Messages for
// a round below the current one are dropped; messages for a round ahead of
// the current one are stored and the dispatcher is asked to Replay once
// this instance has caught up.
func (inst *Instance) Handle(ty MsgType, round uint64, v int, sender VK) result.Result {
	if inst.state == stateStopped {
		return result.Handled()
	}
	inst.storeMsg(ty, round, v, sender)

	if round < inst.round {
		return result.Handled()
	}
	if round > inst.round {
		return result.Replay()
	}

	if ty == EstMsg {
		if inst.updateBinValues(v) && inst.state == stateStart {
			inst.state = stateEst
		}
	}

	if inst.state == stateEst {
		w := inst.pickBinValue()
		if inst.failure != FailureOmission {
			inst.net.BroadcastAux(inst.round, inst.maybeFlip(w))
		}
		inst.state = stateAux
	}

	var vals map[int]bool
	if inst.state == stateAux {
		aux, ok := inst.auxValues[inst.round]
		if !ok {
			return result.Handled()
		}
		vals = inst.getAuxVals(aux)
		if vals != nil {
			inst.state = stateCoin
		}
	}

	if inst.state == stateCoin {
		s := inst.coins.Coin(inst.round)
		if len(vals) == 1 && vals[v] {
			if v == s {
				inst.decided = true
				inst.decidedVal = v
				inst.state = stateStopped
				return result.Handled(v)
			}
			inst.est = v
		} else {
			inst.est = s
		}
		return inst.Start(inst.est)
	}

	return result.Handled()
}

// updateBinValues is the BV-broadcast core: relay v once t+1 distinct
// signers have voted it, and add it to bin_values once 2t+1 have.
func (inst *Instance) updateBinValues(v int) bool {
	votes := inst.estValues[inst.round][v]
	if len(votes) >= inst.t+1 && !inst.broadcasted[inst.round][v] {
		if inst.failure != FailureOmission {
			inst.net.BroadcastEst(inst.round, inst.maybeFlip(v))
		}
		sent := inst.broadcasted[inst.round]
		sent[v] = true
		inst.broadcasted[inst.round] = sent
	}
	if len(votes) >= 2*inst.t+1 {
		bv, ok := inst.binValues[inst.round]
		if !ok {
			bv = make(map[int]struct{})
			inst.binValues[inst.round] = bv
		}
		bv[v] = struct{}{}
		return true
	}
	return false
}

// pickBinValue returns an element of bin_values[round]; when both 0 and 1
// are present, the choice does not affect safety (decided value is gated by
// the coin), so the smaller value is picked for determinism.
func (inst *Instance) pickBinValue() int {
	bv := inst.binValues[inst.round]
	if _, ok := bv[0]; ok {
		return 0
	}
	for v := range bv {
		return v
	}
	return 0
}

// getAuxVals implements the accepted-values rule of spec.md §4.4: if
// bin_values is a singleton {x}, require n-t AUX(x) votes; if it is {0,1},
// prefer the union (n-t votes across both) else whichever side alone
// reaches n-t.
func (inst *Instance) getAuxVals(aux voteSet) map[int]bool {
	bv := inst.binValues[inst.round]
	switch len(bv) {
	case 1:
		x := inst.pickBinValue()
		if len(aux[x]) >= inst.n-inst.t {
			return map[int]bool{x: true}
		}
	case 2:
		union := make(map[VK]struct{}, len(aux[0])+len(aux[1]))
		for k := range aux[0] {
			union[k] = struct{}{}
		}
		for k := range aux[1] {
			union[k] = struct{}{}
		}
		if len(union) >= inst.n-inst.t {
			return map[int]bool{0: true, 1: true}
		}
		if len(aux[0]) >= inst.n-inst.t {
			return map[int]bool{0: true}
		}
		if len(aux[1]) >= inst.n-inst.t {
			return map[int]bool{1: true}
		}
	}
	return nil
}
