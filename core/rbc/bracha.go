// Package rbc implements Bracha reliable broadcast with erasure-coded
// dispersal (spec.md §4.3): a per-instance state machine keyed by (root,
// instance) that delivers the same opaque payload to every honest
// committee member.
//
// The state-machine shape (message -> Result, vote sets keyed by sender
// vk, a guarded one-shot "amplify" broadcast) follows the teacher's
// p2p.Peer.Run loop idiom of a single dispatch point reacting to inbound
// messages (_examples' node/p2p/peer.go), generalised from TCP framing to
// a quorum state machine.
package rbc

import (
	"trustchain.dev/trustchain/core/result"
	"trustchain.dev/trustchain/internal/rs"
	"trustchain.dev/trustchain/internal/xcrypto"
)

type Digest = xcrypto.Digest
type VK = xcrypto.VK

type state int

const (
	stateInit state = iota
	stateEchoSent
	stateReadySent
	stateDelivered
)

// Network is the narrow send/broadcast primitive the core requires
// (spec.md §1): authenticated point-to-point send and broadcast-to-
// committee.
type Network interface {
	SendInit(to VK, root Digest, fragment []byte, fragmentIndex int, origLen int)
	BroadcastEcho(root Digest, fragment []byte, fragmentIndex int, origLen int)
	BroadcastReady(root Digest)
}

// Instance is one Bracha RBC run, identified by (root-to-be, initiator
// vk) once bound; before the root is known it is identified only by the
// (instance) tag the ACS layer assigns.
type Instance struct {
	selfVK VK
	selfIdx int // this node's index among committee members, used as fragment owner
	n, t   int
	params rs.Params
	net    Network

	state state
	root  *Digest // bound on first Init/Echo/Ready seen

	fragments map[int][]byte   // fragment index -> bytes, from Echo/Init
	echoFrom  map[VK]struct{}  // distinct senders of Echo
	readyFrom map[VK]struct{} // distinct senders of Ready

	delivered    bool
	deliveredVal []byte
	origLen      int
}

func NewInstance(selfVK VK, selfIdx, n, t int, net Network) (*Instance, error) {
	params, err := rs.NewParams(n, t)
	if err != nil {
		return nil, err
	}
	return &Instance{
		selfVK:    selfVK,
		selfIdx:   selfIdx,
		n:         n,
		t:         t,
		params:    params,
		net:       net,
		fragments: make(map[int][]byte),
		echoFrom:  make(map[VK]struct{}),
		readyFrom: make(map[VK]struct{}),
	}, nil
}

// BroadcastInit is the sender action of spec.md §4.3: encode payload into
// n fragments and send Init{root, fragment_i} to committee member i.
func (inst *Instance) BroadcastInit(payload []byte, committee []VK) (Digest, error) {
	root := xcrypto.SHA256(payload)
	shards, err := rs.Encode(inst.params, payload)
	if err != nil {
		return Digest{}, err
	}
	for i, member := range committee {
		inst.net.SendInit(member, root, shards[i], i, len(payload))
	}
	return root, nil
}

// bindRoot implements step 1 of the receiver action: bind self.root on
// first sight, drop anything inconsistent thereafter.
func (inst *Instance) bindRoot(r Digest) result.Result {
	if inst.root == nil {
		rc := r
		inst.root = &rc
		return result.Handled()
	}
	if *inst.root != r {
		return result.Err(result.BadHash, "rbc: root mismatch, already bound to %s", inst.root.String())
	}
	return result.Handled()
}

// OnInit handles a received Init(root, fragment_i) as committee member i
// (spec.md §4.3 step 2): on first sight, broadcast Echo(root, fragment_i)
// to all committee members.
func (inst *Instance) OnInit(root Digest, fragmentIdx int, fragment []byte, origLen int) result.Result {
	if inst.state == stateDelivered {
		return result.Handled()
	}
	if r := inst.bindRoot(root); r.IsErr() {
		return r
	}
	if _, have := inst.fragments[fragmentIdx]; have {
		return result.Handled()
	}
	inst.fragments[fragmentIdx] = fragment
	inst.origLen = origLen
	if inst.state == stateInit {
		inst.net.BroadcastEcho(root, fragment, fragmentIdx, origLen)
		inst.state = stateEchoSent
	}
	return result.Handled()
}

// OnEcho handles a received Echo(root, fragment_i) from sender (spec.md
// §4.3 step 3): count distinct Echo senders; on n-t distinct Echoes,
// reconstruct v, verify sha256(v) = root, and broadcast Ready if not
// already sent.
func (inst *Instance) OnEcho(root Digest, sender VK, fragmentIdx int, fragment []byte, origLen int) result.Result {
	if inst.state == stateDelivered {
		return result.Handled()
	}
	if r := inst.bindRoot(root); r.IsErr() {
		return r
	}
	if _, dup := inst.echoFrom[sender]; dup {
		return result.Handled()
	}
	inst.echoFrom[sender] = struct{}{}
	if _, have := inst.fragments[fragmentIdx]; !have {
		inst.fragments[fragmentIdx] = fragment
		inst.origLen = origLen
	}

	if len(inst.echoFrom) < inst.n-inst.t {
		return result.Handled()
	}
	if inst.state != stateInit && inst.state != stateEchoSent {
		return result.Handled()
	}
	v, ok := inst.tryReconstruct(root)
	if !ok {
		return result.Handled()
	}
	_ = v
	if inst.state == stateInit || inst.state == stateEchoSent {
		inst.net.BroadcastReady(root)
		inst.state = stateReadySent
	}
	return result.Handled()
}

func (inst *Instance) tryReconstruct(root Digest) ([]byte, bool) {
	if inst.origLen == 0 {
		return nil, false
	}
	shards := make([][]byte, inst.params.N())
	for i, f := range inst.fragments {
		if i < len(shards) {
			shards[i] = f
		}
	}
	v, err := rs.Reconstruct(inst.params, shards, inst.origLen)
	if err != nil {
		return nil, false
	}
	if xcrypto.SHA256(v) != root {
		return nil, false
	}
	return v, true
}

// OnReady handles a received Ready(root) from sender (spec.md §4.3 steps
// 4-5): amplify at t+1 distinct Readys; deliver at 2t+1 distinct Readys
// AND at least n-2t echoes.
func (inst *Instance) OnReady(root Digest, sender VK) result.Result {
	if inst.state == stateDelivered {
		return result.Handled()
	}
	if r := inst.bindRoot(root); r.IsErr() {
		return r
	}
	if _, dup := inst.readyFrom[sender]; dup {
		return result.Handled()
	}
	inst.readyFrom[sender] = struct{}{}

	if len(inst.readyFrom) >= inst.t+1 && inst.state != stateReadySent {
		inst.net.BroadcastReady(root)
		inst.state = stateReadySent
	}

	if len(inst.readyFrom) >= 2*inst.t+1 && len(inst.echoFrom) >= inst.n-2*inst.t {
		v, ok := inst.tryReconstruct(root)
		if !ok {
			return result.Replay()
		}
		inst.delivered = true
		inst.deliveredVal = v
		inst.state = stateDelivered
		return result.Handled(v)
	}
	return result.Handled()
}

// Delivered reports whether this instance has delivered, and the value if
// so.
func (inst *Instance) Delivered() ([]byte, bool) {
	return inst.deliveredVal, inst.delivered
}

// SetOrigLen overrides the recorded plaintext length used to truncate the
// reconstructed payload. OnInit and OnEcho already record it from the
// origLen carried by each Init/Echo message.
func (inst *Instance) SetOrigLen(n int) { inst.origLen = n }
