package acs

import (
	"fmt"
	"testing"

	"trustchain.dev/trustchain/internal/xcrypto"
)

type wireMsg struct {
	isBracha bool
	to       *VK
	instance VK
	round    uint64
	sender   VK
	bp       BrachaPayload
	mp       Mo14Payload
}

// busWire routes one node's outbound ACS traffic onto a shared queue; the
// test driver delivers each queued message to every node (broadcast) or to
// the addressed node only (send), mirroring the rbc/ba package tests'
// cluster harness.
type busWire struct {
	queue *[]wireMsg
	self  VK
}

func (w busWire) SendBracha(to VK, instance VK, round uint64, p BrachaPayload) {
	dst := to
	*w.queue = append(*w.queue, wireMsg{isBracha: true, to: &dst, instance: instance, round: round, sender: w.self, bp: p})
}

func (w busWire) BroadcastBracha(instance VK, round uint64, p BrachaPayload) {
	*w.queue = append(*w.queue, wireMsg{isBracha: true, instance: instance, round: round, sender: w.self, bp: p})
}

func (w busWire) BroadcastMo14(instance VK, round uint64, p Mo14Payload) {
	*w.queue = append(*w.queue, wireMsg{isBracha: false, instance: instance, round: round, sender: w.self, mp: p})
}

func newACSCluster(t *testing.T, n, bt int) ([]*ACS, []VK, map[VK]*ACS, *[]wireMsg) {
	t.Helper()
	queue := &[]wireMsg{}
	seed := []byte("acs test common coin seed")
	vks := make([]VK, n)
	for i := range vks {
		vk, _, err := xcrypto.GenerateKeypair()
		if err != nil {
			t.Fatalf("keypair: %v", err)
		}
		vks[i] = vk
	}
	nodes := make([]*ACS, n)
	byVK := make(map[VK]*ACS, n)
	for i := 0; i < n; i++ {
		node := New(vks[i], 1, n, bt, busWire{queue: queue, self: vks[i]}, xcrypto.NewCoinTape(seed))
		nodes[i] = node
		byVK[vks[i]] = node
	}
	return nodes, vks, byVK, queue
}

func runACSToQuiescence(t *testing.T, queue *[]wireMsg, nodes []*ACS, byVK map[VK]*ACS, cap int) {
	t.Helper()
	steps := 0
	for len(*queue) > 0 {
		steps++
		if steps > cap {
			t.Fatalf("did not reach quiescence within %d message deliveries", cap)
		}
		m := (*queue)[0]
		*queue = (*queue)[1:]

		targets := nodes
		if m.to != nil {
			node, ok := byVK[*m.to]
			if !ok {
				t.Fatalf("send addressed to unknown node")
			}
			targets = []*ACS{node}
		}
		for _, node := range targets {
			if m.isBracha {
				node.HandleBracha(m.instance, m.round, m.sender, m.bp)
			} else {
				node.HandleMo14(m.instance, m.round, m.sender, m.mp)
			}
		}
	}
}

func TestACSAllHonestProduceIdenticalSubset(t *testing.T) {
	n, bt := 4, 1
	nodes, vks, byVK, queue := newACSCluster(t, n, bt)

	for i, node := range nodes {
		node.Start(vks, []byte(fmt.Sprintf("input-from-node-%d", i)))
	}
	runACSToQuiescence(t, queue, nodes, byVK, 500000)

	for i, node := range nodes {
		if !node.Done() {
			t.Fatalf("node %d never completed its ACS round", i)
		}
	}

	reference := nodes[0].Results()
	if len(reference) != n {
		t.Fatalf("expected a decision for all %d committee members, got %d", n, len(reference))
	}
	ones := 0
	for _, v := range reference {
		if v == 1 {
			ones++
		}
	}
	if ones < n-bt {
		t.Fatalf("expected at least n-t=%d ones in the agreed subset, got %d", n-bt, ones)
	}

	for i := 1; i < n; i++ {
		other := nodes[i].Results()
		for member, v := range reference {
			if other[member] != v {
				t.Fatalf("agreement violated: node 0 and node %d disagree on member %x", i, member[:4])
			}
		}
	}

	for member, v := range reference {
		if v != 1 {
			continue
		}
		for i, node := range nodes {
			if _, ok := node.DeliveredPayload(member); !ok {
				t.Fatalf("node %d decided 1 for member %x but never delivered its RBC payload", i, member[:4])
			}
		}
	}
}

func TestACSIgnoresMessagesFromOtherRounds(t *testing.T) {
	n, bt := 4, 1
	nodes, vks, _, _ := newACSCluster(t, n, bt)
	node := nodes[0]
	node.Start(vks, []byte("payload"))

	if r := node.HandleBracha(vks[1], 0, vks[2], BrachaPayload{Kind: BrachaInit}); !r.IsHandled() {
		t.Fatalf("expected stale-round bracha message to be dropped, got %v", r)
	}
	if r := node.HandleBracha(vks[1], 99, vks[2], BrachaPayload{Kind: BrachaInit}); !r.IsReplay() {
		t.Fatalf("expected future-round bracha message to be replayed, got %v", r)
	}
}

func TestACSReplaysMo14BeforeCorrespondingRBCDelivers(t *testing.T) {
	n, bt := 4, 1
	nodes, vks, _, _ := newACSCluster(t, n, bt)
	node := nodes[0]
	node.Start(vks, []byte("payload"))

	// vks[3]'s Mo14 instance has not been provided an input yet (its RBC
	// has not delivered), so a Mo14 message for it must be replayed.
	r := node.HandleMo14(vks[3], 1, vks[1], Mo14Payload{Type: 0, Round: 1, V: 1})
	if !r.IsReplay() {
		t.Fatalf("expected Mo14 message to be replayed before RBC delivery, got %v", r)
	}
}
