package ba

import (
	"testing"

	"trustchain.dev/trustchain/internal/xcrypto"
)

type busMsg struct {
	ty     MsgType
	round  uint64
	v      int
	sender VK
}

// busNet appends outbound broadcasts to a shared queue instead of invoking
// other instances synchronously, so the test driver controls delivery order
// and can bound total message processing.
type busNet struct {
	queue *[]busMsg
	self  VK
}

func (b busNet) BroadcastEst(round uint64, v int) {
	*b.queue = append(*b.queue, busMsg{EstMsg, round, v, b.self})
}

func (b busNet) BroadcastAux(round uint64, v int) {
	*b.queue = append(*b.queue, busMsg{AuxMsg, round, v, b.self})
}

func runToQuiescence(t *testing.T, queue *[]busMsg, instances []*Instance, cap int) {
	t.Helper()
	steps := 0
	for len(*queue) > 0 {
		steps++
		if steps > cap {
			t.Fatalf("did not reach quiescence within %d message deliveries", cap)
		}
		m := (*queue)[0]
		*queue = (*queue)[1:]
		for _, inst := range instances {
			inst.Handle(m.ty, m.round, m.v, m.sender)
		}
	}
}

func newAgreementCluster(t *testing.T, n, bt int) ([]*Instance, []VK, *[]busMsg) {
	t.Helper()
	queue := &[]busMsg{}
	seed := []byte("common externalized coin seed")
	vks := make([]VK, n)
	for i := range vks {
		vk, _, err := xcrypto.GenerateKeypair()
		if err != nil {
			t.Fatalf("keypair: %v", err)
		}
		vks[i] = vk
	}
	instances := make([]*Instance, n)
	for i := 0; i < n; i++ {
		instances[i] = NewInstance(vks[i], n, bt, busNet{queue: queue, self: vks[i]}, xcrypto.NewCoinTape(seed))
	}
	return instances, vks, queue
}

func TestMo14UnanimousInputDecidesThatValue(t *testing.T) {
	n, bt := 4, 1
	instances, _, queue := newAgreementCluster(t, n, bt)

	for _, inst := range instances {
		inst.Start(1)
	}
	runToQuiescence(t, queue, instances, 10000)

	for i, inst := range instances {
		v, ok := inst.Decided()
		if !ok {
			t.Fatalf("instance %d never decided", i)
		}
		if v != 1 {
			t.Fatalf("instance %d decided %d, want 1 (validity: unanimous input must decide that value)", i, v)
		}
	}
}

func TestMo14AllDecideSameValueUnderSplitInput(t *testing.T) {
	n, bt := 4, 1
	instances, _, queue := newAgreementCluster(t, n, bt)

	inputs := []int{0, 1, 0, 1}
	for i, inst := range instances {
		inst.Start(inputs[i])
	}
	runToQuiescence(t, queue, instances, 20000)

	var decidedVal int
	for i, inst := range instances {
		v, ok := inst.Decided()
		if !ok {
			t.Fatalf("instance %d never decided", i)
		}
		if i == 0 {
			decidedVal = v
		} else if v != decidedVal {
			t.Fatalf("agreement violated: instance %d decided %d, instance 0 decided %d", i, v, decidedVal)
		}
	}
}

func TestMo14DropsMessagesBelowCurrentRound(t *testing.T) {
	n, bt := 4, 1
	instances, vks, _ := newAgreementCluster(t, n, bt)
	inst := instances[0]
	inst.Start(0) // round becomes 1

	// A message tagged round 0 must be dropped (not replayed, not acted on).
	r := inst.Handle(EstMsg, 0, 1, vks[1])
	if !r.IsHandled() {
		t.Fatalf("expected stale-round message to be silently handled, got %v", r)
	}
	if _, decided := inst.Decided(); decided {
		t.Fatalf("stale message must not cause a decision")
	}
}

func TestMo14AsksReplayForFutureRound(t *testing.T) {
	n, bt := 4, 1
	instances, vks, _ := newAgreementCluster(t, n, bt)
	inst := instances[0]
	inst.Start(0) // round becomes 1

	r := inst.Handle(EstMsg, 5, 1, vks[1])
	if !r.IsReplay() {
		t.Fatalf("expected future-round message to be replayed, got %v", r)
	}
}

func TestMo14IgnoresMessagesAfterDeciding(t *testing.T) {
	n, bt := 4, 1
	instances, _, queue := newAgreementCluster(t, n, bt)
	for _, inst := range instances {
		inst.Start(1)
	}
	runToQuiescence(t, queue, instances, 10000)

	inst := instances[0]
	before, _ := inst.Decided()
	r := inst.Handle(EstMsg, inst.Round(), 0, instances[1].selfVK)
	if !r.IsHandled() {
		t.Fatalf("expected stopped instance to report Handled no-op, got %v", r)
	}
	after, _ := inst.Decided()
	if before != after {
		t.Fatalf("decided value changed after stopping")
	}
}
