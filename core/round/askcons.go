package round

// RandomPeerSelector abstracts the core's "random-peer selector" primitive
// (spec.md §1) used to pick a promoter to poll.
type RandomPeerSelector interface {
	RandomPeer(candidates []VK) VK
}

// AskConsPoller implements spec.md §4.6's missing-result recovery: a node
// holding t+1 signatures but no Cons for a round polls a random promoter
// with AskCons(r) on each tick.
type AskConsPoller struct {
	driver   *Driver
	net      Network
	selector RandomPeerSelector
}

func NewAskConsPoller(d *Driver, net Network, selector RandomPeerSelector) *AskConsPoller {
	return &AskConsPoller{driver: d, net: net, selector: selector}
}

// Tick checks round r and sends AskCons if this node is stuck waiting on a
// Cons it should already be able to reconstruct from signatures alone.
func (p *AskConsPoller) Tick(round uint64) {
	if !p.driver.PendingWithoutCons(round) {
		return
	}
	candidates := p.driver.Committee()
	if len(candidates) == 0 {
		return
	}
	target := p.selector.RandomPeer(candidates)
	p.net.SendAskCons(target, round)
}
