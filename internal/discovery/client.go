// Package discovery implements the node-side consumer of spec.md §6's
// bootstrap/discovery collaborator: dial a configured discovery address,
// register this node's (vk, bind_addr), and receive back the vk->addr
// peer table plus one Instruction. The discovery service itself is out of
// scope (spec.md §1 Non-goals); this package only implements the client
// half.
//
// The dial-register-await-reply shape and its JSON wire bodies follow the
// teacher's node/config.go idiom of flat JSON-tagged structs for anything
// crossing a process boundary outside the consensus wire protocol proper.
package discovery

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"trustchain.dev/trustchain/internal/config"
	"trustchain.dev/trustchain/internal/dispatch"
	"trustchain.dev/trustchain/internal/xcrypto"
)

// PeerEntry is one row of the vk -> host:port table the discovery service
// hands back (spec.md §6).
type PeerEntry struct {
	VK   string `json:"vk"` // base64, matches the node's own vk exposure (§6)
	Addr string `json:"addr"`
}

// registerBody is this node's Discover request payload.
type registerBody struct {
	VK         string `json:"vk"`
	BindAddr   string `json:"bind_addr"`
	Population int    `json:"population"`
	Threshold  int    `json:"threshold"`
}

// replyBody is the discovery service's DiscoverReply payload.
type replyBody struct {
	Peers       []PeerEntry        `json:"peers"`
	Instruction config.Instruction `json:"instruction"`
}

// EncodeVK/DecodeVK match spec.md §6's "own vk (base64)" node exposure.
func EncodeVK(vk xcrypto.VK) string { return base64.StdEncoding.EncodeToString(vk[:]) }

func DecodeVK(s string) (xcrypto.VK, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return xcrypto.VK{}, fmt.Errorf("discovery: bad vk base64: %w", err)
	}
	if len(b) != len(xcrypto.VK{}) {
		return xcrypto.VK{}, fmt.Errorf("discovery: vk wrong length: %d", len(b))
	}
	var vk xcrypto.VK
	copy(vk[:], b)
	return vk, nil
}

// Client is a single-use discovery registration session.
type Client struct {
	conn net.Conn
}

// Dial connects to the discovery address, registers this node, and
// returns once it has received the peer table and Instruction.
func Dial(addr string, vk xcrypto.VK, bindAddr string, cfg config.Config, timeout time.Duration) ([]PeerEntry, config.Instruction, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, config.Instruction{}, fmt.Errorf("discovery: dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	body := registerBody{
		VK:         EncodeVK(vk),
		BindAddr:   bindAddr,
		Population: cfg.Population,
		Threshold:  cfg.Threshold,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, config.Instruction{}, fmt.Errorf("discovery: marshal register: %w", err)
	}
	if err := dispatch.WriteEnvelope(conn, dispatch.Envelope{Tag: dispatch.TagDiscover, Payload: payload}); err != nil {
		return nil, config.Instruction{}, fmt.Errorf("discovery: send Discover: %w", err)
	}

	env, rerr := dispatch.ReadEnvelope(conn)
	if rerr != nil {
		return nil, config.Instruction{}, fmt.Errorf("discovery: read DiscoverReply: %w", rerr)
	}
	if env.Tag != dispatch.TagDiscoverReply {
		return nil, config.Instruction{}, fmt.Errorf("discovery: expected DiscoverReply, got %s", env.Tag)
	}
	var reply replyBody
	if err := json.Unmarshal(env.Payload, &reply); err != nil {
		return nil, config.Instruction{}, fmt.Errorf("discovery: unmarshal DiscoverReply: %w", err)
	}
	if err := config.ValidateInstruction(reply.Instruction); err != nil {
		return nil, config.Instruction{}, fmt.Errorf("discovery: invalid instruction: %w", err)
	}
	return reply.Peers, reply.Instruction, nil
}

// ResolveVKs decodes a peer table's vk strings, skipping malformed rows
// (a malformed single row should not fail the whole bootstrap).
func ResolveVKs(peers []PeerEntry) map[xcrypto.VK]string {
	out := make(map[xcrypto.VK]string, len(peers))
	for _, p := range peers {
		vk, err := DecodeVK(p.VK)
		if err != nil {
			continue
		}
		out[vk] = p.Addr
	}
	return out
}
