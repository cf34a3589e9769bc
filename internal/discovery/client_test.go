package discovery

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"trustchain.dev/trustchain/internal/config"
	"trustchain.dev/trustchain/internal/dispatch"
	"trustchain.dev/trustchain/internal/xcrypto"
)

func TestDialRegistersAndReceivesPeerTable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	vk, _, err := xcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	peerVK, _, err := xcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()

		env, rerr := dispatch.ReadEnvelope(conn)
		if rerr != nil {
			serverDone <- rerr
			return
		}
		if env.Tag != dispatch.TagDiscover {
			serverDone <- nil
			return
		}

		reply := replyBody{
			Peers:       []PeerEntry{{VK: EncodeVK(peerVK), Addr: "127.0.0.1:9001"}},
			Instruction: config.Instruction{Kind: config.InstructionTx, Delay: 5},
		}
		payload, err := json.Marshal(reply)
		if err != nil {
			serverDone <- err
			return
		}
		err = dispatch.WriteEnvelope(conn, dispatch.Envelope{Tag: dispatch.TagDiscoverReply, Payload: payload})
		serverDone <- err
	}()

	cfg := config.DefaultConfig()
	peers, instr, err := Dial(ln.Addr().String(), vk, "127.0.0.1:9000", cfg, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server: %v", err)
	}
	if len(peers) != 1 || peers[0].Addr != "127.0.0.1:9001" {
		t.Fatalf("unexpected peer table: %+v", peers)
	}
	if instr.Kind != config.InstructionTx || instr.Delay != 5 {
		t.Fatalf("unexpected instruction: %+v", instr)
	}

	resolved := ResolveVKs(peers)
	if resolved[peerVK] != "127.0.0.1:9001" {
		t.Fatalf("expected resolved vk table to include peer, got %+v", resolved)
	}
}

func TestDialRejectsInvalidInstruction(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	vk, _, err := xcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, rerr := dispatch.ReadEnvelope(conn); rerr != nil {
			return
		}
		reply := replyBody{Instruction: config.Instruction{Kind: "not-a-kind"}}
		payload, _ := json.Marshal(reply)
		_ = dispatch.WriteEnvelope(conn, dispatch.Envelope{Tag: dispatch.TagDiscoverReply, Payload: payload})
	}()

	cfg := config.DefaultConfig()
	_, _, err = Dial(ln.Addr().String(), vk, "127.0.0.1:9000", cfg, 2*time.Second)
	if err == nil {
		t.Fatalf("expected an error for an invalid instruction kind")
	}
}
