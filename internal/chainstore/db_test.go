package chainstore

import (
	"testing"

	"trustchain.dev/trustchain/core/chain"
	"trustchain.dev/trustchain/internal/xcrypto"
)

func mustKeypair(t *testing.T) (chain.VK, chain.SK) {
	t.Helper()
	vk, sk, err := xcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return vk, sk
}

func TestPutGetBlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vk, sk := mustKeypair(t)
	db, err := Open(dir, vk)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	genesisInner := chain.CpBlockInner{Prev: chain.GenesisPrev(), Seq: 0, Round: 0, P: 1}
	genesis := &chain.CpBlock{Inner: genesisInner, S: chain.SignDigest(sk, vk, genesisInner.Hash())}
	if err := db.PutBlock(genesis); err != nil {
		t.Fatalf("put genesis: %v", err)
	}

	txInner := chain.TxBlockInner{Prev: genesis.CompactHash(), Seq: 1, Counterparty: vk, M: []byte("hi")}
	tx := &chain.TxBlock{Inner: txInner, Sig: chain.SignDigest(sk, vk, txInner.Hash())}
	if err := db.PutBlock(tx); err != nil {
		t.Fatalf("put tx: %v", err)
	}

	got, ok, err := db.GetBlock(1)
	if err != nil || !ok {
		t.Fatalf("get tx: ok=%v err=%v", ok, err)
	}
	gotTx, ok := got.(*chain.TxBlock)
	if !ok {
		t.Fatalf("expected *chain.TxBlock, got %T", got)
	}
	if gotTx.Inner.Hash() != tx.Inner.Hash() {
		t.Fatalf("tx hash mismatch after round trip")
	}

	n, err := db.LoadChainLen()
	if err != nil {
		t.Fatalf("load chain len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected chain len 2, got %d", n)
	}
}

func TestRestoreChainRebuildsContiguousChain(t *testing.T) {
	dir := t.TempDir()
	vk, sk := mustKeypair(t)
	db, err := Open(dir, vk)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	genesisInner := chain.CpBlockInner{Prev: chain.GenesisPrev(), Seq: 0, Round: 0, P: 1}
	genesis := &chain.CpBlock{Inner: genesisInner, S: chain.SignDigest(sk, vk, genesisInner.Hash())}
	if err := db.PutBlock(genesis); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	txInner := chain.TxBlockInner{Prev: genesis.CompactHash(), Seq: 1, Counterparty: vk}
	tx := &chain.TxBlock{Inner: txInner, Sig: chain.SignDigest(sk, vk, txInner.Hash())}
	if err := db.PutBlock(tx); err != nil {
		t.Fatalf("put tx: %v", err)
	}

	restored, err := db.RestoreChain()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected restored chain len 2, got %d", restored.Len())
	}
	block, ok := restored.At(1)
	if !ok || block.CompactHash() != tx.CompactHash() {
		t.Fatalf("restored tx does not match original")
	}
}

func TestConsAndFragmentPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	vk, sk := mustKeypair(t)
	db, err := Open(dir, vk)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	cpInner := chain.CpBlockInner{Prev: chain.GenesisPrev(), Seq: 0, Round: 1, P: 1}
	cp := chain.CpBlock{Inner: cpInner, S: chain.SignDigest(sk, vk, cpInner.Hash())}
	cons := chain.Cons{Round: 1, Blocks: []chain.CpBlock{cp}}
	if err := db.PutCons(cons); err != nil {
		t.Fatalf("put cons: %v", err)
	}

	other, _ := mustKeypair(t)
	round := uint64(1)
	frag := chain.CompactBlock{Digest: chain.GenesisPrev(), Prev: chain.GenesisPrev(), Seq: 3, AgreedRound: &round}
	if err := db.PutFragment(other, frag); err != nil {
		t.Fatalf("put fragment: %v", err)
	}
	db.Close()

	db2, err := Open(dir, vk)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	gotCons, ok, err := db2.GetCons(1)
	if err != nil || !ok {
		t.Fatalf("get cons after reopen: ok=%v err=%v", ok, err)
	}
	if !gotCons.Equal(cons) {
		t.Fatalf("cons mismatch after reopen")
	}

	gotFrag, ok, err := db2.GetFragment(other, 3)
	if err != nil || !ok {
		t.Fatalf("get fragment after reopen: ok=%v err=%v", ok, err)
	}
	if gotFrag.Digest != frag.Digest || gotFrag.AgreedRound == nil || *gotFrag.AgreedRound != round {
		t.Fatalf("fragment mismatch after reopen")
	}
}
