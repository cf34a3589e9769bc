package chainstore

import (
	"fmt"

	"trustchain.dev/trustchain/core/chain"
)

// SaveBlock is a convenience wrapper callers invoke once per chain append,
// mirroring the teacher's PutHeader/PutBlockBytes write-through-on-append
// idiom.
func (d *DB) SaveBlock(b chain.Block) error {
	return d.PutBlock(b)
}

// RestoreChain rebuilds an in-memory *chain.Chain from durable storage,
// seq 0 (genesis) through the highest stored seq. Returns an error if any
// seq in [0, len) is missing, since the chain must be a contiguous
// sequence (spec.md §3).
func (d *DB) RestoreChain() (*chain.Chain, error) {
	n, err := d.LoadChainLen()
	if err != nil {
		return nil, fmt.Errorf("chainstore: load chain length: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("chainstore: no genesis block stored")
	}
	genesisBlock, ok, err := d.GetBlock(0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("chainstore: missing genesis block")
	}
	genesisCP, ok := genesisBlock.(*chain.CpBlock)
	if !ok {
		return nil, fmt.Errorf("chainstore: seq 0 is not a CpBlock")
	}
	c := chain.NewChainFromGenesis(genesisCP)
	for seq := uint64(1); seq < n; seq++ {
		b, ok, err := d.GetBlock(seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("chainstore: missing block at seq %d", seq)
		}
		var r interface {
			IsErr() bool
		}
		switch block := b.(type) {
		case *chain.TxBlock:
			r = c.AppendTx(block)
		case *chain.CpBlock:
			r = c.AppendCP(block)
		}
		if r != nil && r.IsErr() {
			return nil, fmt.Errorf("chainstore: restore seq %d: linkage rejected", seq)
		}
	}
	return c, nil
}
