// Package chainstore persists one node's TrustChain durably with bbolt:
// its own block sequence, the Cons learned per round, and the per-
// counterparty fragment cache of spec.md §4.7.
//
// The bucket layout and datadir/nodeDir path convention are grounded on
// the teacher's node/store package (_examples' node/store/db.go,
// paths.go), generalised from a UTXO chain's headers/blocks/utxo/undo
// buckets to the three durable maps a TrustChain needs.
package chainstore

import (
	"fmt"
	"os"
	"path/filepath"

	"trustchain.dev/trustchain/internal/xcrypto"
)

// NodeDir returns the on-disk directory for one node's store under datadir.
func NodeDir(datadir string, vk xcrypto.VK) string {
	return filepath.Join(datadir, "nodes", vk.String())
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("chainstore: mkdir %s: %w", path, err)
	}
	return nil
}
