package chainstore

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"trustchain.dev/trustchain/core/chain"
)

var (
	bucketBlocks     = []byte("blocks_by_seq")
	bucketBlockKind  = []byte("block_kind_by_seq") // 0 = TxBlock, 1 = CpBlock
	bucketCons       = []byte("cons_by_round")
	bucketFragments  = []byte("fragments_by_counterparty_seq")
)

// DB is the durable backing store for one node's TrustChain.
type DB struct {
	nodeDir string
	db      *bolt.DB
}

// Open opens (creating if absent) the bbolt store under
// NodeDir(datadir, vk).
func Open(datadir string, vk chain.VK) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("chainstore: datadir required")
	}
	dir := NodeDir(datadir, vk)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "chain.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("chainstore: open bbolt: %w", err)
	}
	d := &DB{nodeDir: dir, db: bdb}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketBlockKind, bucketCons, bucketFragments} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("chainstore: create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) NodeDir() string { return d.nodeDir }

const (
	blockKindTx byte = 0
	blockKindCP byte = 1
)

// PutBlock durably appends one chain block at its own seq.
func (d *DB) PutBlock(block chain.Block) error {
	seq := block.BlockSeq()
	key := seqKey(seq)
	var kind byte
	var encoded []byte
	switch b := block.(type) {
	case *chain.TxBlock:
		kind = blockKindTx
		encoded = b.Encode()
	case *chain.CpBlock:
		kind = blockKindCP
		encoded = b.Encode()
	default:
		return fmt.Errorf("chainstore: unknown block type at seq %d", seq)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put(key, encoded); err != nil {
			return err
		}
		return tx.Bucket(bucketBlockKind).Put(key, []byte{kind})
	})
}

// GetBlock loads one chain block by seq.
func (d *DB) GetBlock(seq uint64) (chain.Block, bool, error) {
	key := seqKey(seq)
	var kind []byte
	var encoded []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		kind = tx.Bucket(bucketBlockKind).Get(key)
		encoded = tx.Bucket(bucketBlocks).Get(key)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if kind == nil || encoded == nil {
		return nil, false, nil
	}
	switch kind[0] {
	case blockKindTx:
		b, err := chain.DecodeTxBlock(encoded)
		if err != nil {
			return nil, false, fmt.Errorf("chainstore: decode tx at seq %d: %w", seq, err)
		}
		return b, true, nil
	case blockKindCP:
		b, err := chain.DecodeCpBlock(encoded)
		if err != nil {
			return nil, false, fmt.Errorf("chainstore: decode cp at seq %d: %w", seq, err)
		}
		return b, true, nil
	default:
		return nil, false, fmt.Errorf("chainstore: unknown block kind %d at seq %d", kind[0], seq)
	}
}

// LoadChainLen returns the number of blocks stored. This equals one past
// the highest seq only when the stored seqs are contiguous from 0; gaps are
// not detected here.
func (d *DB) LoadChainLen() (uint64, error) {
	var n uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlockKind).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// PutCons durably records a round's Cons.
func (d *DB) PutCons(c chain.Cons) error {
	key := seqKey(c.Round)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCons).Put(key, c.Encode())
	})
}

// GetCons loads the Cons recorded for a round, if any.
func (d *DB) GetCons(round uint64) (chain.Cons, bool, error) {
	key := seqKey(round)
	var encoded []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		encoded = tx.Bucket(bucketCons).Get(key)
		return nil
	})
	if err != nil {
		return chain.Cons{}, false, err
	}
	if encoded == nil {
		return chain.Cons{}, false, nil
	}
	c, err := chain.DecodeCons(encoded)
	if err != nil {
		return chain.Cons{}, false, fmt.Errorf("chainstore: decode cons for round %d: %w", round, err)
	}
	return c, true, nil
}

// PutFragment stores one counterparty fragment-cache entry (spec.md §4.7).
func (d *DB) PutFragment(counterparty chain.VK, cb chain.CompactBlock) error {
	key := fragmentKey(counterparty, cb.Seq)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFragments).Put(key, cb.Encode())
	})
}

// GetFragment loads one counterparty fragment-cache entry, if present.
func (d *DB) GetFragment(counterparty chain.VK, seq uint64) (chain.CompactBlock, bool, error) {
	key := fragmentKey(counterparty, seq)
	var encoded []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		encoded = tx.Bucket(bucketFragments).Get(key)
		return nil
	})
	if err != nil {
		return chain.CompactBlock{}, false, err
	}
	if encoded == nil {
		return chain.CompactBlock{}, false, nil
	}
	cb, err := chain.DecodeCompactBlock(encoded)
	if err != nil {
		return chain.CompactBlock{}, false, fmt.Errorf("chainstore: decode fragment: %w", err)
	}
	return cb, true, nil
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func fragmentKey(counterparty chain.VK, seq uint64) []byte {
	key := make([]byte, len(counterparty)+8)
	copy(key, counterparty[:])
	binary.BigEndian.PutUint64(key[len(counterparty):], seq)
	return key
}
