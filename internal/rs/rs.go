// Package rs wraps github.com/klauspost/reedsolomon to provide the
// erasure-coded fragment encode/reconstruct step spec.md §4.1 and §4.3
// require for Bracha dispersal: (k, m) Reed-Solomon with k = n - 2t data
// shards and m = 2t parity shards, any k of the n total fragments
// sufficing for recovery.
package rs

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Params holds the (k, m) shard counts derived from the committee size n
// and Byzantine bound t (spec.md §4.1: k = n - 2t, m = 2t).
type Params struct {
	K int // data shards
	M int // parity shards
}

func NewParams(n, t int) (Params, error) {
	k := n - 2*t
	m := 2 * t
	if k <= 0 {
		return Params{}, fmt.Errorf("rs: n=%d t=%d yields non-positive k=%d", n, t, k)
	}
	return Params{K: k, M: m}, nil
}

func (p Params) N() int { return p.K + p.M }

// Encode splits payload into N = K+M fragments, any K of which suffice to
// recover the original bytes via Reconstruct. Fragment sizing/padding is
// decoder-determined (spec.md §4.1): the payload length is not stored in
// the fragments, so the caller passes it to Reconstruct as origLen.
func Encode(params Params, payload []byte) ([][]byte, error) {
	enc, err := reedsolomon.New(params.K, params.M)
	if err != nil {
		return nil, fmt.Errorf("rs: new encoder: %w", err)
	}
	shards, err := enc.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("rs: split: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("rs: encode: %w", err)
	}
	return shards, nil
}

// Reconstruct rebuilds the original payload from a (possibly partial,
// possibly nil-padded) set of fragments. fragments[i] == nil means
// "fragment i unavailable." origLen is the exact byte length to truncate
// to, since reedsolomon pads the last data shard.
func Reconstruct(params Params, fragments [][]byte, origLen int) ([]byte, error) {
	if len(fragments) != params.N() {
		return nil, fmt.Errorf("rs: expected %d fragments, got %d", params.N(), len(fragments))
	}
	enc, err := reedsolomon.New(params.K, params.M)
	if err != nil {
		return nil, fmt.Errorf("rs: new encoder: %w", err)
	}
	shards := make([][]byte, len(fragments))
	copy(shards, fragments)
	needsReconstruct := false
	for _, s := range shards {
		if s == nil {
			needsReconstruct = true
			break
		}
	}
	if !needsReconstruct {
		if ok, err := enc.Verify(shards); err != nil || !ok {
			needsReconstruct = true
		}
	}
	if needsReconstruct {
		if err := enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("rs: reconstruct: %w", err)
		}
	}
	out := make([]byte, 0, origLen)
	for _, s := range shards[:params.K] {
		out = append(out, s...)
	}
	if len(out) < origLen {
		return nil, fmt.Errorf("rs: reconstructed %d bytes, want at least %d", len(out), origLen)
	}
	return out[:origLen], nil
}

// CountAvailable reports how many non-nil fragments are present.
func CountAvailable(fragments [][]byte) int {
	n := 0
	for _, f := range fragments {
		if f != nil {
			n++
		}
	}
	return n
}
