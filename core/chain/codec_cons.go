package chain

import "fmt"

// Encode serialises a Cons value as round followed by each CpBlock's own
// Encode() form, length-prefixed, for durable storage of the per-round
// consensus map (spec.md §3's TrustChain.consensus).
func (c Cons) Encode() []byte {
	buf := appendUint64(nil, c.Round)
	buf = appendUint16(buf, uint16(len(c.Blocks)))
	for i := range c.Blocks {
		enc := c.Blocks[i].Encode()
		buf = appendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	return buf
}

// DecodeCons parses the Encode format.
func DecodeCons(data []byte) (Cons, error) {
	r := &byteReader{buf: data}
	round, ok := r.readUint64()
	if !ok {
		return Cons{}, fmt.Errorf("chain: short cons: round")
	}
	count, ok := r.readUint16()
	if !ok {
		return Cons{}, fmt.Errorf("chain: short cons: block count")
	}
	blocks := make([]CpBlock, count)
	for i := range blocks {
		n, ok := r.readUint32()
		if !ok {
			return Cons{}, fmt.Errorf("chain: short cons: block len")
		}
		buf := make([]byte, n)
		if !r.read(buf) {
			return Cons{}, fmt.Errorf("chain: short cons: block bytes")
		}
		cp, err := DecodeCpBlock(buf)
		if err != nil {
			return Cons{}, fmt.Errorf("chain: cons block %d: %w", i, err)
		}
		blocks[i] = *cp
	}
	return Cons{Round: round, Blocks: blocks}, nil
}

// Encode serialises a CompactBlock for the counterparty fragment cache.
func (cb CompactBlock) Encode() []byte {
	buf := make([]byte, 0, 32+32+8+1+8)
	buf = append(buf, cb.Digest[:]...)
	buf = append(buf, cb.Prev[:]...)
	buf = appendUint64(buf, cb.Seq)
	if cb.AgreedRound == nil {
		buf = append(buf, 0)
		return buf
	}
	buf = append(buf, 1)
	buf = appendUint64(buf, *cb.AgreedRound)
	return buf
}

// DecodeCompactBlock parses the Encode format.
func DecodeCompactBlock(data []byte) (CompactBlock, error) {
	r := &byteReader{buf: data}
	var cb CompactBlock
	if !r.read(cb.Digest[:]) {
		return cb, fmt.Errorf("chain: short compactblock: digest")
	}
	if !r.read(cb.Prev[:]) {
		return cb, fmt.Errorf("chain: short compactblock: prev")
	}
	seq, ok := r.readUint64()
	if !ok {
		return cb, fmt.Errorf("chain: short compactblock: seq")
	}
	cb.Seq = seq
	hasRound, ok := r.readByte()
	if !ok {
		return cb, fmt.Errorf("chain: short compactblock: agreed_round flag")
	}
	if hasRound == 0 {
		return cb, nil
	}
	round, ok := r.readUint64()
	if !ok {
		return cb, fmt.Errorf("chain: short compactblock: agreed_round")
	}
	cb.AgreedRound = &round
	return cb, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	return append(buf, b[:]...)
}

func (r *byteReader) readUint32() (uint32, bool) {
	if len(r.buf)-r.pos < 4 {
		return 0, false
	}
	v := uint32(r.buf[r.pos])<<24 | uint32(r.buf[r.pos+1])<<16 | uint32(r.buf[r.pos+2])<<8 | uint32(r.buf[r.pos+3])
	r.pos += 4
	return v, true
}
