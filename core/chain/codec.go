package chain

import (
	"encoding/binary"
	"fmt"
)

// Encode serialises a CpBlock into the fixed field order of §3/§6, suitable
// as the opaque payload carried by one committee member's Bracha instance
// (spec.md §4.5: "promoters run ACS with their checkpoint ... as input").
func (b *CpBlock) Encode() []byte {
	in := b.Inner
	sorted := sortedSignatures(in.SS)

	buf := make([]byte, 0, 32+8+8+32+1+2+len(sorted)*(32+64+2)+32+64)
	buf = append(buf, in.Prev[:]...)
	buf = appendUint64(buf, in.Seq)
	buf = appendUint64(buf, in.Round)
	buf = append(buf, in.ConsHash[:]...)
	buf = append(buf, in.P)
	buf = appendUint16(buf, uint16(len(sorted)))
	for _, s := range sorted {
		buf = append(buf, s.VK[:]...)
		buf = appendUint16(buf, uint16(len(s.Sig)))
		buf = append(buf, s.Sig...)
	}
	buf = append(buf, b.S.VK[:]...)
	buf = appendUint16(buf, uint16(len(b.S.Sig)))
	buf = append(buf, b.S.Sig...)
	return buf
}

// DecodeCpBlock parses the Encode format. It does not verify signatures;
// callers validate via Signature.Verify against the expected digest.
func DecodeCpBlock(data []byte) (*CpBlock, error) {
	r := &byteReader{buf: data}
	var in CpBlockInner
	if !r.read(in.Prev[:]) {
		return nil, fmt.Errorf("chain: short cpblock: prev")
	}
	var ok bool
	in.Seq, ok = r.readUint64()
	if !ok {
		return nil, fmt.Errorf("chain: short cpblock: seq")
	}
	in.Round, ok = r.readUint64()
	if !ok {
		return nil, fmt.Errorf("chain: short cpblock: round")
	}
	if !r.read(in.ConsHash[:]) {
		return nil, fmt.Errorf("chain: short cpblock: cons_hash")
	}
	p, ok := r.readByte()
	if !ok {
		return nil, fmt.Errorf("chain: short cpblock: p")
	}
	in.P = p
	sigCount, ok := r.readUint16()
	if !ok {
		return nil, fmt.Errorf("chain: short cpblock: sig count")
	}
	in.SS = make([]Signature, sigCount)
	for i := range in.SS {
		var vk VK
		if !r.read(vk[:]) {
			return nil, fmt.Errorf("chain: short cpblock: sig vk")
		}
		sigLen, ok := r.readUint16()
		if !ok {
			return nil, fmt.Errorf("chain: short cpblock: sig len")
		}
		sig := make([]byte, sigLen)
		if !r.read(sig) {
			return nil, fmt.Errorf("chain: short cpblock: sig bytes")
		}
		in.SS[i] = Signature{VK: vk, Sig: sig}
	}

	var ownerVK VK
	if !r.read(ownerVK[:]) {
		return nil, fmt.Errorf("chain: short cpblock: owner vk")
	}
	ownerSigLen, ok := r.readUint16()
	if !ok {
		return nil, fmt.Errorf("chain: short cpblock: owner sig len")
	}
	ownerSig := make([]byte, ownerSigLen)
	if !r.read(ownerSig) {
		return nil, fmt.Errorf("chain: short cpblock: owner sig bytes")
	}

	return &CpBlock{Inner: in, S: Signature{VK: ownerVK, Sig: ownerSig}}, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) read(dst []byte) bool {
	if len(r.buf)-r.pos < len(dst) {
		return false
	}
	copy(dst, r.buf[r.pos:])
	r.pos += len(dst)
	return true
}

func (r *byteReader) readByte() (byte, bool) {
	if len(r.buf)-r.pos < 1 {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *byteReader) readUint16() (uint16, bool) {
	if len(r.buf)-r.pos < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, true
}

func (r *byteReader) readUint64() (uint64, bool) {
	if len(r.buf)-r.pos < 8 {
		return 0, false
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, true
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
