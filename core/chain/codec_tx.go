package chain

import "fmt"

// Encode serialises a TxBlock for durable storage, in the same fixed field
// order as its Hash(): prev, seq, counterparty, nonce, m, followed by the
// owner signature, the validity byte, and (if present) the other half's
// inner value and signature. OtherHalf's own OtherHalf/Validity are not
// recursed into; each node tracks its own half's validity separately.
func (b *TxBlock) Encode() []byte {
	in := b.Inner
	buf := make([]byte, 0, 32+8+32+32+2+len(in.M)+32+2+len(b.Sig.Sig)+1+1)
	buf = append(buf, in.Prev[:]...)
	buf = appendUint64(buf, in.Seq)
	buf = append(buf, in.Counterparty[:]...)
	buf = append(buf, in.Nonce[:]...)
	buf = appendUint16(buf, uint16(len(in.M)))
	buf = append(buf, in.M...)
	buf = append(buf, b.Sig.VK[:]...)
	buf = appendUint16(buf, uint16(len(b.Sig.Sig)))
	buf = append(buf, b.Sig.Sig...)
	buf = append(buf, byte(b.Validity))

	if b.OtherHalf == nil {
		buf = append(buf, 0)
		return buf
	}
	buf = append(buf, 1)
	oh := b.OtherHalf.Inner
	buf = append(buf, oh.Prev[:]...)
	buf = appendUint64(buf, oh.Seq)
	buf = append(buf, oh.Counterparty[:]...)
	buf = append(buf, oh.Nonce[:]...)
	buf = appendUint16(buf, uint16(len(oh.M)))
	buf = append(buf, oh.M...)
	buf = append(buf, b.OtherHalf.Sig.VK[:]...)
	buf = appendUint16(buf, uint16(len(b.OtherHalf.Sig.Sig)))
	buf = append(buf, b.OtherHalf.Sig.Sig...)
	return buf
}

// DecodeTxBlock parses the Encode format. It does not verify signatures.
func DecodeTxBlock(data []byte) (*TxBlock, error) {
	r := &byteReader{buf: data}
	in, err := readTxBlockInner(r)
	if err != nil {
		return nil, err
	}
	sig, err := readSignature(r)
	if err != nil {
		return nil, fmt.Errorf("chain: txblock owner sig: %w", err)
	}
	validity, ok := r.readByte()
	if !ok {
		return nil, fmt.Errorf("chain: short txblock: validity")
	}
	hasOther, ok := r.readByte()
	if !ok {
		return nil, fmt.Errorf("chain: short txblock: other_half flag")
	}
	tx := &TxBlock{Inner: in, Sig: sig, Validity: Validity(validity)}
	if hasOther == 0 {
		return tx, nil
	}
	ohIn, err := readTxBlockInner(r)
	if err != nil {
		return nil, fmt.Errorf("chain: txblock other_half inner: %w", err)
	}
	ohSig, err := readSignature(r)
	if err != nil {
		return nil, fmt.Errorf("chain: txblock other_half sig: %w", err)
	}
	tx.OtherHalf = &TxBlock{Inner: ohIn, Sig: ohSig}
	return tx, nil
}

func readTxBlockInner(r *byteReader) (TxBlockInner, error) {
	var in TxBlockInner
	if !r.read(in.Prev[:]) {
		return in, fmt.Errorf("short: prev")
	}
	seq, ok := r.readUint64()
	if !ok {
		return in, fmt.Errorf("short: seq")
	}
	in.Seq = seq
	if !r.read(in.Counterparty[:]) {
		return in, fmt.Errorf("short: counterparty")
	}
	if !r.read(in.Nonce[:]) {
		return in, fmt.Errorf("short: nonce")
	}
	mLen, ok := r.readUint16()
	if !ok {
		return in, fmt.Errorf("short: m len")
	}
	m := make([]byte, mLen)
	if !r.read(m) {
		return in, fmt.Errorf("short: m bytes")
	}
	in.M = m
	return in, nil
}

func readSignature(r *byteReader) (Signature, error) {
	var vk VK
	if !r.read(vk[:]) {
		return Signature{}, fmt.Errorf("short: vk")
	}
	sigLen, ok := r.readUint16()
	if !ok {
		return Signature{}, fmt.Errorf("short: sig len")
	}
	sig := make([]byte, sigLen)
	if !r.read(sig) {
		return Signature{}, fmt.Errorf("short: sig bytes")
	}
	return Signature{VK: vk, Sig: sig}, nil
}
