package sip

import "encoding/binary"

// SBPHeaderLen is the size of the header prepended to Bluetooth HCI traffic
// on SDIO function 2.
const SBPHeaderLen = 8

// SBPHeader frames a single HCI packet. Length counts the header.
type SBPHeader struct {
	Length  uint32 // 24 bits.
	Type    uint8  // 2 bits.
	Subtype uint8  // 6 bits.
	Seq     uint32
}

func (h *SBPHeader) Put(dst []byte) {
	_ = dst[SBPHeaderLen-1]
	word := h.Length&0xffffff | uint32(h.Type&0x3)<<24 | uint32(h.Subtype&0x3f)<<26
	binary.LittleEndian.PutUint32(dst[0:], word)
	binary.LittleEndian.PutUint32(dst[4:], h.Seq)
}

func DecodeSBPHeader(b []byte) (h SBPHeader) {
	_ = b[SBPHeaderLen-1]
	word := binary.LittleEndian.Uint32(b[0:])
	h.Length = word & 0xffffff
	h.Type = uint8(word>>24) & 0x3
	h.Subtype = uint8(word>>26) & 0x3f
	h.Seq = binary.LittleEndian.Uint32(b[4:])
	return h
}
