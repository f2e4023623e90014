package sip

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// Direction selects how the flag byte and the 4-byte header union are
// interpreted when decoding.
type Direction uint8

const (
	// ToTarget frames are sent by the host. CTRL frames carry a command ID in the union.
	ToTarget Direction = iota
	// ToHost frames are sent by the coprocessor. CTRL frames carry an event ID
	// in the flag byte and recycled credits in the union.
	ToHost
)

var (
	errShortLength     = errors.New("sip: frame length shorter than header")
	errUnalignedLength = errors.New("sip: frame length not a multiple of 4")
	errInvalidType     = errors.New("sip: invalid frame type")
)

// Header is a decoded SIP frame header. Info holds the interpretation of the
// 4-byte union selected by the frame type and direction: one of
// [CommandInfo], [EventInfo], [DataInfo] or [CreditInfo].
type Header struct {
	IfIdx  uint8
	Type   FrameType
	Flags  Flags
	Length uint16
	Seq    uint32
	Info   Info
}

// Info is the tagged payload of the header union.
type Info interface {
	put(hdr []byte)
	String() string
}

// CommandInfo is the union of host to target CTRL frames.
type CommandInfo struct {
	ID CommandID
}

// EventInfo describes target to host CTRL frames. The event ID lives in the
// flag byte, the union carries credits the target returns.
type EventInfo struct {
	ID      EventID
	Credits uint16
}

// DataInfo is the union of DATA and DATA_AMPDU frames.
type DataInfo struct {
	TID     uint8
	AC      uint8
	P2P     bool
	EncFlag uint8 // 7 bits.
	HWKeyID uint8
}

// CreditInfo is the union of frames that only report recycled credits.
type CreditInfo struct {
	Credits uint16 // 12 bits.
}

func (ci CommandInfo) put(b []byte) { binary.LittleEndian.PutUint32(b[4:8], uint32(ci.ID)) }

func (ei EventInfo) put(b []byte) {
	b[1] = byte(ei.ID)
	binary.LittleEndian.PutUint32(b[4:8], uint32(ei.Credits&0xfff))
}

func (di DataInfo) put(b []byte) {
	b[4] = di.TID
	b[5] = di.AC
	b[6] = di.EncFlag<<1 | b2u8(di.P2P)
	b[7] = di.HWKeyID
}

func (ci CreditInfo) put(b []byte) {
	binary.LittleEndian.PutUint32(b[4:8], uint32(ci.Credits&0xfff))
}

func (ci CommandInfo) String() string { return "cmd=" + ci.ID.String() }
func (ei EventInfo) String() string {
	return "evt=" + ei.ID.String() + " credits=" + strconv.Itoa(int(ei.Credits))
}
func (ci CreditInfo) String() string { return "credits=" + strconv.Itoa(int(ci.Credits)) }
func (di DataInfo) String() string {
	return "tid=" + strconv.Itoa(int(di.TID)) + " ac=" + strconv.Itoa(int(di.AC)) +
		" enc=" + strconv.Itoa(int(di.EncFlag)) + " kid=" + strconv.Itoa(int(di.HWKeyID))
}

// DecodeHeader decodes the first HeaderLen bytes of b. Panics if b is shorter than HeaderLen.
func DecodeHeader(b []byte, dir Direction) (hdr Header) {
	_ = b[HeaderLen-1]
	hdr.IfIdx = b[0] >> 4
	hdr.Type = FrameType(b[0] & 0x0f)
	hdr.Length = binary.LittleEndian.Uint16(b[2:4])
	hdr.Seq = binary.LittleEndian.Uint32(b[8:12])
	union := binary.LittleEndian.Uint32(b[4:8])
	switch {
	case hdr.Type == TypeCtrl && dir == ToHost:
		hdr.Info = EventInfo{ID: EventID(b[1]), Credits: uint16(union & 0xfff)}
		return hdr // Flag byte is the event ID.
	case hdr.Type == TypeCtrl:
		hdr.Info = CommandInfo{ID: CommandID(union)}
	case hdr.Type.IsData():
		hdr.Info = DataInfo{
			TID:     b[4],
			AC:      b[5],
			P2P:     b[6]&1 != 0,
			EncFlag: b[6] >> 1,
			HWKeyID: b[7],
		}
	default:
		hdr.Info = CreditInfo{Credits: uint16(union & 0xfff)}
	}
	hdr.Flags = Flags(b[1])
	return hdr
}

// Put encodes the header into the first HeaderLen bytes of dst. Panics if dst is too short.
func (h *Header) Put(dst []byte) {
	_ = dst[HeaderLen-1]
	dst[0] = h.IfIdx<<4 | byte(h.Type&0x0f)
	dst[1] = byte(h.Flags)
	binary.LittleEndian.PutUint16(dst[2:4], h.Length)
	binary.LittleEndian.PutUint32(dst[4:8], 0)
	if h.Info != nil {
		h.Info.put(dst)
	}
	binary.LittleEndian.PutUint32(dst[8:12], h.Seq)
}

// Validate checks the length and type invariants every frame must hold.
func (h *Header) Validate() error {
	switch {
	case h.Length < HeaderLen:
		return errShortLength
	case !isaligned(h.Length, 4):
		return errUnalignedLength
	case !h.Type.IsValid():
		return errInvalidType
	}
	return nil
}

// Command returns the command ID of a host to target CTRL header.
func (h *Header) Command() (CommandID, bool) {
	ci, ok := h.Info.(CommandInfo)
	return ci.ID, ok
}

// Event returns the event ID of a target to host CTRL header.
func (h *Header) Event() (EventID, bool) {
	ei, ok := h.Info.(EventInfo)
	return ei.ID, ok
}

func (h Header) String() string {
	s := "sip " + h.Type.String() + " len=" + strconv.Itoa(int(h.Length)) + " seq=" + strconv.FormatUint(uint64(h.Seq), 10)
	if h.IfIdx != 0 {
		s += " if=" + strconv.Itoa(int(h.IfIdx))
	}
	if h.Info != nil {
		s += " " + h.Info.String()
	}
	return s
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
