package sip

import (
	"encoding/binary"
	"net"
)

// Payload lengths of fixed-size command and event bodies.
const (
	CmdWriteMemoryLen = 8
	CmdBootupLen      = 8
	CmdInitLen        = 1 + PHYInitLen
	CmdConfigLen      = 8
	CmdSetSTALen      = 18
	CmdLoopbackLen    = 12
	EvtBootupLen      = 16
	EvtCoexStateLen   = 8

	PHYInitLen = 128
)

// Functions is the bitmap of coprocessor functions the host brings up.
type Functions uint8

const (
	FuncWiFi Functions = 1 << iota
	FuncBT
)

func (f Functions) WiFi() bool { return f&FuncWiFi != 0 }
func (f Functions) BT() bool   { return f&FuncBT != 0 }

func (f Functions) String() string {
	switch f & (FuncWiFi | FuncBT) {
	case FuncWiFi:
		return "wifi"
	case FuncBT:
		return "bt"
	case FuncWiFi | FuncBT:
		return "wifi+bt"
	}
	return "none"
}

// WriteMemory precedes each chunk of a memory write.
type WriteMemory struct {
	Addr uint32
	Len  uint32
}

func (c *WriteMemory) Put(dst []byte) {
	_ = dst[CmdWriteMemoryLen-1]
	binary.LittleEndian.PutUint32(dst[0:], c.Addr)
	binary.LittleEndian.PutUint32(dst[4:], c.Len)
}

func DecodeWriteMemory(b []byte) (c WriteMemory) {
	_ = b[CmdWriteMemoryLen-1]
	c.Addr = binary.LittleEndian.Uint32(b[0:])
	c.Len = binary.LittleEndian.Uint32(b[4:])
	return c
}

// Bootup tells the target to jump to the loaded image entry point.
type Bootup struct {
	BootAddr    uint32
	DiscardLink uint32
}

func (c *Bootup) Put(dst []byte) {
	_ = dst[CmdBootupLen-1]
	binary.LittleEndian.PutUint32(dst[0:], c.BootAddr)
	binary.LittleEndian.PutUint32(dst[4:], c.DiscardLink)
}

func DecodeBootup(b []byte) (c Bootup) {
	_ = b[CmdBootupLen-1]
	c.BootAddr = binary.LittleEndian.Uint32(b[0:])
	c.DiscardLink = binary.LittleEndian.Uint32(b[4:])
	return c
}

// Init is sent in answer to TARGET_ON.
type Init struct {
	Functions Functions
	PHYInit   [PHYInitLen]byte
}

func (c *Init) Put(dst []byte) {
	_ = dst[CmdInitLen-1]
	dst[0] = byte(c.Functions)
	copy(dst[1:], c.PHYInit[:])
}

func DecodeInit(b []byte) (c Init) {
	_ = b[CmdInitLen-1]
	c.Functions = Functions(b[0])
	copy(c.PHYInit[:], b[1:])
	return c
}

// ChannelConfig sets the operating channel.
type ChannelConfig struct {
	CenterFreq  uint16
	Duration    uint16
	ChannelType uint32
}

func (c *ChannelConfig) Put(dst []byte) {
	_ = dst[CmdConfigLen-1]
	binary.LittleEndian.PutUint16(dst[0:], c.CenterFreq)
	binary.LittleEndian.PutUint16(dst[2:], c.Duration)
	binary.LittleEndian.PutUint32(dst[4:], c.ChannelType)
}

// SetSTA adds (Set=1) or removes (Set=0) a station.
type SetSTA struct {
	IfIdx        uint8
	Index        uint8
	Set          uint8
	PhyMode      uint8
	MAC          [6]byte
	AID          uint16
	AMPDUFactor  uint8
	AMPDUDensity uint8
	RSSI         uint16
	MaxRate      uint8
	IsSigTest    uint8
}

func (c *SetSTA) Put(dst []byte) {
	_ = dst[CmdSetSTALen-1]
	dst[0] = c.IfIdx
	dst[1] = c.Index
	dst[2] = c.Set
	dst[3] = c.PhyMode
	copy(dst[4:10], c.MAC[:])
	binary.LittleEndian.PutUint16(dst[10:], c.AID)
	dst[12] = c.AMPDUFactor
	dst[13] = c.AMPDUDensity
	binary.LittleEndian.PutUint16(dst[14:], c.RSSI)
	dst[16] = c.MaxRate
	dst[17] = c.IsSigTest
}

// SetSTASet returns the set field of a raw SETSTA payload.
func SetSTASet(payload []byte) (set uint8, ok bool) {
	if len(payload) < 3 {
		return 0, false
	}
	return payload[2], true
}

// Loopback requests the target echo packets back.
type Loopback struct {
	TxLen  uint32
	RxLen  uint32
	PackID uint32
}

func (c *Loopback) Put(dst []byte) {
	_ = dst[CmdLoopbackLen-1]
	binary.LittleEndian.PutUint32(dst[0:], c.TxLen)
	binary.LittleEndian.PutUint32(dst[4:], c.RxLen)
	binary.LittleEndian.PutUint32(dst[8:], c.PackID)
}

// BootInfo is the body of the BOOTUP event that ends the boot handshake.
type BootInfo struct {
	TxBlockSize     uint16
	MAC             [6]byte
	RxBlockSize     uint16
	CreditToReserve uint8
	Options         uint8
	NoiseFloor      int16
	MACType         uint8
}

func DecodeBootInfo(b []byte) (e BootInfo) {
	_ = b[EvtBootupLen-1]
	e.TxBlockSize = binary.LittleEndian.Uint16(b[0:])
	copy(e.MAC[:], b[2:8])
	e.RxBlockSize = binary.LittleEndian.Uint16(b[8:])
	e.CreditToReserve = b[10]
	e.Options = b[11]
	e.NoiseFloor = int16(binary.LittleEndian.Uint16(b[12:]))
	e.MACType = b[14]
	return e
}

func (e *BootInfo) Put(dst []byte) {
	_ = dst[EvtBootupLen-1]
	binary.LittleEndian.PutUint16(dst[0:], e.TxBlockSize)
	copy(dst[2:8], e.MAC[:])
	binary.LittleEndian.PutUint16(dst[8:], e.RxBlockSize)
	dst[10] = e.CreditToReserve
	dst[11] = e.Options
	binary.LittleEndian.PutUint16(dst[12:], uint16(e.NoiseFloor))
	dst[14] = e.MACType
	dst[15] = 0
}

func (e *BootInfo) HardwareAddr() net.HardwareAddr { return net.HardwareAddr(e.MAC[:]) }

// CoexState reports the coexistence arbiter state of each radio user.
type CoexState struct {
	WiFi uint16
	BLE  uint16
	BT   uint16
}

func DecodeCoexState(b []byte) (e CoexState) {
	_ = b[EvtCoexStateLen-1]
	e.WiFi = binary.LittleEndian.Uint16(b[0:])
	e.BLE = binary.LittleEndian.Uint16(b[2:])
	e.BT = binary.LittleEndian.Uint16(b[4:])
	return e
}

func (e *CoexState) Put(dst []byte) {
	_ = dst[EvtCoexStateLen-1]
	binary.LittleEndian.PutUint16(dst[0:], e.WiFi)
	binary.LittleEndian.PutUint16(dst[2:], e.BLE)
	binary.LittleEndian.PutUint16(dst[4:], e.BT)
	binary.LittleEndian.PutUint16(dst[6:], 0)
}
