package sdio

// Function is an SDIO function number.
type Function uint8

const (
	// FuncCCCR addresses the common card registers.
	FuncCCCR Function = 0
	// FuncWiFi carries SIP frames and the SLC host registers.
	FuncWiFi Function = 1
	// FuncBT carries SBP framed Bluetooth HCI traffic.
	FuncBT Function = 2
)

func (f Function) String() string {
	switch f {
	case FuncCCCR:
		return "cccr"
	case FuncWiFi:
		return "wifi"
	case FuncBT:
		return "bt"
	}
	return "func?"
}

// BlockSize is the only CMD53 block size the slave supports.
const BlockSize = 512

// CMD53EndAddr is the end of the slave's function 1 packet window. Packets
// of length n are transferred at CMD53EndAddr-n so the slave derives the
// length from the address.
const CMD53EndAddr = 0x1f800

// SLC host register addresses on function 1.
const (
	RegTokenRData = 0x044
	RegIntRaw     = 0x050
	RegIntRaw1    = 0x054
	RegIntSt      = 0x058
	RegIntSt1     = 0x05c
	RegPktLen     = 0x060
	RegStateW0    = 0x064
	RegStateW1    = 0x068
	RegConfigW0   = 0x06c
	RegConfigW1   = 0x070
	RegConfigW5   = 0x080
	RegWinCmd     = 0x084
	RegSLC1HostPF = 0x0c8
	RegSLC0IntClr = 0x0d4
	RegSLC1IntClr = 0x0d8
	RegFunc1IntEn = 0x0dc
)

// Interrupt bits of the words returned by [Host.Interrupts].
const (
	// IntSLC0RxNewPacket in the first word: a SIP packet is ready on function 1.
	IntSLC0RxNewPacket uint32 = 1 << 23
	// IntSLC1BTRxNewPacket in the second word: an HCI packet is ready on function 2.
	IntSLC1BTRxNewPacket uint32 = 1 << 25
	// IntSLC1ToHostBit0 in the second word: the target changed CONFIG_W1,
	// bit 0 of which grants the host permission to send BT traffic.
	IntSLC1ToHostBit0 uint32 = 1 << 0
)

// Slave registers reached through the register window.
const (
	slcConf1Reg    = 0x060
	slc0LenConfReg = 0x0e4

	slc0RxStitchEn      = 1 << 6
	slc0TxStitchEn      = 1 << 5
	slc0TxPacketLoadEn  = 1 << 24
	fn1GPIOSDIOIntEna   = 1 << 12
	regWindowMaxWordIdx = 0x7f
)

// Token and byte counters, see [Host.BufferSize].
const (
	sendOffset   = 16
	txBufferMax  = 0x1000
	txBufferMask = 0xfff
	rxByteMax    = 0x100000
	rxByteMask   = 0xfffff
)

// CCCR registers.
const (
	cccrFnEnable  = 0x02
	cccrIntEnable = 0x04
	cccrBusWidth  = 0x07
	cccrBlkSizeL  = 0x10
	cccrBlkSizeH  = 0x11
	cccrFBROffset = 0x100 // FBR of function n at n*cccrFBROffset.

	busWidthECSI = 0x20
)
