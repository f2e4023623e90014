// Package sdio implements packet level access to the coprocessor's SLC
// host interface on top of raw SDIO CMD52/CMD53 transfers.
package sdio

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrTimeout is returned by GetPacket when no data arrives within the wait.
	ErrTimeout = errors.New("sdio: packet wait timeout")
	// ErrNotFinished is returned alongside a truncated packet that did not fit the destination.
	ErrNotFinished = errors.New("sdio: packet larger than buffer")

	errInvalidSize   = errors.New("sdio: block transfer size not multiple of 4")
	errZeroSize      = errors.New("sdio: zero size buffer")
	errRegWindowAddr = errors.New("sdio: register outside window")
	errInitRetries   = errors.New("sdio: init retries exhausted")
)

// Mode selects the CMD53 transfer mode.
type Mode uint8

const (
	// ModeIncrement increments the address during the transfer.
	ModeIncrement Mode = 1 << iota
	// ModeBlock transfers whole blocks of [BlockSize].
	ModeBlock
)

// Card is the SDIO host controller the slave sits on.
type Card interface {
	// GoIdle issues CMD0.
	GoIdle() error
	// ReadDirect issues a CMD52 read.
	ReadDirect(fn Function, addr uint32) (byte, error)
	// WriteDirect issues a CMD52 write and returns the read-after-write value.
	WriteDirect(fn Function, addr uint32, v byte) (byte, error)
	// ReadExtended issues a CMD53 read into dst.
	ReadExtended(fn Function, addr uint32, dst []byte, mode Mode) error
	// WriteExtended issues a CMD53 write of src.
	WriteExtended(fn Function, addr uint32, src []byte, mode Mode) error
	// WaitInterrupt blocks until the card raises its interrupt line.
	WaitInterrupt(ctx context.Context) error
}

// Host tracks the slave's buffer and byte counters. It is not safe for
// concurrent use; callers serialize access.
type Host struct {
	card    Card
	logger  *slog.Logger
	totalTx uint32 // TX buffers consumed, modulo txBufferMax.
	totalRx uint32 // RX bytes consumed, modulo rxByteMax.
	wbuf    [8]byte
}

type HostConfig struct {
	Logger *slog.Logger
	// InitRetries is the number of bring-up attempts made by Init.
	InitRetries int
	// InitRetryDelay separates bring-up attempts.
	InitRetryDelay time.Duration
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		InitRetries:    10,
		InitRetryDelay: 500 * time.Millisecond,
	}
}

func NewHost(card Card, logger *slog.Logger) *Host {
	return &Host{card: card, logger: logger}
}

// Init brings up the card and the slave link, retrying on failure.
func (h *Host) Init(ctx context.Context, cfg HostConfig) (err error) {
	if cfg.Logger != nil {
		h.logger = cfg.Logger
	}
	retries := max(cfg.InitRetries, 1)
	for i := 0; i < retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.InitRetryDelay):
			}
		}
		err = h.start()
		if err == nil {
			err = h.initSlaveLink()
		}
		if err == nil {
			h.info("sdio:init-done", slog.Int("attempts", i+1))
			return nil
		}
		h.warn("sdio:init-retry", slog.Int("attempt", i+1), slog.String("err", err.Error()))
	}
	return errors.Join(errInitRetries, err)
}

func (h *Host) start() error {
	h.totalTx, h.totalRx = 0, 0
	err := h.card.GoIdle()
	if err != nil {
		return err
	}
	// Enable functions 1 and 2.
	ioe, err := h.card.WriteDirect(FuncCCCR, cccrFnEnable, 1<<1|1<<2)
	if err != nil {
		return err
	}
	// Function 1 and 2 interrupts and master enable.
	ie, err := h.card.WriteDirect(FuncCCCR, cccrIntEnable, 1<<0|1<<1|1<<2)
	if err != nil {
		return err
	}
	bw, err := h.card.ReadDirect(FuncCCCR, cccrBusWidth)
	if err != nil {
		return err
	}
	bw, err = h.card.WriteDirect(FuncCCCR, cccrBusWidth, bw|busWidthECSI)
	if err != nil {
		return err
	}
	h.debug("sdio:start", slog.Uint64("ioe", uint64(ioe)), slog.Uint64("ie", uint64(ie)), slog.Uint64("buswidth", uint64(bw)))
	for _, fn := range []Function{FuncWiFi, FuncBT} {
		fbr := uint32(fn) * cccrFBROffset
		if _, err = h.card.WriteDirect(FuncCCCR, fbr+cccrBlkSizeL, byte(BlockSize&0xff)); err != nil {
			return err
		}
		if _, err = h.card.WriteDirect(FuncCCCR, fbr+cccrBlkSizeH, byte(BlockSize>>8)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) initSlaveLink() error {
	conf1, err := h.ReadRegWindow(slcConf1Reg)
	if err != nil {
		return err
	}
	err = h.WriteRegWindow(slcConf1Reg, conf1|slc0RxStitchEn|slc0TxStitchEn)
	if err != nil {
		return err
	}
	lenconf, err := h.ReadRegWindow(slc0LenConfReg)
	if err != nil {
		return err
	}
	err = h.WriteRegWindow(slc0LenConfReg, lenconf|slc0TxPacketLoadEn)
	if err != nil {
		return err
	}
	inten, err := h.read32(RegFunc1IntEn)
	if err != nil {
		return err
	}
	return h.write32(RegFunc1IntEn, inten|fn1GPIOSDIOIntEna)
}

// ReadBytes reads len(dst) bytes at addr. Transfers are split into a 4-byte
// aligned body and a tail.
func (h *Host) ReadBytes(fn Function, addr uint32, dst []byte) error {
	mode := h.mode(fn, 0)
	for len(dst) > 0 {
		n := len(dst) &^ 3
		if n == 0 {
			n = len(dst)
		}
		err := h.card.ReadExtended(fn, addr, dst[:n], mode)
		if err != nil {
			return err
		}
		dst = dst[n:]
		addr += uint32(n)
	}
	return nil
}

// WriteBytes writes src at addr. Transfers are split like ReadBytes.
func (h *Host) WriteBytes(fn Function, addr uint32, src []byte) error {
	mode := h.mode(fn, 0)
	for len(src) > 0 {
		n := len(src) &^ 3
		if n == 0 {
			n = len(src)
		}
		err := h.card.WriteExtended(fn, addr, src[:n], mode)
		if err != nil {
			return err
		}
		src = src[n:]
		addr += uint32(n)
	}
	return nil
}

func (h *Host) readBlocks(fn Function, addr uint32, dst []byte) error {
	if len(dst)%4 != 0 {
		return errInvalidSize
	}
	return h.card.ReadExtended(fn, addr, dst, h.mode(fn, ModeBlock))
}

func (h *Host) writeBlocks(fn Function, addr uint32, src []byte) error {
	if len(src)%4 != 0 {
		return errInvalidSize
	}
	return h.card.WriteExtended(fn, addr, src, h.mode(fn, ModeBlock))
}

func (h *Host) mode(fn Function, m Mode) Mode {
	if fn == FuncWiFi {
		m |= ModeIncrement
	}
	return m
}

func (h *Host) read32(addr uint32) (uint32, error) {
	err := h.ReadBytes(FuncWiFi, addr, h.wbuf[:4])
	return binary.LittleEndian.Uint32(h.wbuf[:4]), err
}

func (h *Host) write32(addr, v uint32) error {
	binary.LittleEndian.PutUint32(h.wbuf[:4], v)
	return h.WriteBytes(FuncWiFi, addr, h.wbuf[:4])
}

// ReadRegWindow reads a slave register through the host register window.
func (h *Host) ReadRegWindow(reg uint32) (uint32, error) {
	idx := reg >> 2
	if idx > regWindowMaxWordIdx {
		return 0, errRegWindowAddr
	}
	h.wbuf = [8]byte{byte(idx), 0x80}
	err := h.WriteBytes(FuncWiFi, RegWinCmd, h.wbuf[:4])
	if err != nil {
		return 0, err
	}
	return h.read32(RegStateW0)
}

// WriteRegWindow writes a slave register through the host register window.
func (h *Host) WriteRegWindow(reg, v uint32) error {
	idx := reg >> 2
	if idx > regWindowMaxWordIdx {
		return errRegWindowAddr
	}
	binary.LittleEndian.PutUint32(h.wbuf[:4], v)
	h.wbuf[4] = byte(idx)
	h.wbuf[5] = 0xc0
	h.wbuf[6], h.wbuf[7] = 0, 0
	return h.WriteBytes(FuncWiFi, RegConfigW5, h.wbuf[:8])
}

// BufferSize returns the number of free [BlockSize] buffers in the slave's receive queue.
func (h *Host) BufferSize() (uint32, error) {
	tok, err := h.read32(RegTokenRData)
	if err != nil {
		return 0, err
	}
	n := (tok >> sendOffset) & txBufferMask
	return (n + txBufferMax - h.totalTx) % txBufferMax, nil
}

func (h *Host) rxDataSize(fn Function) (uint32, error) {
	if fn == FuncBT {
		v, err := h.read32(RegSLC1HostPF)
		if err != nil {
			return 0, err
		}
		// Length is stored big endian in the upper three bytes.
		return (v>>8&0xff)<<16 | (v>>16&0xff)<<8 | v>>24, nil
	}
	v, err := h.read32(RegPktLen)
	if err != nil {
		return 0, err
	}
	v &= rxByteMask
	return (v + rxByteMax - h.totalRx) % rxByteMax, nil
}

// GetPacket waits up to wait for a packet on fn and reads it into dst.
// Packets longer than dst are truncated and returned with ErrNotFinished.
func (h *Host) GetPacket(fn Function, dst []byte, wait time.Duration) (n int, err error) {
	if len(dst) == 0 {
		return 0, errZeroSize
	}
	var size uint32
	deadline := max(int(wait/time.Millisecond), 1)
	for polls := 0; ; {
		size, err = h.rxDataSize(fn)
		if err != nil {
			return 0, err
		} else if size > 0 {
			break
		}
		polls++
		if polls >= deadline {
			return 0, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
	var truncated error
	if size > uint32(len(dst)) {
		size = uint32(len(dst))
		truncated = ErrNotFinished
	}
	remain := size
	buf := dst
	for remain > 0 {
		var addr uint32
		if fn == FuncWiFi {
			addr = CMD53EndAddr - remain
		}
		blocks := remain / BlockSize
		var chunk uint32
		if blocks > 0 {
			chunk = blocks * BlockSize
			err = h.readBlocks(fn, addr, buf[:chunk])
		} else {
			// Slave ignores bytes past the packet, read whole words.
			chunk = remain
			err = h.ReadBytes(fn, addr, padded(buf, chunk))
		}
		if err != nil {
			return 0, err
		}
		buf = buf[chunk:]
		remain -= chunk
	}
	if fn != FuncBT {
		h.totalRx += size
	}
	return int(size), truncated
}

// SendPacket writes pkt to fn and accounts for the slave buffers it consumes.
func (h *Host) SendPacket(fn Function, pkt []byte) (err error) {
	remain := uint32(len(pkt))
	used := (remain + BlockSize - 1) / BlockSize
	for remain > 0 {
		var addr uint32
		if fn == FuncWiFi {
			addr = CMD53EndAddr - remain
		}
		blocks := remain / BlockSize
		var chunk uint32
		if blocks > 0 {
			chunk = blocks * BlockSize
			err = h.writeBlocks(fn, addr, pkt[:chunk])
		} else {
			chunk = remain
			err = h.WriteBytes(fn, addr, padded(pkt, chunk))
		}
		if err != nil {
			h.logerr("sdio:send", slog.String("fn", fn.String()), slog.String("err", err.Error()))
			return err
		}
		pkt = pkt[chunk:]
		remain -= chunk
	}
	if fn != FuncBT {
		h.totalTx += used
		if h.totalTx >= txBufferMax {
			h.totalTx -= txBufferMax
		}
	}
	return nil
}

// padded returns the first n bytes of buf extended to a multiple of 4 when
// buf has the capacity for it.
func padded(buf []byte, n uint32) []byte {
	aligned := (n + 3) &^ 3
	if aligned <= uint32(cap(buf)) {
		return buf[:aligned]
	}
	return buf[:n]
}

// Interrupts reads the raw interrupt words of both SLC channels.
func (h *Host) Interrupts() (raw0, raw1 uint32, err error) {
	raw0, err = h.read32(RegIntRaw)
	if err != nil {
		return 0, 0, err
	}
	raw1, err = h.read32(RegIntRaw1)
	return raw0, raw1, err
}

// ClearInterrupts acknowledges the given bits. Zero words are not written.
func (h *Host) ClearInterrupts(intr0, intr1 uint32) error {
	if intr0 != 0 {
		if err := h.write32(RegSLC0IntClr, intr0); err != nil {
			return err
		}
	}
	if intr1 != 0 {
		return h.write32(RegSLC1IntClr, intr1)
	}
	return nil
}

func (h *Host) WaitInterrupt(ctx context.Context) error {
	return h.card.WaitInterrupt(ctx)
}
