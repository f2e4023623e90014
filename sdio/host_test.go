package sdio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

type xfer struct {
	fn    Function
	addr  uint32
	data  []byte
	mode  Mode
	write bool
}

type fakeCard struct {
	regs    map[uint32]uint32 // Function 1 register words.
	cccr    map[uint32]byte
	pending []byte // Packet served from the function 1/2 packet window.
	log     []xfer
	failAt  int // Fail the n'th extended transfer (1-based) when non-zero.
	n       int
}

func newFakeCard() *fakeCard {
	return &fakeCard{regs: map[uint32]uint32{}, cccr: map[uint32]byte{}}
}

var errInjected = errors.New("injected")

func (c *fakeCard) GoIdle() error { return nil }

func (c *fakeCard) ReadDirect(fn Function, addr uint32) (byte, error) {
	return c.cccr[addr], nil
}

func (c *fakeCard) WriteDirect(fn Function, addr uint32, v byte) (byte, error) {
	c.cccr[addr] = v
	return v, nil
}

func (c *fakeCard) ReadExtended(fn Function, addr uint32, dst []byte, mode Mode) error {
	c.n++
	if c.n == c.failAt {
		return errInjected
	}
	c.log = append(c.log, xfer{fn: fn, addr: addr, mode: mode, data: nil})
	if v, ok := c.regs[addr]; ok && fn == FuncWiFi && len(dst) == 4 {
		binary.LittleEndian.PutUint32(dst, v)
		return nil
	}
	// Packet window read.
	n := copy(dst, c.pending)
	c.pending = c.pending[n:]
	return nil
}

func (c *fakeCard) WriteExtended(fn Function, addr uint32, src []byte, mode Mode) error {
	c.n++
	if c.n == c.failAt {
		return errInjected
	}
	c.log = append(c.log, xfer{fn: fn, addr: addr, mode: mode, data: append([]byte{}, src...), write: true})
	if len(src) == 4 && fn == FuncWiFi && addr < 0x100 {
		c.regs[addr] = binary.LittleEndian.Uint32(src)
	}
	return nil
}

func (c *fakeCard) WaitInterrupt(ctx context.Context) error { return nil }

func (c *fakeCard) writes() (w []xfer) {
	for _, x := range c.log {
		if x.write {
			w = append(w, x)
		}
	}
	return w
}

func TestSendPacketBlocksAndAccounting(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	card.regs[RegTokenRData] = 20 << sendOffset
	pkt := make([]byte, 1000)
	for i := range pkt {
		pkt[i] = byte(i)
	}
	err := h.SendPacket(FuncWiFi, pkt)
	if err != nil {
		t.Fatal(err)
	}
	w := card.writes()
	if len(w) != 2 {
		t.Fatalf("want block+tail writes, got %d", len(w))
	}
	if w[0].mode != ModeBlock|ModeIncrement || len(w[0].data) != BlockSize || w[0].addr != CMD53EndAddr-1000 {
		t.Errorf("bad block write %+v", w[0].mode)
	}
	if w[1].mode != ModeIncrement || len(w[1].data) != 488 || w[1].addr != CMD53EndAddr-488 {
		t.Errorf("bad tail write len=%d addr=%#x", len(w[1].data), w[1].addr)
	}
	if !bytes.Equal(append(w[0].data, w[1].data...), pkt) {
		t.Error("sent data mismatch")
	}
	free, err := h.BufferSize()
	if err != nil {
		t.Fatal(err)
	}
	if free != 18 {
		t.Errorf("want 18 free buffers after using 2, got %d", free)
	}
}

func TestSendPacketBTNoAccounting(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	card.regs[RegTokenRData] = 5 << sendOffset
	if err := h.SendPacket(FuncBT, make([]byte, 12)); err != nil {
		t.Fatal(err)
	}
	w := card.writes()
	if len(w) != 1 || w[0].addr != 0 || w[0].mode != 0 {
		t.Fatalf("bad bt write %+v", w)
	}
	if free, _ := h.BufferSize(); free != 5 {
		t.Errorf("bt traffic consumed wifi buffers: %d", free)
	}
}

func TestGetPacket(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	card.regs[RegPktLen] = 100
	card.pending = bytes.Repeat([]byte{0xab}, 100)
	buf := make([]byte, 2048)
	n, err := h.GetPacket(FuncWiFi, buf, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 || buf[99] != 0xab {
		t.Fatalf("got n=%d", n)
	}
	// Counter still at 100: nothing new.
	_, err = h.GetPacket(FuncWiFi, buf, 3*time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("want ErrTimeout, got %v", err)
	}
	card.regs[RegPktLen] = 164
	card.pending = make([]byte, 64)
	n, err = h.GetPacket(FuncWiFi, buf, 10*time.Millisecond)
	if err != nil || n != 64 {
		t.Errorf("second packet n=%d err=%v", n, err)
	}
}

func TestGetPacketTruncated(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	card.regs[RegPktLen] = 40
	card.pending = make([]byte, 40)
	n, err := h.GetPacket(FuncWiFi, make([]byte, 16), time.Millisecond)
	if err != ErrNotFinished || n != 16 {
		t.Errorf("want truncated read of 16, got n=%d err=%v", n, err)
	}
}

func TestGetPacketBTLength(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	// Length 0x000123 stored big endian in bytes 1..3.
	card.regs[RegSLC1HostPF] = binary.LittleEndian.Uint32([]byte{0xff, 0x00, 0x01, 0x23})
	card.pending = make([]byte, 0x123)
	n, err := h.GetPacket(FuncBT, make([]byte, 1034), time.Millisecond)
	if err != nil || n != 0x123 {
		t.Errorf("bt packet n=%#x err=%v", n, err)
	}
}

func TestInterrupts(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	card.regs[RegIntRaw] = IntSLC0RxNewPacket
	card.regs[RegIntRaw1] = IntSLC1ToHostBit0
	i0, i1, err := h.Interrupts()
	if err != nil || i0 != IntSLC0RxNewPacket || i1 != IntSLC1ToHostBit0 {
		t.Fatalf("got %#x %#x %v", i0, i1, err)
	}
	err = h.ClearInterrupts(i0, 0)
	if err != nil {
		t.Fatal(err)
	}
	w := card.writes()
	if len(w) != 1 || w[0].addr != RegSLC0IntClr {
		t.Errorf("want single SLC0 clear, got %+v", w)
	}
	if err = h.ClearInterrupts(0, 0); err != nil || len(card.writes()) != 1 {
		t.Error("zero clear should not write")
	}
}

func TestRegWindow(t *testing.T) {
	card := newFakeCard()
	h := NewHost(card, nil)
	card.regs[RegStateW0] = 0xcafe
	v, err := h.ReadRegWindow(slcConf1Reg)
	if err != nil || v != 0xcafe {
		t.Fatalf("got %#x %v", v, err)
	}
	w := card.writes()
	if w[0].addr != RegWinCmd || w[0].data[0] != slcConf1Reg>>2 || w[0].data[1] != 0x80 {
		t.Errorf("bad window command %x", w[0].data)
	}
	err = h.WriteRegWindow(slc0LenConfReg, 0x01020304)
	if err != nil {
		t.Fatal(err)
	}
	w = card.writes()
	last := w[len(w)-1]
	if last.addr != RegConfigW5 || !bytes.Equal(last.data, []byte{4, 3, 2, 1, slc0LenConfReg >> 2, 0xc0, 0, 0}) {
		t.Errorf("bad window write %x", last.data)
	}
	if _, err = h.ReadRegWindow(0x400); err != errRegWindowAddr {
		t.Error("expected window range error")
	}
}

func TestInitRetries(t *testing.T) {
	card := newFakeCard()
	card.failAt = 1 // First window command fails.
	h := NewHost(card, nil)
	cfg := DefaultHostConfig()
	cfg.InitRetryDelay = time.Millisecond
	err := h.Init(context.Background(), cfg)
	if err != nil {
		t.Fatal("second attempt should succeed:", err)
	}
	if card.cccr[cccrFnEnable] != 0b110 || card.cccr[cccrBusWidth]&busWidthECSI == 0 {
		t.Error("cccr not configured")
	}
	if card.cccr[cccrFBROffset+cccrBlkSizeH] != 2 || card.cccr[2*cccrFBROffset+cccrBlkSizeL] != 0 {
		t.Error("block size not set to 512")
	}
	if card.regs[RegFunc1IntEn]&fn1GPIOSDIOIntEna == 0 {
		t.Error("function 1 interrupt not enabled")
	}
}
