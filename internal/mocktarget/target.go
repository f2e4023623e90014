// Package mocktarget emulates the coprocessor side of the SDIO link for tests.
// A Target records everything the host sends and lets tests queue frames,
// Bluetooth packets and credits for the host to read.
package mocktarget

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

// Packet is a transfer recorded by the target.
type Packet struct {
	Fn   sdio.Function
	Addr uint32 // Zero for SendPacket.
	Data []byte
}

// Target implements the host's transport contract in memory.
type Target struct {
	// AutoBoot replies to BOOTUP with TARGET_ON and to INIT with the BOOTUP event.
	AutoBoot bool
	// Boot is the body of the BOOTUP event sent when AutoBoot is set.
	Boot sip.BootInfo

	mu       sync.Mutex
	seq      uint32
	free     uint32
	configW1 uint32
	doorbell bool
	wifirx   [][]byte
	btrx     [][]byte
	sent     []Packet
	writes   []Packet
	intr     chan struct{}
}

// New returns a target with plenty of free buffer space and boot defaults.
func New() *Target {
	return &Target{
		AutoBoot: true,
		Boot: sip.BootInfo{
			TxBlockSize: sdio.BlockSize,
			RxBlockSize: sdio.BlockSize,
			MAC:         [6]byte{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03},
		},
		free: 64,
		intr: make(chan struct{}, 1),
	}
}

var errNoPacket = errors.New("mocktarget: no packet")

func (t *Target) signal() {
	select {
	case t.intr <- struct{}{}:
	default:
	}
}

func (t *Target) ReadBytes(fn sdio.Function, addr uint32, dst []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(dst)
	if addr == sdio.RegConfigW1 && len(dst) >= 4 {
		binary.LittleEndian.PutUint32(dst, t.configW1)
	}
	return nil
}

func (t *Target) WriteBytes(fn sdio.Function, addr uint32, src []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, Packet{Fn: fn, Addr: addr, Data: append([]byte(nil), src...)})
	return nil
}

func (t *Target) SendPacket(fn sdio.Function, pkt []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, Packet{Fn: fn, Data: append([]byte(nil), pkt...)})
	if fn != sdio.FuncWiFi || len(pkt) < sip.HeaderLen {
		return nil
	}
	hdr := sip.DecodeHeader(pkt, sip.ToTarget)
	id, ok := hdr.Command()
	if !ok || !t.AutoBoot {
		return nil
	}
	switch id {
	case sip.CmdBootup:
		t.seq = 0
		t.queueEvent(sip.EvtTargetOn, nil)
	case sip.CmdInit:
		var body [sip.EvtBootupLen]byte
		t.Boot.Put(body[:])
		t.queueEvent(sip.EvtBootup, body[:])
	}
	return nil
}

func (t *Target) GetPacket(fn sdio.Function, dst []byte, wait time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := &t.wifirx
	if fn == sdio.FuncBT {
		q = &t.btrx
	}
	if len(*q) == 0 {
		return 0, errNoPacket
	}
	p := (*q)[0]
	*q = (*q)[1:]
	n := copy(dst, p)
	if n < len(p) {
		return n, sdio.ErrNotFinished
	}
	return n, nil
}

func (t *Target) Interrupts() (raw0, raw1 uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.wifirx) > 0 {
		raw0 |= sdio.IntSLC0RxNewPacket
	}
	if len(t.btrx) > 0 {
		raw1 |= sdio.IntSLC1BTRxNewPacket
	}
	if t.doorbell {
		raw1 |= sdio.IntSLC1ToHostBit0
	}
	return raw0, raw1, nil
}

func (t *Target) ClearInterrupts(intr0, intr1 uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if intr1&sdio.IntSLC1ToHostBit0 != 0 {
		t.doorbell = false
	}
	if len(t.wifirx) > 0 || len(t.btrx) > 0 {
		// Level triggered: more data raises the line again.
		t.signal()
	}
	return nil
}

func (t *Target) BufferSize() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.free, nil
}

func (t *Target) WaitInterrupt(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.intr:
		return nil
	}
}

// SetFree sets the free receive buffer count in blocks.
func (t *Target) SetFree(blocks uint32) {
	t.mu.Lock()
	t.free = blocks
	t.mu.Unlock()
}

// Frame builds a host bound frame stamped with the target's next sequence number.
func (t *Target) Frame(typ sip.FrameType, info sip.Info, body []byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame(typ, info, body)
}

func (t *Target) frame(typ sip.FrameType, info sip.Info, body []byte) []byte {
	length := sip.FrameLen(len(body))
	f := make([]byte, length)
	hdr := sip.Header{Type: typ, Length: uint16(length), Seq: t.seq, Info: info}
	t.seq++
	hdr.Put(f)
	copy(f[sip.HeaderLen:], body)
	return f
}

func (t *Target) queueEvent(id sip.EventID, body []byte) {
	t.wifirx = append(t.wifirx, t.frame(sip.TypeCtrl, sip.EventInfo{ID: id}, body))
	t.signal()
}

// InjectEvent queues a CTRL event in a packet of its own.
func (t *Target) InjectEvent(id sip.EventID, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queueEvent(id, body)
}

// InjectPacket queues frames as a single function 1 packet.
func (t *Target) InjectPacket(frames ...[]byte) {
	var pkt []byte
	for _, f := range frames {
		pkt = append(pkt, f...)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wifirx = append(t.wifirx, pkt)
	t.signal()
}

// InjectBT queues an HCI packet on function 2.
func (t *Target) InjectBT(hci []byte) {
	pkt := make([]byte, sip.SBPHeaderLen+len(hci))
	hdr := sip.SBPHeader{Length: uint32(len(pkt))}
	hdr.Put(pkt)
	copy(pkt[sip.SBPHeaderLen:], hci)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.btrx = append(t.btrx, pkt)
	t.signal()
}

// GrantBTCredit sets CONFIG_W1 bit 0 and rings the to-host doorbell.
func (t *Target) GrantBTCredit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configW1 |= 1
	t.doorbell = true
	t.signal()
}

// Sent returns the packets sent on fn, in order.
func (t *Target) Sent(fn sdio.Function) []Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Packet
	for _, p := range t.sent {
		if p.Fn == fn {
			out = append(out, p)
		}
	}
	return out
}

// Writes returns the memory writes made with WriteBytes.
func (t *Target) Writes() []Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Packet(nil), t.writes...)
}

// WaitSent polls until at least n packets were sent on fn or timeout elapses.
func (t *Target) WaitSent(fn sdio.Function, n int, timeout time.Duration) []Packet {
	deadline := time.Now().Add(timeout)
	for {
		got := t.Sent(fn)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(time.Millisecond)
	}
}
