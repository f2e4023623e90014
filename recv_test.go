package extconn

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/soypat/extconn/internal/mocktarget"
	"github.com/soypat/extconn/sip"
)

func TestDispatchFrames(t *testing.T) {
	const numFrames = 8
	tgt := mocktarget.New()
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi, h)
	s := NewSession(tgt, cfg)
	d := runDispatcher(t, s, nil, cfg)

	var frames [][]byte
	for i := 0; i < numFrames; i++ {
		body := bytes.Repeat([]byte{byte(i)}, 10+i)
		frames = append(frames, tgt.Frame(sip.TypeData, sip.DataInfo{TID: uint8(i)}, body))
	}
	tgt.InjectPacket(frames...)
	waitFor(t, "frames", func() bool { return h.numFrames() == numFrames })
	for i, got := range h.frames {
		if !bytes.Equal(got, frames[i]) {
			t.Errorf("frame %d mismatch", i)
		}
	}
	stats := d.Stats()
	if stats.Frames != numFrames || stats.Dropped != 0 || stats.SeqErrors != 0 || stats.Packets != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// A sequence error drops only the offending frame.
	const badIdx = 2
	frames = frames[:0]
	for i := 0; i < 5; i++ {
		f := tgt.Frame(sip.TypeDataAMPDU, sip.DataInfo{TID: uint8(i)}, []byte{byte(i), 1, 2, 3})
		if i == badIdx {
			binary.LittleEndian.PutUint32(f[8:12], 0xdead)
		}
		frames = append(frames, f)
	}
	tgt.InjectPacket(frames...)
	waitFor(t, "frames after seq error", func() bool { return h.numFrames() == numFrames+4 })
	stats = d.Stats()
	if stats.SeqErrors != 1 || stats.Dropped != 1 {
		t.Fatalf("want one sequence drop, got %+v", stats)
	}
	got := h.frames[numFrames:]
	for i, want := range [][]byte{frames[0], frames[1], frames[3], frames[4]} {
		if !bytes.Equal(got[i], want) {
			t.Errorf("frame %d after seq error mismatch", i)
		}
	}
}

func TestDispatchBadLength(t *testing.T) {
	tgt := mocktarget.New()
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi, h)
	s := NewSession(tgt, cfg)
	d := runDispatcher(t, s, nil, cfg)

	hybrid := tgt.Frame(sip.TypeHybridData, sip.CreditInfo{Credits: 3}, nil)
	good := tgt.Frame(sip.TypeData, sip.DataInfo{}, []byte{1, 2, 3, 4})
	bad := tgt.Frame(sip.TypeData, sip.DataInfo{}, []byte{5, 6, 7, 8})
	binary.LittleEndian.PutUint16(bad[2:4], 13)
	after := tgt.Frame(sip.TypeData, sip.DataInfo{}, []byte{9})
	tgt.InjectPacket(hybrid)
	tgt.InjectPacket(good, bad, after)
	waitFor(t, "drops", func() bool { return d.Stats().Dropped == 2 })
	if h.numFrames() != 1 {
		t.Fatalf("want only the frame before the bad length, got %d", h.numFrames())
	}
	stats := d.Stats()
	if stats.Packets != 2 || stats.SeqErrors != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDispatchEvents(t *testing.T) {
	tgt := mocktarget.New()
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi, h)
	s := NewSession(tgt, cfg)
	runDispatcher(t, s, nil, cfg)

	coex := sip.CoexState{WiFi: 7, BLE: 8, BT: 9}
	var body [sip.EvtCoexStateLen]byte
	coex.Put(body[:])
	tgt.InjectEvent(sip.EvtCoexState, body[:])
	waitFor(t, "coex", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.coex) == 1
	})
	if h.coex[0] != [3]uint16{7, 8, 9} {
		t.Fatalf("coex %v", h.coex[0])
	}
}

func TestDispatchBluetooth(t *testing.T) {
	tgt := mocktarget.New()
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi|sip.FuncBT, h)
	s := NewSession(tgt, cfg)
	runDispatcher(t, s, nil, cfg)

	hci := []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	tgt.InjectBT(hci)
	waitFor(t, "hci", func() bool { return h.numHCI() == 1 })
	if !bytes.Equal(h.hci[0], hci) {
		t.Fatalf("hci mismatch: %x", h.hci[0])
	}
}

// failOnceTarget fails its first interrupt wait.
type failOnceTarget struct {
	*mocktarget.Target
	failed atomic.Bool
}

func (f *failOnceTarget) WaitInterrupt(ctx context.Context) error {
	if f.failed.CompareAndSwap(false, true) {
		return errors.New("card not responding")
	}
	return f.Target.WaitInterrupt(ctx)
}

func TestDispatchWaitError(t *testing.T) {
	tgt := &failOnceTarget{Target: mocktarget.New()}
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi, h)
	s := NewSession(tgt, cfg)
	d := runDispatcher(t, s, nil, cfg)

	frame := tgt.Frame(sip.TypeData, sip.DataInfo{}, []byte{1, 2, 3, 4})
	tgt.InjectPacket(frame)
	waitFor(t, "frame after wait error", func() bool { return h.numFrames() == 1 })
	if !tgt.failed.Load() {
		t.Fatal("interrupt wait never failed")
	}
	if d.Stats().Frames != 1 {
		t.Fatalf("unexpected stats %+v", d.Stats())
	}
}

func TestDispatchTruncatedPacket(t *testing.T) {
	tgt := mocktarget.New()
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi, h)
	s := NewSession(tgt, cfg)
	d := runDispatcher(t, s, nil, cfg)

	first := tgt.Frame(sip.TypeData, sip.DataInfo{}, bytes.Repeat([]byte{1}, 100))
	large := tgt.Frame(sip.TypeData, sip.DataInfo{}, make([]byte, sip.MaxRecvLen))
	tgt.InjectPacket(first, large)
	waitFor(t, "frame before truncation", func() bool { return h.numFrames() == 1 })
	if !bytes.Equal(h.frames[0], first) {
		t.Error("delivered frame mismatch")
	}
	stats := d.Stats()
	if stats.Packets != 1 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
