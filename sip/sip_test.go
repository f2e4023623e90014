package sip

import (
	"bytes"
	"testing"
)

func TestDataHeader(t *testing.T) {
	hdr := Header{
		IfIdx:  1,
		Type:   TypeDataAMPDU,
		Flags:  FlagSync,
		Length: 64,
		Seq:    0xdeadbeef,
		Info:   DataInfo{TID: 6, AC: 3, EncFlag: 0x55, HWKeyID: 9},
	}
	var buf [HeaderLen]byte
	hdr.Put(buf[:])
	if buf[0] != 0x12 {
		t.Errorf("fc[0]: want 0x12, got %#x", buf[0])
	}
	if buf[6] != 0x55<<1 {
		t.Errorf("enc byte: want %#x, got %#x", 0x55<<1, buf[6])
	}
	got := DecodeHeader(buf[:], ToTarget)
	if got != hdr {
		t.Fatalf("roundtrip mismatch:\nwant %v\ngot  %v", hdr, got)
	}
	if err := got.Validate(); err != nil {
		t.Error(err)
	}
}

func TestEventHeader(t *testing.T) {
	// CTRL frame from target: fc[1] is the event ID, not flags.
	raw := []byte{0x00, byte(EvtBootup), 28, 0, 0x34, 0x12, 0, 0, 7, 0, 0, 0}
	hdr := DecodeHeader(raw, ToHost)
	ev, ok := hdr.Event()
	if !ok || ev != EvtBootup {
		t.Fatalf("want BOOTUP event, got %v (ok=%v)", ev, ok)
	}
	if hdr.Flags != 0 {
		t.Error("event frame should carry no flags")
	}
	if ei := hdr.Info.(EventInfo); ei.Credits != 0x234 {
		t.Errorf("credits: want 0x234, got %#x", ei.Credits)
	}
	if hdr.Seq != 7 || hdr.Length != 28 {
		t.Errorf("bad seq/len %d/%d", hdr.Seq, hdr.Length)
	}
	// Same bytes decoded as host-sent are a command header.
	hdr = DecodeHeader(raw, ToTarget)
	if _, ok := hdr.Command(); !ok {
		t.Error("expected command info for target bound ctrl frame")
	}
}

func TestHeaderValidate(t *testing.T) {
	for _, tc := range []struct {
		hdr Header
		ok  bool
	}{
		{Header{Length: HeaderLen}, true},
		{Header{Length: 0}, false},
		{Header{Length: 8}, false},
		{Header{Length: 18}, false},
		{Header{Length: 32, Type: TypeHybridData}, true},
		{Header{Length: 32, Type: 9}, false},
	} {
		err := tc.hdr.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("Validate(%v): got err=%v, want ok=%v", tc.hdr, err, tc.ok)
		}
	}
}

func TestFrameLen(t *testing.T) {
	for n := 0; n < 300; n++ {
		got := FrameLen(n)
		if got%4 != 0 || got < n+HeaderLen || got > n+HeaderLen+3 {
			t.Fatalf("FrameLen(%d)=%d", n, got)
		}
	}
}

func appendFrame(dst []byte, typ FrameType, seq uint32, payload []byte) []byte {
	hdr := Header{Type: typ, Length: uint16(FrameLen(len(payload))), Seq: seq, Info: DataInfo{}}
	var hbuf [HeaderLen]byte
	hdr.Put(hbuf[:])
	dst = append(dst, hbuf[:]...)
	dst = append(dst, payload...)
	for len(dst)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst
}

func TestWalk(t *testing.T) {
	var pkt []byte
	pkt = appendFrame(pkt, TypeData, 0, []byte("hello"))
	pkt = appendFrame(pkt, TypeDataAMPDU, 1, nil)
	pkt = appendFrame(pkt, TypeData, 2, bytes.Repeat([]byte{0xaa}, 40))
	full := len(pkt)
	pkt = append(pkt, 0x01, 0x00, 0xff, 0x00) // Trailing partial frame.
	var seqs []uint32
	err := Walk(pkt, ToHost, func(hdr Header, frame []byte) error {
		if len(frame) != int(hdr.Length) {
			t.Errorf("frame length %d != header length %d", len(frame), hdr.Length)
		}
		seqs = append(seqs, hdr.Seq)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 3 || seqs[0] != 0 || seqs[2] != 2 {
		t.Errorf("walked seqs %v", seqs)
	}

	// Corrupt the second frame's length to be unaligned.
	second := FrameLen(5)
	pkt[second+2] = 13
	n := 0
	err = Walk(pkt[:full], ToHost, func(Header, []byte) error { n++; return nil })
	if err != ErrFrameLength {
		t.Errorf("want ErrFrameLength, got %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 frame before corrupt frame, got %d", n)
	}
}

func TestSBPHeader(t *testing.T) {
	h := SBPHeader{Length: 0x123456, Type: 2, Subtype: 0x2a, Seq: 99}
	var buf [SBPHeaderLen]byte
	h.Put(buf[:])
	if got := DecodeSBPHeader(buf[:]); got != h {
		t.Errorf("want %+v, got %+v", h, got)
	}
	if buf[3] != 2|0x2a<<2 {
		t.Errorf("type/subtype byte %#x", buf[3])
	}
}

func TestIDStrings(t *testing.T) {
	if CmdSetSTA.String() != "SETSTA" || CmdTest.String() != "TEST" {
		t.Error("bad command names")
	}
	if EvtCoexState.String() != "COEX_STATE" || EvtTargetOn.String() != "TARGET_ON" {
		t.Error("bad event names")
	}
	if CommandID(200).String() != "CMD(200)" {
		t.Error(CommandID(200).String())
	}
}

func FuzzWalk(f *testing.F) {
	f.Add(appendFrame(nil, TypeData, 3, []byte("payload")))
	f.Add([]byte{0, 0, 0, 0})
	f.Fuzz(func(t *testing.T, pkt []byte) {
		total := 0
		Walk(pkt, ToHost, func(hdr Header, frame []byte) error {
			if err := hdr.Validate(); err != nil && hdr.Type.IsValid() {
				t.Fatalf("walked invalid frame: %v", err)
			}
			total += len(frame)
			return nil
		})
		if total > len(pkt) {
			t.Fatal("walked past end of packet")
		}
	})
}
