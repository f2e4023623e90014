package mqttcoex

import (
	"bytes"
	"testing"
)

func TestStateEncoding(t *testing.T) {
	s := State{WiFi: 0x0102, BLE: 0x0304, BT: 0xfffe}
	var buf [PayloadLen]byte
	s.Put(buf[:])
	want := []byte{0x02, 0x01, 0x04, 0x03, 0xfe, 0xff}
	if !bytes.Equal(buf[:], want) {
		t.Fatalf("got %x, want %x", buf, want)
	}
	if got := DecodeState(buf[:]); got != s {
		t.Fatalf("decoded %+v", got)
	}
}

func TestPublishNotConnected(t *testing.T) {
	p, err := NewPublisher(NewClient(), "extconn/coex", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Publish(State{WiFi: 1}) != errNotConnected {
		t.Fatal("publish on disconnected client must fail")
	}
	p.CoexState(1, 2, 3) // Must not panic.
}
