package extconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soypat/extconn/internal/mocktarget"
	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

func testImage() []byte {
	return makeImage(0x4010_0004, FirmwareBlock{Addr: 0x4010_0000, Data: make([]byte, 300)})
}

func TestDeviceInit(t *testing.T) {
	tgt := mocktarget.New()
	h := &testHost{}
	cfg := testConfig(sip.FuncWiFi|sip.FuncBT, h)
	var dev Device
	err := dev.Init(context.Background(), tgt, testImage(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dev.Session().State() != StateRun {
		t.Fatalf("state %s", dev.Session().State())
	}
	if dev.WiFi() == nil || dev.BT() == nil {
		t.Fatal("senders not started")
	}
	if len(tgt.Writes()) != 2 {
		t.Errorf("want 2 firmware chunks, got %d", len(tgt.Writes()))
	}
	if err = dev.Init(context.Background(), tgt, testImage(), cfg); err == nil {
		t.Error("second init must fail")
	}

	// Traffic flows through the started tasks.
	if err = dev.WiFi().SubmitData(&TxBuffer{Kind: BufData, Payload: []byte{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if err = dev.BT().Submit([]byte{1, 3, 0x0c, 0}); err != nil {
		t.Fatal(err)
	}
	if len(tgt.WaitSent(sdio.FuncBT, 1, time.Second)) != 1 {
		t.Error("bt packet not sent")
	}
	// BOOTUP, INIT and the data frame.
	if len(tgt.WaitSent(sdio.FuncWiFi, 3, time.Second)) != 3 {
		t.Error("wifi frame not sent")
	}
	tgt.InjectPacket(tgt.Frame(sip.TypeData, sip.DataInfo{}, []byte{4, 5, 6}))
	waitFor(t, "rx frame", func() bool { return h.numFrames() == 1 })
	if dev.RecvStats().Frames < 3 {
		t.Errorf("stats %+v", dev.RecvStats())
	}

	s := dev.Session()
	if err = dev.Close(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateStop {
		t.Errorf("state after close %s", s.State())
	}
	if dev.Close() == nil {
		t.Error("second close must fail")
	}
}

func TestDeviceInitWiFiOnly(t *testing.T) {
	tgt := mocktarget.New()
	var dev Device
	err := dev.Init(context.Background(), tgt, testImage(), testConfig(sip.FuncWiFi, &testHost{}))
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if dev.BT() != nil {
		t.Error("bt started without bt enabled")
	}
}

func TestDeviceInitErrors(t *testing.T) {
	h := &testHost{}
	var dev Device

	cfg := testConfig(0, h)
	if dev.Init(context.Background(), mocktarget.New(), testImage(), cfg) == nil {
		t.Error("init without functions must fail")
	}
	cfg = testConfig(sip.FuncWiFi, h)
	cfg.WiFiHost = nil
	if dev.Init(context.Background(), mocktarget.New(), testImage(), cfg) == nil {
		t.Error("init without wifi host must fail")
	}

	tgt := mocktarget.New()
	img := testImage()
	img[0] = 0
	err := dev.Init(context.Background(), tgt, img, testConfig(sip.FuncWiFi, h))
	if !errors.Is(err, ErrBadMagic) || len(tgt.Writes()) != 0 {
		t.Errorf("want ErrBadMagic without writes, got %v", err)
	}

	tgt = mocktarget.New()
	tgt.AutoBoot = false
	cfg = testConfig(sip.FuncWiFi, h)
	cfg.BootTimeout = 20 * time.Millisecond
	err = dev.Init(context.Background(), tgt, testImage(), cfg)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if dev.Session() != nil || dev.Close() == nil {
		t.Error("failed init left device initialized")
	}
}
