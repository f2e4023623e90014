// Command extconnsim runs the extconn host stack against a simulated
// coprocessor: it downloads a firmware image, completes the boot handshake
// and exchanges WiFi frames and Bluetooth HCI packets.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/soypat/extconn"
	"github.com/soypat/extconn/internal/mocktarget"
	"github.com/soypat/extconn/mqttcoex"
	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "extconnsim - run the coprocessor host stack against a simulated target.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	cfgPath := flag.String("config", "", "TOML configuration file.")
	fwPath := flag.String("fw", "", "Firmware image. A small demo image is used if empty.")
	flag.Parse()

	cfg, err := loadSimConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	fw := demoFirmware()
	if *fwPath != "" {
		fw, err = os.ReadFile(*fwPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err = run(ctx, cfg, fw, logger)
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg simConfig, fw []byte, logger *slog.Logger) error {
	host := newSimHost(logger)
	if cfg.MQTTAddr != "" {
		pub, closeConn, err := dialCoex(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeConn()
		host.coex = pub
	}
	devcfg := cfg.Device
	devcfg.Logger = logger
	devcfg.WiFiHost = host
	devcfg.BTHost = host

	tgt := mocktarget.New()
	var dev extconn.Device
	err := dev.Init(ctx, tgt, fw, devcfg)
	if err != nil {
		return err
	}
	defer dev.Close()
	start := time.Now()

	if devcfg.Functions.WiFi() {
		err = exchangeWiFi(ctx, &dev, tgt, host, cfg.Frames)
		if err != nil {
			return err
		}
	}
	if devcfg.Functions.BT() {
		err = exchangeHCI(&dev, tgt, cfg.HCIPackets)
		if err != nil {
			return err
		}
	}
	stats := dev.RecvStats()
	logger.Info("sim:done",
		slog.Duration("took", time.Since(start)),
		slog.Uint64("packets", stats.Packets),
		slog.Uint64("frames", stats.Frames),
		slog.Uint64("dropped", stats.Dropped),
		slog.Int("tx-wifi", len(tgt.Sent(sdio.FuncWiFi))),
		slog.Int("tx-bt", len(tgt.Sent(sdio.FuncBT))),
	)
	return nil
}

func exchangeWiFi(ctx context.Context, dev *extconn.Device, tgt *mocktarget.Target, host *simHost, frames int) error {
	src := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dst := dev.Session().WiFiMAC()
	for i := 0; i < frames; i++ {
		payload := binary.BigEndian.AppendUint32(nil, uint32(i))
		f := ethernetFrame(dst, src, 0x0800, payload)
		tgt.InjectPacket(tgt.Frame(sip.TypeData, sip.DataInfo{TID: uint8(i % 8), AC: uint8(i % 4)}, f))
		// Echo back what we received.
		err := dev.WiFi().SubmitData(&extconn.TxBuffer{
			Kind:    extconn.BufData,
			Payload: ethernetFrame(src, dst, 0x0800, payload),
			Desc:    extconn.TxDesc{TID: uint8(i % 8), AC: uint8(i % 4)},
			Tracked: i%2 == 0,
		})
		if err != nil {
			return err
		}
	}
	var coex [sip.EvtCoexStateLen]byte
	st := sip.CoexState{WiFi: 1, BLE: 0, BT: 1}
	st.Put(coex[:])
	tgt.InjectEvent(sip.EvtCoexState, coex[:])

	for host.received() < frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

var errHCITimeout = errors.New("hci packet not sent")

func exchangeHCI(dev *extconn.Device, tgt *mocktarget.Target, packets int) error {
	reset := []byte{0x01, 0x03, 0x0c, 0x00} // HCI_Reset.
	for i := 0; i < packets; i++ {
		err := dev.BT().Submit(reset)
		if err != nil {
			return err
		}
		if len(tgt.WaitSent(sdio.FuncBT, i+1, time.Second)) < i+1 {
			return errHCITimeout
		}
		tgt.InjectBT([]byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}) // Command complete.
		tgt.GrantBTCredit()
	}
	return nil
}

func dialCoex(ctx context.Context, cfg simConfig, logger *slog.Logger) (*mqttcoex.Publisher, func() error, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.MQTTAddr)
	if err != nil {
		return nil, nil, err
	}
	client := mqttcoex.NewClient()
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = mqttcoex.Connect(cctx, client, conn, cfg.MQTTClientID)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	pub, err := mqttcoex.NewPublisher(client, cfg.MQTTTopic, logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info("sim:mqtt-connected", slog.String("addr", cfg.MQTTAddr), slog.String("topic", cfg.MQTTTopic))
	return pub, conn.Close, nil
}

// demoFirmware returns a minimal image with two blocks.
func demoFirmware() []byte {
	const entry = 0x4010_0004
	img := make([]byte, 24)
	img[0] = 0xe9
	img[1] = 2
	binary.LittleEndian.PutUint32(img[4:], entry)
	blocks := []struct {
		addr uint32
		n    int
	}{
		{0x4010_0000, 1024},
		{0x3ffe_8000, 130},
	}
	for _, b := range blocks {
		img = binary.LittleEndian.AppendUint32(img, b.addr)
		img = binary.LittleEndian.AppendUint32(img, uint32(b.n))
		for i := 0; i < b.n; i++ {
			img = append(img, byte(i))
		}
	}
	return img
}
