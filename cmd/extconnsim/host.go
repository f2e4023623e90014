package main

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/soypat/extconn"
	"github.com/soypat/extconn/mqttcoex"
	"github.com/soypat/extconn/sip"
	"github.com/soypat/seqs/eth"
)

const sizeEthernetHeader = 14

var errShortEthernet = errors.New("frame too short for ethernet header")

// simHost is the upper WiFi and Bluetooth stack of the simulator. It decodes
// the Ethernet header of every received frame and forwards coexistence
// reports to MQTT when configured.
type simHost struct {
	logger *slog.Logger
	coex   *mqttcoex.Publisher

	mu        sync.Mutex
	rxFrames  int
	etherType map[uint16]int
	txDone    int
	recycled  int
	hci       int
}

func newSimHost(logger *slog.Logger) *simHost {
	return &simHost{logger: logger, etherType: make(map[uint16]int)}
}

func (h *simHost) RecvWiFi(frame []byte) error {
	hdr := sip.DecodeHeader(frame, sip.ToHost)
	body := frame[sip.HeaderLen:]
	if len(body) < sizeEthernetHeader {
		return errShortEthernet
	}
	ehdr := eth.DecodeEthernetHeader(body)
	h.mu.Lock()
	h.rxFrames++
	h.etherType[ehdr.SizeOrEtherType]++
	h.mu.Unlock()
	h.logger.Debug("host:rx",
		slog.String("sip", hdr.String()),
		slog.String("src", net.HardwareAddr(ehdr.Source[:]).String()),
		slog.String("dst", net.HardwareAddr(ehdr.Destination[:]).String()),
		slog.Uint64("ethertype", uint64(ehdr.SizeOrEtherType)),
	)
	return nil
}

func (h *simHost) CoexState(wifi, ble, bt uint16) {
	h.logger.Info("host:coex", slog.Uint64("wifi", uint64(wifi)), slog.Uint64("ble", uint64(ble)), slog.Uint64("bt", uint64(bt)))
	if h.coex != nil {
		h.coex.CoexState(wifi, ble, bt)
	}
}

func (h *simHost) TxDone(b *extconn.TxBuffer) {
	h.mu.Lock()
	h.txDone++
	h.mu.Unlock()
}

func (h *simHost) Recycle(b *extconn.TxBuffer) {
	h.mu.Lock()
	h.recycled++
	h.mu.Unlock()
}

func (h *simHost) RecvBT(payload []byte) {
	h.mu.Lock()
	h.hci++
	h.mu.Unlock()
	h.logger.Debug("host:hci", slog.Int("len", len(payload)))
}

func (h *simHost) received() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rxFrames
}

// ethernetFrame builds an Ethernet II frame.
func ethernetFrame(dst, src net.HardwareAddr, etherType uint16, payload []byte) []byte {
	f := make([]byte, sizeEthernetHeader, sizeEthernetHeader+len(payload))
	copy(f[0:6], dst)
	copy(f[6:12], src)
	f[12] = byte(etherType >> 8)
	f[13] = byte(etherType)
	return append(f, payload...)
}
