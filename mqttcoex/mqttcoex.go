// Package mqttcoex publishes coprocessor coexistence state reports to an MQTT broker.
package mqttcoex

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"

	mqtt "github.com/soypat/natiu-mqtt"
)

// PayloadLen is the size of a published coexistence report.
const PayloadLen = 6

var errNotConnected = errors.New("mqttcoex: client not connected")

// State is a coexistence report: the arbiter state of each radio user.
type State struct {
	WiFi uint16
	BLE  uint16
	BT   uint16
}

// Put encodes s into the first PayloadLen bytes of dst as little-endian words.
func (s State) Put(dst []byte) {
	_ = dst[PayloadLen-1]
	binary.LittleEndian.PutUint16(dst[0:], s.WiFi)
	binary.LittleEndian.PutUint16(dst[2:], s.BLE)
	binary.LittleEndian.PutUint16(dst[4:], s.BT)
}

func DecodeState(b []byte) (s State) {
	_ = b[PayloadLen-1]
	s.WiFi = binary.LittleEndian.Uint16(b[0:])
	s.BLE = binary.LittleEndian.Uint16(b[2:])
	s.BT = binary.LittleEndian.Uint16(b[4:])
	return s
}

// Publisher sends each report as a QoS0 message on a fixed topic.
type Publisher struct {
	mu     sync.Mutex
	client *mqtt.Client
	flags  mqtt.PacketFlags
	vars   mqtt.VariablesPublish
	logger *slog.Logger
	buf    [PayloadLen]byte
}

// NewClient returns an MQTT client for publishing that ignores incoming messages.
func NewClient() *mqtt.Client {
	return mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(_ mqtt.Header, _ mqtt.VariablesPublish, r io.Reader) error {
			_, err := io.Copy(io.Discard, r)
			return err
		},
	})
}

// Connect performs the MQTT handshake over rwc.
func Connect(ctx context.Context, client *mqtt.Client, rwc io.ReadWriteCloser, clientID string) error {
	var vc mqtt.VariablesConnect
	vc.SetDefaultMQTT([]byte(clientID))
	return client.Connect(ctx, rwc, &vc)
}

func NewPublisher(client *mqtt.Client, topic string, logger *slog.Logger) (*Publisher, error) {
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client: client,
		flags:  flags,
		vars:   mqtt.VariablesPublish{TopicName: []byte(topic)},
		logger: logger,
	}, nil
}

// Publish sends one report. Fails if the client is not connected.
func (p *Publisher) Publish(s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.client.IsConnected() {
		return errNotConnected
	}
	s.Put(p.buf[:])
	p.vars.PacketIdentifier++
	err := p.client.PublishPayload(p.flags, p.vars, p.buf[:])
	if err != nil && p.logger != nil {
		p.logger.Error("mqttcoex:publish", slog.String("topic", string(p.vars.TopicName)), slog.String("err", err.Error()))
	}
	return err
}

// CoexState publishes a report and logs failures; it fits the coexistence
// callback of a WiFi host.
func (p *Publisher) CoexState(wifi, ble, bt uint16) {
	err := p.Publish(State{WiFi: wifi, BLE: ble, BT: bt})
	if err != nil && p.logger != nil {
		p.logger.Warn("mqttcoex:drop", slog.String("err", err.Error()))
	}
}
