package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/soypat/extconn"
	"github.com/soypat/extconn/sip"
)

type fileConfig struct {
	Functions          []string `toml:"functions"`
	BootTimeout        string   `toml:"boot_timeout"`
	WiFiRecvWait       string   `toml:"wifi_recv_wait"`
	BTRecvWait         string   `toml:"bt_recv_wait"`
	BTSubmitTimeout    string   `toml:"bt_submit_timeout"`
	BTQueueDepth       int      `toml:"bt_queue_depth"`
	BufferPollInterval string   `toml:"buffer_poll_interval"`
	BTInitDelay        string   `toml:"bt_init_delay"`
	LockThreads        bool     `toml:"lock_threads"`
	LogLevel           string   `toml:"log_level"`
	Frames             int      `toml:"frames"`
	HCIPackets         int      `toml:"hci_packets"`
	MQTTAddr           string   `toml:"mqtt_addr"`
	MQTTTopic          string   `toml:"mqtt_topic"`
	MQTTClientID       string   `toml:"mqtt_client_id"`
}

type simConfig struct {
	Device   extconn.Config
	LogLevel slog.Level
	// Frames is the number of Ethernet frames the simulated target sends the host.
	Frames int
	// HCIPackets is the number of HCI commands the host sends the target.
	HCIPackets   int
	MQTTAddr     string
	MQTTTopic    string
	MQTTClientID string
}

func defaultSimConfig() simConfig {
	return simConfig{
		Device:       extconn.DefaultConfig(),
		LogLevel:     slog.LevelInfo,
		Frames:       16,
		HCIPackets:   4,
		MQTTTopic:    "extconn/coex",
		MQTTClientID: "extconnsim",
	}
}

func loadSimConfig(path string) (simConfig, error) {
	cfg := defaultSimConfig()
	if path == "" {
		return cfg, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return simConfig{}, fmt.Errorf("load sim config: %w", err)
	}

	if meta.IsDefined("functions") {
		fn, err := parseFunctions(raw.Functions)
		if err != nil {
			return simConfig{}, err
		}
		cfg.Device.Functions = fn
	}
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"boot_timeout", raw.BootTimeout, &cfg.Device.BootTimeout},
		{"wifi_recv_wait", raw.WiFiRecvWait, &cfg.Device.WiFiRecvWait},
		{"bt_recv_wait", raw.BTRecvWait, &cfg.Device.BTRecvWait},
		{"bt_submit_timeout", raw.BTSubmitTimeout, &cfg.Device.BTSubmitTimeout},
		{"buffer_poll_interval", raw.BufferPollInterval, &cfg.Device.BufferPollInterval},
		{"bt_init_delay", raw.BTInitDelay, &cfg.Device.BTInitDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return simConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("bt_queue_depth") {
		if raw.BTQueueDepth <= 0 {
			return simConfig{}, fmt.Errorf("bt_queue_depth must be positive, got %d", raw.BTQueueDepth)
		}
		cfg.Device.BTQueueDepth = raw.BTQueueDepth
	}
	if meta.IsDefined("lock_threads") {
		cfg.Device.Recv.LockThread = raw.LockThreads
		cfg.Device.WiFi.LockThread = raw.LockThreads
		cfg.Device.BT.LockThread = raw.LockThreads
	}
	if meta.IsDefined("log_level") {
		err = cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel)))
		if err != nil {
			return simConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
	}
	if meta.IsDefined("frames") {
		cfg.Frames = raw.Frames
	}
	if meta.IsDefined("hci_packets") {
		cfg.HCIPackets = raw.HCIPackets
	}
	if meta.IsDefined("mqtt_addr") {
		cfg.MQTTAddr = strings.TrimSpace(raw.MQTTAddr)
	}
	if meta.IsDefined("mqtt_topic") {
		cfg.MQTTTopic = strings.TrimSpace(raw.MQTTTopic)
	}
	if meta.IsDefined("mqtt_client_id") {
		cfg.MQTTClientID = strings.TrimSpace(raw.MQTTClientID)
	}
	return cfg, nil
}

func parseFunctions(in []string) (fn sip.Functions, err error) {
	for _, s := range in {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "wifi":
			fn |= sip.FuncWiFi
		case "bt", "bluetooth":
			fn |= sip.FuncBT
		default:
			return 0, fmt.Errorf("unknown function %q", s)
		}
	}
	if fn == 0 {
		return 0, fmt.Errorf("no functions enabled")
	}
	return fn, nil
}
