package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/soypat/extconn"
	"github.com/soypat/extconn/sip"
)

func TestLoadSimConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadSimConfig(filepath.Join("testdata", "sim.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := extconn.DefaultConfig()
	if cfg.Device.Functions != sip.FuncWiFi|sip.FuncBT {
		t.Fatalf("unexpected functions: %s", cfg.Device.Functions)
	}
	if cfg.Device.BootTimeout != 2*time.Second {
		t.Fatalf("unexpected boot timeout: %v", cfg.Device.BootTimeout)
	}
	if cfg.Device.BufferPollInterval != time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Device.BufferPollInterval)
	}
	if cfg.Device.BTInitDelay != 0 {
		t.Fatalf("unexpected bt init delay: %v", cfg.Device.BTInitDelay)
	}
	if cfg.Device.WiFiRecvWait != def.WiFiRecvWait {
		t.Fatalf("undefined key changed default: %v", cfg.Device.WiFiRecvWait)
	}
	if cfg.Device.BTQueueDepth != 8 {
		t.Fatalf("unexpected queue depth: %d", cfg.Device.BTQueueDepth)
	}
	if !cfg.Device.Recv.LockThread || !cfg.Device.BT.LockThread {
		t.Fatal("expected locked threads")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
	if cfg.Frames != 4 || cfg.HCIPackets != 2 {
		t.Fatalf("unexpected traffic: %d %d", cfg.Frames, cfg.HCIPackets)
	}
	if cfg.MQTTTopic != "lab/coex" || cfg.MQTTClientID != "extconnsim" || cfg.MQTTAddr != "" {
		t.Fatalf("unexpected mqtt config: %+v", cfg)
	}
}

func TestLoadSimConfigErrors(t *testing.T) {
	for _, name := range []string{"bad_duration.toml", "bad_function.toml", "missing.toml"} {
		_, err := loadSimConfig(filepath.Join("testdata", name))
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	cfg, err := loadSimConfig("")
	if err != nil || cfg.Frames != defaultSimConfig().Frames {
		t.Fatalf("empty path must yield defaults: %v", err)
	}
}

func TestRunSimulation(t *testing.T) {
	cfg := defaultSimConfig()
	cfg.Device.BTInitDelay = 0
	cfg.Device.BufferPollInterval = time.Millisecond
	cfg.Frames = 8
	cfg.HCIPackets = 3
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, cfg, demoFirmware(), logger)
	if err != nil {
		t.Fatal(err)
	}
}
