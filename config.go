package extconn

import (
	"log/slog"
	"time"

	"github.com/soypat/extconn/sip"
)

// TaskConfig describes one of the long running tasks. StackSize and
// Priority mirror the coprocessor build configuration and are reported at
// init; the Go scheduler owns goroutine stacks and priorities.
type TaskConfig struct {
	StackSize int
	Priority  int
	// Core is the preferred core. When LockThread is set the task goroutine
	// is locked to its OS thread.
	Core       int
	LockThread bool
}

func (tc TaskConfig) attr(name string) slog.Attr {
	return slog.Group(name,
		slog.Int("stack", tc.StackSize),
		slog.Int("prio", tc.Priority),
		slog.Int("core", tc.Core),
	)
}

type Config struct {
	// Functions selects the coprocessor functions brought up.
	Functions sip.Functions
	// PHYInit is sent verbatim in the INIT command.
	PHYInit [sip.PHYInitLen]byte

	Recv TaskConfig
	WiFi TaskConfig
	BT   TaskConfig

	// BootTimeout bounds the wait for the BOOTUP event.
	BootTimeout time.Duration
	// WiFiRecvWait bounds each function 1 packet fetch.
	WiFiRecvWait time.Duration
	// BTRecvWait bounds each function 2 packet fetch.
	BTRecvWait time.Duration
	// BTSubmitTimeout is how long BT submissions wait on a full queue before being dropped.
	BTSubmitTimeout time.Duration
	// BTQueueDepth is the number of BT payloads that may be pending.
	BTQueueDepth int
	// BufferPollInterval separates free buffer polls while the target is full.
	BufferPollInterval time.Duration
	// BTInitDelay separates WiFi and BT bring-up.
	BTInitDelay time.Duration

	Logger *slog.Logger
	// WiFiHost receives WiFi frames and coexistence state. Required when WiFi is enabled.
	WiFiHost WiFiHost
	// BTHost receives Bluetooth HCI packets. Required when BT is enabled.
	BTHost BTHost
}

func DefaultConfig() Config {
	return Config{
		Functions:          sip.FuncWiFi | sip.FuncBT,
		Recv:               TaskConfig{StackSize: 3072, Priority: 23, Core: 1},
		WiFi:               TaskConfig{StackSize: 3072, Priority: 21, Core: 1},
		BT:                 TaskConfig{StackSize: 3072, Priority: 23, Core: 1},
		BootTimeout:        10 * time.Second,
		WiFiRecvWait:       50 * time.Millisecond,
		BTRecvWait:         50 * time.Millisecond,
		BTSubmitTimeout:    5 * time.Second,
		BTQueueDepth:       25,
		BufferPollInterval: 2 * time.Millisecond,
		BTInitDelay:        100 * time.Millisecond,
	}
}

// DefaultWiFiConfig returns the default configuration with only WiFi enabled.
func DefaultWiFiConfig() Config {
	cfg := DefaultConfig()
	cfg.Functions = sip.FuncWiFi
	return cfg
}

// DefaultBluetoothConfig returns the default configuration with only BT enabled.
func DefaultBluetoothConfig() Config {
	cfg := DefaultConfig()
	cfg.Functions = sip.FuncBT
	return cfg
}
