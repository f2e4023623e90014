// Package extconn drives a WiFi/Bluetooth coprocessor attached over SDIO.
// It downloads firmware, runs the boot handshake and multiplexes WiFi
// frames and Bluetooth HCI traffic over the serial interface protocol.
package extconn

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/exp/constraints"
)

var (
	errNoFunctions  = errors.New("extconn: no function enabled")
	errNoWiFiHost   = errors.New("extconn: wifi enabled without WiFiHost")
	errNoBTHost     = errors.New("extconn: bt enabled without BTHost")
	errAlreadyInit  = errors.New("extconn: device already initialized")
	errUninitalized = errors.New("extconn: device not initialized")
)

// Device owns a coprocessor: its session and the receive, WiFi transmit and
// Bluetooth transmit tasks.
type Device struct {
	logstate
	mu      sync.Mutex
	session *Session
	recv    *Dispatcher
	wifi    *WiFiTx
	bt      *BTTx
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Init downloads fw over tr, starts the receive task, completes the boot
// handshake and starts the transmit tasks of the enabled functions. ctx
// bounds initialization only; tasks run until Close.
func (d *Device) Init(ctx context.Context, tr Transport, fw []byte, cfg Config) (err error) {
	switch {
	case !cfg.Functions.WiFi() && !cfg.Functions.BT():
		return errNoFunctions
	case cfg.Functions.WiFi() && cfg.WiFiHost == nil:
		return errNoWiFiHost
	case cfg.Functions.BT() && cfg.BTHost == nil:
		return errNoBTHost
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return errAlreadyInit
	}
	d.setLogger(cfg.Logger)
	d.info("Init:start", slog.String("functions", cfg.Functions.String()), slog.Int("fwlen", len(fw)))
	start := time.Now()

	s := NewSession(tr, cfg)
	entry, err := s.DownloadFirmware(fw)
	if err != nil {
		return err
	}

	taskctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	defer func() {
		if err != nil {
			d.stop()
			d.cancel = nil
		}
	}()
	var bt *BTTx
	if cfg.Functions.BT() {
		bt = NewBTTx(s, cfg)
	}
	recv := NewDispatcher(s, bt, cfg)
	d.start(taskctx, "recv", cfg.Recv, recv.Run)

	err = s.Bootup(ctx, entry)
	if err != nil {
		s.Stop()
		return err
	}

	var wifi *WiFiTx
	if cfg.Functions.WiFi() {
		wifi = NewWiFiTx(s, cfg)
		d.start(taskctx, "wifi", cfg.WiFi, wifi.Run)
	}
	if bt != nil {
		d.debug("Init:bt-delay", slog.Duration("delay", cfg.BTInitDelay))
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-time.After(cfg.BTInitDelay):
		}
		d.start(taskctx, "bt", cfg.BT, bt.Run)
	}
	d.session = s
	d.recv = recv
	d.wifi = wifi
	d.bt = bt
	d.info("Init:done", slog.Duration("took", time.Since(start)), slog.String("state", s.State().String()))
	return nil
}

func (d *Device) start(ctx context.Context, name string, tc TaskConfig, run func(context.Context) error) {
	d.debug("task:start", slog.String("task", name), tc.attr("cfg"))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if tc.LockThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		err := run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logerr("task:exit", slog.String("task", name), errattr(err))
		}
	}()
}

func (d *Device) stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Close stops all tasks and moves the session to StateStop.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return errUninitalized
	}
	d.stop()
	d.session.Stop()
	d.info("Close:done")
	d.session, d.recv, d.wifi, d.bt, d.cancel = nil, nil, nil, nil, nil
	return nil
}

// Session returns the protocol session, nil before Init.
func (d *Device) Session() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// WiFi returns the WiFi transmit scheduler, nil if WiFi is not enabled.
func (d *Device) WiFi() *WiFiTx {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wifi
}

// BT returns the Bluetooth transmit pipeline, nil if Bluetooth is not enabled.
func (d *Device) BT() *BTTx {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bt
}

// RecvStats returns the receive task counters.
func (d *Device) RecvStats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recv == nil {
		return DispatcherStats{}
	}
	return d.recv.Stats()
}

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}
