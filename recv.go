package extconn

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

// waitRetryDelay spaces retries after the transport fails to wait for an interrupt.
const waitRetryDelay = 10 * time.Millisecond

// btRecvLen is the largest function 2 packet: an SBP header and a full HCI ACL packet.
const btRecvLen = sip.SBPHeaderLen + 1026

// DispatcherStats counts receive activity since the dispatcher was created.
type DispatcherStats struct {
	Packets   uint64 // SDIO packets read on function 1.
	Frames    uint64 // SIP frames delivered.
	Dropped   uint64 // SIP frames discarded, sequence errors included.
	SeqErrors uint64
}

// Dispatcher is the receive task. It waits on target interrupts, reads
// packets and routes each frame to the session, the WiFi host or the
// Bluetooth host.
type Dispatcher struct {
	logstate
	link      *link
	session   *Session
	functions sip.Functions
	wifi      WiFiHost
	bthost    BTHost
	bt        *BTTx

	wifiWait time.Duration
	btWait   time.Duration

	packets   atomic.Uint64
	frames    atomic.Uint64
	dropped   atomic.Uint64
	seqErrors atomic.Uint64

	buf [sip.MaxRecvLen]byte
}

// NewDispatcher returns a dispatcher for the session's link. bt may be nil
// when Bluetooth is not enabled.
func NewDispatcher(s *Session, bt *BTTx, cfg Config) *Dispatcher {
	d := &Dispatcher{
		link:      s.link,
		session:   s,
		functions: cfg.Functions,
		wifi:      cfg.WiFiHost,
		bthost:    cfg.BTHost,
		bt:        bt,
		wifiWait:  cfg.WiFiRecvWait,
		btWait:    cfg.BTRecvWait,
	}
	d.setLogger(cfg.Logger)
	return d
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Packets:   d.packets.Load(),
		Frames:    d.frames.Load(),
		Dropped:   d.dropped.Load(),
		SeqErrors: d.seqErrors.Load(),
	}
}

// Run services interrupts until ctx is done. Transport failures are logged
// and the loop carries on.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.info("recv:start")
	for {
		err := d.link.tr.WaitInterrupt(ctx)
		if ctx.Err() != nil {
			d.info("recv:stop")
			return ctx.Err()
		} else if err != nil {
			d.logerr("recv:wait-intr", errattr(err))
			select {
			case <-ctx.Done():
				d.info("recv:stop")
				return ctx.Err()
			case <-time.After(waitRetryDelay):
			}
			continue
		}
		raw0, raw1, err := d.readInterrupts()
		if err != nil {
			d.logerr("recv:intr", errattr(err))
			continue
		} else if raw0 == 0 && raw1 == 0 {
			continue
		}
		d.trace("recv:intr", slog.Uint64("raw0", uint64(raw0)), slog.Uint64("raw1", uint64(raw1)))
		if raw0&sdio.IntSLC0RxNewPacket != 0 {
			d.handleWiFi()
		}
		if d.functions.BT() {
			d.handleBT(raw1)
		}
	}
}

// readInterrupts reads and acknowledges the function 1 interrupt word in
// one exclusive section. The function 2 word is acknowledged by its handlers.
func (d *Dispatcher) readInterrupts() (raw0, raw1 uint32, err error) {
	d.link.lock()
	defer d.link.unlock()
	raw0, raw1, err = d.link.tr.Interrupts()
	if err != nil || (raw0 == 0 && raw1 == 0) {
		return raw0, raw1, err
	}
	if raw0 != 0 {
		err = d.link.tr.ClearInterrupts(raw0, 0)
	}
	return raw0, raw1, err
}

func (d *Dispatcher) handleWiFi() {
	n, err := d.link.getPacket(sdio.FuncWiFi, d.buf[:], d.wifiWait)
	if errors.Is(err, sdio.ErrNotFinished) {
		// Walk what fit; the trailing partial frame is dropped by the walker.
		d.warn("recv:wifi-truncated", slog.Int("n", n))
	} else if err != nil {
		d.logerr("recv:wifi-get", errattr(err))
		return
	}
	if n < sip.HeaderLen {
		d.warn("recv:wifi-short", slog.Int("n", n))
		return
	}
	d.packets.Add(1)
	err = sip.Walk(d.buf[:n], sip.ToHost, d.dispatchFrame)
	if err != nil {
		// Nothing after a bad length can be delimited.
		d.dropped.Add(1)
		d.logerr("recv:wifi-packet", slog.Int("n", n), errattr(err))
	}
}

// dispatchFrame never returns an error so one bad frame does not discard
// the rest of the packet.
func (d *Dispatcher) dispatchFrame(hdr sip.Header, frame []byte) error {
	expect := d.session.nextRxSeq()
	if hdr.Seq != expect {
		d.seqErrors.Add(1)
		d.dropped.Add(1)
		d.logerr("recv:seq", slog.Uint64("want", uint64(expect)), slog.Uint64("got", uint64(hdr.Seq)), slog.String("type", hdr.Type.String()))
		return nil
	}
	if d.isTraceEnabled() {
		d.trace("recv:frame", slog.String("hdr", hdr.String()))
	}
	var err error
	switch {
	case hdr.Type == sip.TypeCtrl:
		err = d.session.ParseEvent(frame)
	case hdr.Type.IsData() && d.wifi != nil:
		err = d.wifi.RecvWiFi(frame)
	default:
		d.dropped.Add(1)
		d.warn("recv:unhandled-frame", slog.String("type", hdr.Type.String()), slog.Int("len", len(frame)))
		return nil
	}
	if err != nil {
		d.dropped.Add(1)
		d.logerr("recv:frame", slog.String("type", hdr.Type.String()), errattr(err))
		return nil
	}
	d.frames.Add(1)
	return nil
}

func (d *Dispatcher) handleBT(raw1 uint32) {
	if raw1&sdio.IntSLC1BTRxNewPacket != 0 {
		n, err := d.link.getPacket(sdio.FuncBT, d.buf[:btRecvLen], d.btWait)
		if err != nil {
			d.logerr("recv:bt-get", errattr(err))
		} else if n < sip.SBPHeaderLen {
			d.warn("recv:bt-short", slog.Int("n", n))
		} else if d.bthost != nil {
			d.bthost.RecvBT(d.buf[sip.SBPHeaderLen:n])
		}
	}
	if raw1&sdio.IntSLC1ToHostBit0 != 0 {
		ok, err := d.readBTCredit()
		if err != nil {
			d.logerr("recv:bt-credit", errattr(err))
		} else if ok && d.bt != nil {
			d.bt.GrantCredit()
		}
	}
}

// readBTCredit acknowledges the to-host doorbell and reports whether the
// target signalled free Bluetooth buffer space in CONFIG_W1.
func (d *Dispatcher) readBTCredit() (bool, error) {
	var w1 [4]byte
	d.link.lock()
	defer d.link.unlock()
	err := d.link.tr.ClearInterrupts(0, sdio.IntSLC1ToHostBit0)
	if err != nil {
		return false, err
	}
	err = d.link.tr.ReadBytes(sdio.FuncWiFi, sdio.RegConfigW1, w1[:])
	if err != nil {
		return false, err
	}
	return binary.LittleEndian.Uint32(w1[:])&1 != 0, nil
}
