package extconn

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

// State is the protocol state of a [Session].
type State uint32

const (
	StateInit State = iota
	StatePrepareBoot
	StateBoot
	StateSendInit
	StateWaitBootup
	StateRun
	StateSuspend
	StateStop
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrepareBoot:
		return "prepare-boot"
	case StateBoot:
		return "boot"
	case StateSendInit:
		return "send-init"
	case StateWaitBootup:
		return "wait-bootup"
	case StateRun:
		return "run"
	case StateSuspend:
		return "suspend"
	case StateStop:
		return "stop"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	// ErrTimeout is returned when the target does not complete the boot handshake in time.
	ErrTimeout = errors.New("extconn: boot handshake timeout")

	errCommandTooLarge = errors.New("extconn: command payload too large")
	errNotEvent        = errors.New("extconn: frame is not a control event")
	errShortEvent      = errors.New("extconn: event body too short")
	errWrongState      = errors.New("extconn: invalid session state for operation")
)

// maxCommandLen is the largest payload SendCommand accepts.
const maxCommandLen = 512 - sip.HeaderLen

// Session owns the SIP protocol state: boot handshake, sequence counters
// and the parameters the target negotiates at bootup.
type Session struct {
	logstate
	link      *link
	functions sip.Functions
	phyInit   [sip.PHYInitLen]byte
	wifi      WiFiHost

	bootTimeout time.Duration
	booted      chan struct{}

	state atomic.Uint32
	rxseq atomic.Uint32 // Advanced by the dispatcher.
	txseq atomic.Uint32 // Advanced by the senders.

	mu       sync.Mutex // Guards bootinfo.
	bootinfo sip.BootInfo

	cmdbuf [sip.HeaderLen + maxCommandLen]byte // Used with link locked.
	rawbuf [sip.BootBufSize]byte               // Used by WriteMemory.
}

func NewSession(tr Transport, cfg Config) *Session {
	return newSession(newLink(tr), cfg)
}

func newSession(l *link, cfg Config) *Session {
	s := &Session{
		link:        l,
		functions:   cfg.Functions,
		phyInit:     cfg.PHYInit,
		wifi:        cfg.WiFiHost,
		bootTimeout: cfg.BootTimeout,
		booted:      make(chan struct{}, 1),
	}
	s.setLogger(cfg.Logger)
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) setState(st State) { s.state.Store(uint32(st)) }

// nextRxSeq returns the expected sequence number of the next received frame
// and advances the counter.
func (s *Session) nextRxSeq() uint32 { return s.rxseq.Add(1) - 1 }

// nextTxSeq returns the sequence number to stamp on the next sent frame and
// advances the counter.
func (s *Session) nextTxSeq() uint32 { return s.txseq.Add(1) - 1 }

// SendCommand frames payload as a CTRL command and sends it on function 1.
// BOOTUP resets both sequence counters and INIT advances the transmit
// counter. The frame itself always carries sequence number 0.
func (s *Session) SendCommand(id sip.CommandID, payload []byte) error {
	if len(payload) > maxCommandLen {
		return errCommandTooLarge
	}
	switch id {
	case sip.CmdBootup:
		s.debug("session:bootup-reset-seq", slog.Uint64("rxseq", uint64(s.rxseq.Load())))
		s.rxseq.Store(0)
		s.txseq.Store(0)
	case sip.CmdInit:
		s.txseq.Add(1)
	}
	s.info("session:cmd", slog.String("cmd", id.String()), slog.Int("len", len(payload)))
	length := sip.FrameLen(len(payload))
	hdr := sip.Header{
		Type:   sip.TypeCtrl,
		Flags:  sip.FlagSync,
		Length: uint16(length),
		Info:   sip.CommandInfo{ID: id},
	}

	s.link.lock()
	defer s.link.unlock()
	buf := s.cmdbuf[:length]
	hdr.Put(buf)
	n := copy(buf[sip.HeaderLen:], payload)
	clear(buf[sip.HeaderLen+n:])
	return s.link.tr.SendPacket(sdio.FuncWiFi, buf)
}

// WriteMemory writes data to target memory at addr in WRITE_MEMORY chunks
// written straight into the function 1 packet window.
func (s *Session) WriteMemory(addr uint32, data []byte) error {
	const hdrs = sip.HeaderLen + sip.CmdWriteMemoryLen
	const chunkMax = sip.BootBufSize - hdrs
	hdr := sip.Header{Type: sip.TypeCtrl, Info: sip.CommandInfo{ID: sip.CmdWriteMemory}}
	var offset int
	for offset < len(data) {
		remains := len(data) - offset
		bufsize := chunkMax
		if remains < chunkMax {
			bufsize = int(alignup(uint(remains), 4))
		}
		n := min(bufsize, remains)
		hdr.Length = uint16(bufsize + hdrs)
		hdr.Seq = s.nextTxSeq()
		cmd := sip.WriteMemory{Addr: addr + uint32(offset), Len: uint32(bufsize)}

		time.Sleep(time.Millisecond)
		hdr.Put(s.rawbuf[:])
		cmd.Put(s.rawbuf[sip.HeaderLen:])
		copy(s.rawbuf[hdrs:], data[offset:offset+n])
		clear(s.rawbuf[hdrs+n : hdrs+bufsize])
		if s.isTraceEnabled() {
			s.trace("session:write-mem", slog.Uint64("addr", uint64(cmd.Addr)), slog.Int("len", bufsize), slog.Uint64("seq", uint64(hdr.Seq)))
		}
		err := s.link.writeBytes(sdio.FuncWiFi, sdio.CMD53EndAddr-uint32(hdr.Length), s.rawbuf[:alignup(hdr.Length, 4)])
		if err != nil {
			s.logerr("session:write-mem", slog.Uint64("addr", uint64(cmd.Addr)), errattr(err))
			return err
		}
		offset += n
	}
	return nil
}

// Bootup sends the BOOTUP command and waits for the target to finish the
// handshake, which the dispatcher drives. Returns ErrTimeout if the target
// does not report bootup in time; the session is then left in StatePrepareBoot.
func (s *Session) Bootup(ctx context.Context, entry uint32) error {
	select {
	case <-s.booted:
	default:
	}
	cmd := sip.Bootup{BootAddr: entry, DiscardLink: 1}
	var payload [sip.CmdBootupLen]byte
	cmd.Put(payload[:])
	// State is set before sending so a prompt TARGET_ON is not taken as out of order.
	prev := s.State()
	s.setState(StatePrepareBoot)
	err := s.SendCommand(sip.CmdBootup, payload[:])
	if err != nil {
		s.setState(prev)
		s.logerr("session:bootup-send", errattr(err))
		return err
	}
	if !s.functions.WiFi() {
		// BT only images never report bootup.
		return nil
	}
	timer := time.NewTimer(s.bootTimeout)
	defer timer.Stop()
	select {
	case <-s.booted:
		s.info("session:boot-done", slog.String("mac", s.WiFiMAC().String()))
		return nil
	case <-timer.C:
		s.logerr("session:boot-timeout", slog.String("state", s.State().String()))
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) sendChipInit() error {
	ci := sip.Init{Functions: s.functions, PHYInit: s.phyInit}
	var payload [sip.CmdInitLen]byte
	ci.Put(payload[:])
	s.info("session:chip-init", slog.String("functions", s.functions.String()))
	return s.SendCommand(sip.CmdInit, payload[:])
}

// ParseEvent handles a CTRL frame received from the target.
func (s *Session) ParseEvent(frame []byte) error {
	if len(frame) < sip.HeaderLen {
		return errShortEvent
	}
	hdr := sip.DecodeHeader(frame, sip.ToHost)
	ev, ok := hdr.Event()
	if !ok {
		return errNotEvent
	}
	body := frame[sip.HeaderLen:]
	switch ev {
	case sip.EvtTargetOn:
		st := s.State()
		if st != StatePrepareBoot && st != StateBoot {
			s.logerr("session:target-on-wrong-state", slog.String("state", st.String()))
			return nil
		}
		s.info("session:target-on")
		s.setState(StateSendInit)
		if err := s.sendChipInit(); err != nil {
			s.logerr("session:chip-init", errattr(err))
			return nil
		}
		s.setState(StateWaitBootup)

	case sip.EvtBootup:
		if len(body) < sip.EvtBootupLen {
			return errShortEvent
		}
		evt := sip.DecodeBootInfo(body)
		s.postInit(&evt)
		s.setState(StateRun)
		select {
		case s.booted <- struct{}{}:
		default:
		}

	case sip.EvtCoexState:
		if !s.functions.WiFi() || s.wifi == nil {
			break
		}
		if len(body) < sip.EvtCoexStateLen {
			return errShortEvent
		}
		coex := sip.DecodeCoexState(body)
		s.debug("session:coex", slog.Uint64("wifi", uint64(coex.WiFi)), slog.Uint64("ble", uint64(coex.BLE)), slog.Uint64("bt", uint64(coex.BT)))
		s.wifi.CoexState(coex.WiFi, coex.BLE, coex.BT)

	case sip.EvtCreditReport:
		// Credits are tracked through the target's buffer token, see BufferSize.

	default:
		s.warn("session:unhandled-event", slog.String("evt", ev.String()))
	}
	return nil
}

func (s *Session) postInit(evt *sip.BootInfo) {
	s.mu.Lock()
	s.bootinfo = *evt
	s.mu.Unlock()
	s.info("session:bootup",
		slog.String("mac", evt.HardwareAddr().String()),
		slog.Int("txblk", int(evt.TxBlockSize)),
		slog.Int("rxblk", int(evt.RxBlockSize)),
		slog.Int("credit-reserve", int(evt.CreditToReserve)),
		slog.Int("noise-floor", int(evt.NoiseFloor)),
	)
}

func (s *Session) bootInfo() sip.BootInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootinfo
}

// WiFiMAC returns the station address reported at bootup.
func (s *Session) WiFiMAC() net.HardwareAddr {
	bi := s.bootInfo()
	return net.HardwareAddr(bi.MAC[:])
}

// BTMAC returns the Bluetooth device address, derived from the station
// address by the target's base MAC convention.
func (s *Session) BTMAC() net.HardwareAddr {
	bi := s.bootInfo()
	mac := bi.MAC
	mac[5] += 2
	return net.HardwareAddr(mac[:])
}

// TxBlockSize returns the block size frames sent to the target are padded to.
func (s *Session) TxBlockSize() uint16 { return s.bootInfo().TxBlockSize }
func (s *Session) RxBlockSize() uint16 { return s.bootInfo().RxBlockSize }
func (s *Session) NoiseFloor() int16 { return s.bootInfo().NoiseFloor }
func (s *Session) CreditToReserve() int { return int(s.bootInfo().CreditToReserve) }

// Suspend moves a running session to StateSuspend.
func (s *Session) Suspend() error {
	if !s.state.CompareAndSwap(uint32(StateRun), uint32(StateSuspend)) {
		return errWrongState
	}
	return nil
}

// Resume moves a suspended session back to StateRun.
func (s *Session) Resume() error {
	if !s.state.CompareAndSwap(uint32(StateSuspend), uint32(StateRun)) {
		return errWrongState
	}
	return nil
}

// Stop moves the session to its terminal state.
func (s *Session) Stop() { s.setState(StateStop) }
