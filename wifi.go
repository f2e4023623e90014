package extconn

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

// BufKind classifies a buffer on the WiFi transmit queue.
type BufKind uint8

const (
	// BufData is an 802.11 data frame from the upper stack.
	BufData BufKind = iota
	// BufMgmt is a management frame built by the host stack.
	BufMgmt
	// BufCommand is a framed SIP command.
	BufCommand
	// BufTest is a framed SIP test command; it jumps the queue.
	BufTest
)

func (k BufKind) String() string {
	switch k {
	case BufData:
		return "data"
	case BufMgmt:
		return "mgmt"
	case BufCommand:
		return "cmd"
	case BufTest:
		return "test"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// CompletionProbeReq marks a management buffer carrying a probe request.
const CompletionProbeReq = 1 << 1

// TxDesc is the per buffer transmit metadata.
type TxDesc struct {
	TID    uint8
	AC     uint8
	P2P    bool
	Crypto uint8 // Encryption flags, 7 bits.
	KeyID  uint8 // Hardware key index.
	// AMPDU sends the frame as DATA_AMPDU.
	AMPDU bool
	// CompletionMap selects the completion reports the upper stack expects.
	CompletionMap uint32
}

// TxBuffer is a unit of WiFi transmission. For BufData and BufMgmt Payload
// is the frame body; for BufCommand and BufTest it is a complete SIP frame.
type TxBuffer struct {
	Kind    BufKind
	Payload []byte
	Desc    TxDesc
	// Tracked buffers are handed to WiFiHost.TxDone after they are sent
	// instead of being recycled.
	Tracked bool
}

// command returns the command ID of a framed SIP command buffer.
func (b *TxBuffer) command() (sip.CommandID, bool) {
	if (b.Kind != BufCommand && b.Kind != BufTest) || len(b.Payload) < sip.HeaderLen {
		return 0, false
	}
	hdr := sip.DecodeHeader(b.Payload, sip.ToTarget)
	return hdr.Command()
}

// purgeOnSTARemove reports whether b is discarded when a station is removed:
// data frames, channel configuration and pending probe requests.
func purgeOnSTARemove(b *TxBuffer) bool {
	switch b.Kind {
	case BufData:
		return true
	case BufCommand:
		id, ok := b.command()
		return ok && id == sip.CmdConfig
	case BufMgmt:
		return b.Desc.CompletionMap == CompletionProbeReq
	}
	return false
}

// txBufLen is the size of the sender scratch buffer, which bounds a frame.
const txBufLen = 2048

var (
	errEmptyPayload  = errors.New("extconn: empty payload")
	errFrameTooLarge = errors.New("extconn: frame too large")
	errBadKind       = errors.New("extconn: buffer kind not accepted")
)

// WiFiTx is the WiFi transmit scheduler: a FIFO fed by the upper stack and
// a sender task that drains it when the target has buffer space.
type WiFiTx struct {
	logstate
	link         *link
	session      *Session
	host         WiFiHost
	functions    sip.Functions
	pollInterval time.Duration
	q            *txQueue
	buf          [txBufLen]byte
}

func NewWiFiTx(s *Session, cfg Config) *WiFiTx {
	w := &WiFiTx{
		link:         s.link,
		session:      s,
		host:         cfg.WiFiHost,
		functions:    cfg.Functions,
		pollInterval: cfg.BufferPollInterval,
		q:            newTxQueue(),
	}
	w.setLogger(cfg.Logger)
	return w
}

// SubmitData enqueues a data or management buffer at the tail of the queue.
func (w *WiFiTx) SubmitData(b *TxBuffer) error {
	switch {
	case b == nil || len(b.Payload) == 0:
		return errEmptyPayload
	case b.Kind != BufData && b.Kind != BufMgmt:
		return errBadKind
	case sip.HeaderLen+len(b.Payload) > txBufLen:
		return errFrameTooLarge
	}
	w.q.pushTail(b)
	return nil
}

// SubmitCommand frames payload as a SIP command and enqueues it. CmdTest
// goes to the head of the queue. A SETSTA that removes a station first
// purges queued data, channel configuration and probe requests.
func (w *WiFiTx) SubmitCommand(id sip.CommandID, payload []byte) error {
	length := sip.FrameLen(len(payload))
	if length > txBufLen {
		return errFrameTooLarge
	}
	frame := make([]byte, length)
	hdr := sip.Header{Type: sip.TypeCtrl, Length: uint16(length), Info: sip.CommandInfo{ID: id}}
	hdr.Put(frame)
	copy(frame[sip.HeaderLen:], payload)
	b := &TxBuffer{Kind: BufCommand, Payload: frame}

	switch id {
	case sip.CmdTest:
		b.Kind = BufTest
		w.q.pushHead(b)
		return nil
	case sip.CmdSetSTA:
		if set, ok := sip.SetSTASet(payload); ok && set == 0 {
			dropped := w.q.clearAndFilter(purgeOnSTARemove)
			w.debug("wifi:sta-remove-purge", slog.Int("dropped", len(dropped)))
			for _, d := range dropped {
				w.release(d)
			}
		}
	}
	w.q.pushTail(b)
	return nil
}

// CoexCapabilities returns the functions enabled on the target.
func (w *WiFiTx) CoexCapabilities() sip.Functions { return w.functions }

// Pending returns the number of queued buffers.
func (w *WiFiTx) Pending() int { return w.q.len() }

// Run sends queued buffers until ctx is done.
func (w *WiFiTx) Run(ctx context.Context) error {
	w.info("wifi:tx-start")
	for {
		b := w.q.popHead()
		if b == nil {
			select {
			case <-ctx.Done():
				w.info("wifi:tx-stop")
				return ctx.Err()
			case <-w.q.work:
			}
			continue
		}
		err := w.send(ctx, b)
		if ctx.Err() != nil {
			w.release(b)
			w.info("wifi:tx-stop")
			return ctx.Err()
		} else if err != nil {
			w.logerr("wifi:tx", slog.String("kind", b.Kind.String()), errattr(err))
			w.release(b)
			continue
		}
		if b.Tracked && w.host != nil {
			w.host.TxDone(b)
		} else {
			w.release(b)
		}
	}
}

// release hands a buffer owned by the upper stack back to it.
func (w *WiFiTx) release(b *TxBuffer) {
	if (b.Kind == BufData || b.Kind == BufMgmt) && w.host != nil {
		w.host.Recycle(b)
	}
}

func (w *WiFiTx) send(ctx context.Context, b *TxBuffer) error {
	var hdr sip.Header
	var body []byte
	switch b.Kind {
	case BufCommand, BufTest:
		if len(b.Payload) < sip.HeaderLen {
			return errEmptyPayload
		}
		hdr = sip.DecodeHeader(b.Payload, sip.ToTarget)
		hdr.Type = sip.TypeCtrl
		hdr.Flags |= sip.FlagSync
		body = b.Payload[sip.HeaderLen:]
	default:
		hdr.Type = sip.TypeData
		hdr.Flags = sip.FlagSync
		if b.Desc.AMPDU {
			hdr.Type = sip.TypeDataAMPDU
		}
		hdr.Info = sip.DataInfo{
			TID:     b.Desc.TID,
			AC:      b.Desc.AC,
			P2P:     b.Desc.P2P,
			EncFlag: b.Desc.Crypto,
			HWKeyID: b.Desc.KeyID,
		}
		body = b.Payload
	}
	length := alignup(uint(sip.HeaderLen+len(body)), 4)
	hdr.Length = uint16(length)
	blk := uint(w.session.TxBlockSize())
	if blk == 0 {
		blk = 4
	}
	sendLen := (length + blk - 1) / blk * blk
	if sendLen > txBufLen {
		// Submit bounds payloads, so only a bad block size gets here.
		panic("extconn: wifi frame of " + strconv.Itoa(int(sendLen)) + " bytes overflows " + strconv.Itoa(txBufLen) + " byte scratch")
	}

	err := w.waitBuffers(ctx, sendLen)
	if err != nil {
		return err
	}
	// Sequence numbers are assigned to every frame, commands included.
	hdr.Seq = w.session.nextTxSeq()
	pkt := w.buf[:sendLen]
	hdr.Put(pkt)
	n := copy(pkt[sip.HeaderLen:], body)
	clear(pkt[sip.HeaderLen+n:])
	if w.isTraceEnabled() {
		w.trace("wifi:tx", slog.String("hdr", hdr.String()), slog.Int("sendlen", int(sendLen)))
	}
	return w.link.sendPacket(sdio.FuncWiFi, pkt)
}

// waitBuffers polls the target's free buffer count until n bytes fit.
func (w *WiFiTx) waitBuffers(ctx context.Context, n uint) error {
	var polls int
	for {
		free, err := w.link.bufferSize()
		if err != nil {
			return err
		}
		if uint(free)*sdio.BlockSize >= n {
			return nil
		}
		polls++
		if polls%1000 == 0 {
			w.warn("wifi:tx-wait-buffers", slog.Int("polls", polls), slog.Uint64("free", uint64(free)), slog.Int("need", int(n)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}
