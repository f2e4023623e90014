package extconn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
)

// maxHCILen is the largest HCI packet carried in one SBP frame.
const maxHCILen = btRecvLen - sip.SBPHeaderLen

var (
	// ErrQueueFull is returned when a Bluetooth packet could not be queued in time
	// and was dropped.
	ErrQueueFull = errors.New("extconn: bt queue full")

	errHCIPacketTooLarge = errors.New("extconn: hci packet too large")
)

// BTTx is the Bluetooth transmit pipeline. Packets are sent one at a time,
// each taking the single credit the target grants back through CONFIG_W1.
type BTTx struct {
	logstate
	link          *link
	submitTimeout time.Duration
	queue         chan []byte
	credit        chan struct{}
	seq           uint32 // Owned by Run.
	buf           [btRecvLen]byte
}

func NewBTTx(s *Session, cfg Config) *BTTx {
	depth := cfg.BTQueueDepth
	if depth <= 0 {
		depth = 1
	}
	bt := &BTTx{
		link:          s.link,
		submitTimeout: cfg.BTSubmitTimeout,
		queue:         make(chan []byte, depth),
		credit:        make(chan struct{}, 1),
	}
	bt.credit <- struct{}{} // Target starts with room for one packet.
	bt.setLogger(cfg.Logger)
	return bt
}

// Submit queues a copy of an HCI packet for transmission, waiting for queue
// space at most the configured submit timeout.
func (bt *BTTx) Submit(hci []byte) error {
	if len(hci) == 0 {
		return errEmptyPayload
	} else if len(hci) > maxHCILen {
		return errHCIPacketTooLarge
	}
	p := append([]byte(nil), hci...)
	select {
	case bt.queue <- p:
		return nil
	default:
	}
	timer := time.NewTimer(bt.submitTimeout)
	defer timer.Stop()
	select {
	case bt.queue <- p:
		return nil
	case <-timer.C:
		bt.warn("bt:drop", slog.Int("len", len(hci)))
		return ErrQueueFull
	}
}

// GrantCredit returns the send credit. Extra grants are absorbed.
func (bt *BTTx) GrantCredit() {
	select {
	case bt.credit <- struct{}{}:
	default:
	}
}

// ReceiveAvailable reports whether the host may deliver a packet to the
// target. Flow control is carried by the credit, so it always may.
func (bt *BTTx) ReceiveAvailable() bool { return true }

// Run sends queued packets as credits arrive until ctx is done.
func (bt *BTTx) Run(ctx context.Context) error {
	bt.info("bt:tx-start")
	for {
		select {
		case <-ctx.Done():
			bt.info("bt:tx-stop")
			return ctx.Err()
		case <-bt.credit:
		}
		var p []byte
		select {
		case <-ctx.Done():
			bt.info("bt:tx-stop")
			return ctx.Err()
		case p = <-bt.queue:
		}
		err := bt.send(p)
		if err != nil {
			bt.logerr("bt:tx", slog.Int("len", len(p)), errattr(err))
			bt.GrantCredit() // Nothing reached the target.
		}
	}
}

func (bt *BTTx) send(p []byte) error {
	hdr := sip.SBPHeader{Length: uint32(sip.SBPHeaderLen + len(p)), Seq: bt.seq}
	bt.seq++
	pkt := bt.buf[:hdr.Length]
	hdr.Put(pkt)
	copy(pkt[sip.SBPHeaderLen:], p)
	bt.trace("bt:tx", slog.Int("len", int(hdr.Length)), slog.Uint64("seq", uint64(hdr.Seq)))
	return bt.link.sendPacket(sdio.FuncBT, pkt)
}
