package extconn

import (
	"context"
	"sync"
	"time"

	"github.com/soypat/extconn/sdio"
)

// Transport is the packet level SDIO link to the coprocessor. It is
// implemented by [sdio.Host]. Implementations need not be safe for
// concurrent use; the core serializes every call except WaitInterrupt.
type Transport interface {
	ReadBytes(fn sdio.Function, addr uint32, dst []byte) error
	WriteBytes(fn sdio.Function, addr uint32, src []byte) error
	SendPacket(fn sdio.Function, pkt []byte) error
	// GetPacket waits up to wait for a packet and reads it into dst.
	GetPacket(fn sdio.Function, dst []byte, wait time.Duration) (int, error)
	// Interrupts returns the raw interrupt words of both channels.
	Interrupts() (raw0, raw1 uint32, err error)
	ClearInterrupts(intr0, intr1 uint32) error
	// BufferSize returns the free receive buffers on the target in units of [sdio.BlockSize].
	BufferSize() (uint32, error)
	// WaitInterrupt blocks until the target raises an interrupt.
	WaitInterrupt(ctx context.Context) error
}

var _ Transport = (*sdio.Host)(nil)

// link guards the transport with the single global lock. Every transport
// call is made with mu held.
type link struct {
	mu sync.Mutex
	tr Transport
}

func newLink(tr Transport) *link { return &link{tr: tr} }

func (l *link) lock()   { l.mu.Lock() }
func (l *link) unlock() { l.mu.Unlock() }

func (l *link) sendPacket(fn sdio.Function, pkt []byte) error {
	l.lock()
	defer l.unlock()
	return l.tr.SendPacket(fn, pkt)
}

func (l *link) getPacket(fn sdio.Function, dst []byte, wait time.Duration) (int, error) {
	l.lock()
	defer l.unlock()
	return l.tr.GetPacket(fn, dst, wait)
}

func (l *link) writeBytes(fn sdio.Function, addr uint32, src []byte) error {
	l.lock()
	defer l.unlock()
	return l.tr.WriteBytes(fn, addr, src)
}

func (l *link) bufferSize() (uint32, error) {
	l.lock()
	defer l.unlock()
	return l.tr.BufferSize()
}
