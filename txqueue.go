package extconn

import "sync"

// txQueue is the WiFi transmit FIFO. Producers push from any goroutine and
// the sender pops; work is the has-work signal, raised on every push.
type txQueue struct {
	mu    sync.Mutex
	items []*TxBuffer
	work  chan struct{}
}

func newTxQueue() *txQueue {
	return &txQueue{work: make(chan struct{}, 1)}
}

func (q *txQueue) signal() {
	select {
	case q.work <- struct{}{}:
	default:
	}
}

func (q *txQueue) pushTail(b *TxBuffer) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.signal()
}

func (q *txQueue) pushHead(b *TxBuffer) {
	q.mu.Lock()
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = b
	q.mu.Unlock()
	q.signal()
}

// popHead returns nil when the queue is empty.
func (q *txQueue) popHead() *TxBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	return b
}

func (q *txQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// clearAndFilter removes every buffer for which drop returns true and
// returns them in queue order. Kept buffers keep their relative order.
func (q *txQueue) clearAndFilter(drop func(*TxBuffer) bool) (dropped []*TxBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, b := range q.items {
		if drop(b) {
			dropped = append(dropped, b)
		} else {
			kept = append(kept, b)
		}
	}
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}
