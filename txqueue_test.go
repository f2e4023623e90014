package extconn

import "testing"

func TestTxQueueClearAndFilter(t *testing.T) {
	q := newTxQueue()
	for i := 1; i <= 5; i++ {
		q.pushTail(&TxBuffer{Desc: TxDesc{TID: uint8(i)}})
	}
	dropped := q.clearAndFilter(func(b *TxBuffer) bool { return b.Desc.TID%2 == 0 })
	if len(dropped) != 2 || dropped[0].Desc.TID != 2 || dropped[1].Desc.TID != 4 {
		t.Fatalf("want {2,4} dropped, got %v", tids(dropped))
	}
	var kept []*TxBuffer
	for b := q.popHead(); b != nil; b = q.popHead() {
		kept = append(kept, b)
	}
	got := tids(kept)
	if len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Fatalf("want {1,3,5} kept in order, got %v", got)
	}
}

func TestTxQueueOrder(t *testing.T) {
	q := newTxQueue()
	if q.popHead() != nil {
		t.Fatal("empty queue returned buffer")
	}
	q.pushTail(&TxBuffer{Desc: TxDesc{TID: 2}})
	q.pushTail(&TxBuffer{Desc: TxDesc{TID: 3}})
	q.pushHead(&TxBuffer{Desc: TxDesc{TID: 1}})
	if q.len() != 3 {
		t.Fatalf("len %d", q.len())
	}
	select {
	case <-q.work:
	default:
		t.Fatal("push did not signal work")
	}
	for want := uint8(1); want <= 3; want++ {
		b := q.popHead()
		if b == nil || b.Desc.TID != want {
			t.Fatalf("want %d at head", want)
		}
	}
	if q.popHead() != nil || q.len() != 0 {
		t.Fatal("queue not drained")
	}
}

func tids(bufs []*TxBuffer) (ids []uint8) {
	for _, b := range bufs {
		ids = append(ids, b.Desc.TID)
	}
	return ids
}
