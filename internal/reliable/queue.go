package reliable

import (
	"net"
	"sync"
	"time"

	"duelforge/engine/internal/message"
	"duelforge/engine/internal/wire"
)

// Arrival is one decoded datagram, paired with the address it came from.
type Arrival struct {
	Msg  wire.Message
	From net.Addr
}

// ArrivalQueue is the FIFO mailbox shared between the receive task
// and the reliable channel's ack-wait. The receive task pushes every
// decoded datagram unconditionally; a single dispatch-consumer goroutine
// drains it in order via Pop. SendWithAck scans the queue in place for a
// matching ACK, removing only that entry — everything else (unmatched
// ACKs, real game messages that arrived mid-wait) is left exactly where it
// was, so the dispatch-consumer still sees every real message exactly once
// and in original arrival order. The queue has no capacity limit: Push
// always appends and never blocks or drops.
type ArrivalQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Arrival
	closed bool
}

// NewArrivalQueue constructs an empty queue.
func NewArrivalQueue() *ArrivalQueue {
	q := &ArrivalQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a newly arrived datagram and wakes any waiters.
func (q *ArrivalQueue) Push(a Arrival) {
	q.mu.Lock()
	q.items = append(q.items, a)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop blocks until an item is available or the queue is closed, returning
// ok=false in the latter case. This is the dispatch-consumer's sole entry
// point.
func (q *ArrivalQueue) Pop() (Arrival, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Arrival{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close unblocks any pending Pop or WaitForAck callers.
func (q *ArrivalQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// WaitForAck scans the queue for an ACK matching seq, blocking until one
// appears or the deadline passes. Only the matching entry is removed;
// every other entry, ACK or not, is left untouched for Pop to deliver.
func (q *ArrivalQueue) WaitForAck(seq uint64, deadline time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for i, item := range q.items {
			if item.Msg.Type() != string(message.KindAck) {
				continue
			}
			ackNum, ok := message.AckNumber(item.Msg)
			if !ok || ackNum != seq {
				continue
			}
			//1.- Remove only the matched ACK; every other entry keeps its position.
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
		if q.closed {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) {
			return false
		}
	}
}
