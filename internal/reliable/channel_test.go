package reliable

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"duelforge/engine/internal/message"
	"duelforge/engine/internal/wire"
)

type fakeAddr string

func (f fakeAddr) Network() string { return "fake" }
func (f fakeAddr) String() string  { return string(f) }

// fakeConn records every write and lets a test script decide which
// outbound attempts receive a simulated ACK back onto the queue.
type fakeConn struct {
	mu      sync.Mutex
	writes  [][]byte
	onWrite func(payload []byte, writeIndex int)
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	idx := len(f.writes)
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite(cp, idx)
	}
	return len(p), nil
}
func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error)  { select {} }
func (f *fakeConn) Close() error                              { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error         { return nil }
func (f *fakeConn) LocalAddr() net.Addr                       { return fakeAddr("local") }
func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestSendWithAckSucceedsOnFirstAttempt(t *testing.T) {
	queue := NewArrivalQueue()
	conn := &fakeConn{}
	conn.onWrite = func(payload []byte, idx int) {
		decoded := wire.Decode(payload)
		seq, _ := message.SequenceNumber(decoded)
		go queue.Push(Arrival{Msg: message.NewAck(seq), From: fakeAddr("peer")})
	}
	ch := NewChannel(conn, queue)

	ok, err := ch.SendWithAck(context.Background(), message.NewDefenseAnnounce(), fakeAddr("peer"))
	if err != nil {
		t.Fatalf("SendWithAck: %v", err)
	}
	if !ok {
		t.Fatalf("expected ack success")
	}
	if conn.writeCount() != 1 {
		t.Fatalf("expected exactly 1 write, got %d", conn.writeCount())
	}
	if ch.NextOutboundSeq() != 2 {
		t.Fatalf("expected sequence to advance to 2, got %d", ch.NextOutboundSeq())
	}
}

func TestSendWithAckFailsAfterMaxAttemptsAndDoesNotAdvanceSeq(t *testing.T) {
	queue := NewArrivalQueue()
	conn := &fakeConn{} // never acks
	ch := NewChannel(conn, queue)

	start := time.Now()
	ok, err := ch.SendWithAck(context.Background(), message.NewDefenseAnnounce(), fakeAddr("peer"))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure with no ack ever arriving")
	}
	if conn.writeCount() != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, conn.writeCount())
	}
	if elapsed < MaxAttempts*AttemptTimeout {
		t.Fatalf("expected to wait out all attempt timeouts, took %s", elapsed)
	}
	if ch.NextOutboundSeq() != 1 {
		t.Fatalf("expected sequence number unchanged after total failure, got %d", ch.NextOutboundSeq())
	}
}

func TestWaitForAckLeavesNonMatchingEntriesInPlace(t *testing.T) {
	queue := NewArrivalQueue()
	real := Arrival{Msg: message.NewAttackAnnounce("flare"), From: fakeAddr("peer")}
	queue.Push(real)
	queue.Push(Arrival{Msg: message.NewAck(99), From: fakeAddr("peer")}) // unmatched ack
	queue.Push(Arrival{Msg: message.NewAck(7), From: fakeAddr("peer")})  // the match

	if !queue.WaitForAck(7, time.Now().Add(time.Second)) {
		t.Fatalf("expected to find matching ack")
	}

	first, ok := queue.Pop()
	if !ok || first.Msg.Type() != string(message.KindAttackAnnounce) {
		t.Fatalf("expected real message preserved in order, got %+v ok=%v", first, ok)
	}
	second, ok := queue.Pop()
	if !ok || second.Msg["ack_number"] != "99" {
		t.Fatalf("expected unmatched ack preserved, got %+v ok=%v", second, ok)
	}
}

func TestAckInlineSendsBareAck(t *testing.T) {
	conn := &fakeConn{}
	if err := AckInline(conn, fakeAddr("peer"), 5); err != nil {
		t.Fatalf("AckInline: %v", err)
	}
	if conn.writeCount() != 1 {
		t.Fatalf("expected 1 write, got %d", conn.writeCount())
	}
	decoded := wire.Decode(conn.writes[0])
	if decoded.Type() != string(message.KindAck) || decoded["ack_number"] != "5" {
		t.Fatalf("unexpected ack payload: %+v", decoded)
	}
	if _, hasSeq := decoded["sequence_number"]; hasSeq {
		t.Fatalf("ACK must not carry its own sequence_number")
	}
}
