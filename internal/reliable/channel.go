// Package reliable layers sequence numbers, ACKs, and bounded retry over an
// unreliable datagram socket.
package reliable

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"duelforge/engine/internal/message"
	"duelforge/engine/internal/transport"
	"duelforge/engine/internal/wire"
)

// AttemptTimeout is how long a single send attempt waits for its ACK.
const AttemptTimeout = 500 * time.Millisecond

// MaxAttempts bounds how many times in total a message is transmitted (the
// first send plus retransmissions) before the send is reported as failed.
const MaxAttempts = 3

// Channel is the reliable-delivery layer for one peer's outbound traffic.
// A single mutex serializes sends so only one message is ever in flight at
// a time, matching the "single in-flight send per channel" invariant.
type Channel struct {
	mu              sync.Mutex
	conn            transport.PacketConn
	queue           *ArrivalQueue
	nextOutboundSeq uint64

	fwdMu          sync.Mutex
	nextForwardSeq uint64
}

// NewChannel constructs a reliable channel over conn, observing arrivals on
// queue for ACK matching.
func NewChannel(conn transport.PacketConn, queue *ArrivalQueue) *Channel {
	return &Channel{conn: conn, queue: queue, nextOutboundSeq: 1}
}

// SendWithAck assigns the next sequence number and sends msg to addr up to
// MaxAttempts times in total, waiting AttemptTimeout (500ms) after each
// send for a matching ACK. On total failure the sequence counter is NOT advanced, so a
// subsequent send reuses the same number. Returns true once acknowledged.
func (c *Channel) SendWithAck(ctx context.Context, msg wire.Message, addr net.Addr) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.nextOutboundSeq
	out := msg.Clone()
	out["sequence_number"] = fmt.Sprintf("%d", seq)
	payload, err := wire.Encode(out)
	if err != nil {
		return false, fmt.Errorf("reliable: encode: %w", err)
	}

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if _, err := c.conn.WriteTo(payload, addr); err != nil {
			return false, fmt.Errorf("reliable: send attempt %d: %w", attempt+1, err)
		}
		if c.queue.WaitForAck(seq, time.Now().Add(AttemptTimeout)) {
			c.nextOutboundSeq++
			return true, nil
		}
	}
	return false, nil
}

// SendReliable fires a SendWithAck on a fresh goroutine so the caller (the
// receive thread's dispatch-consumer) never blocks on its own outbound
// round trip. Failures are reported to onResult if non-nil.
func (c *Channel) SendReliable(msg wire.Message, addr net.Addr, onResult func(ok bool, err error)) {
	go func() {
		ok, err := c.SendWithAck(context.Background(), msg, addr)
		if onResult != nil {
			onResult(ok, err)
		}
	}()
}

// NextOutboundSeq exposes the next sequence number that will be assigned,
// for diagnostics and tests.
func (c *Channel) NextOutboundSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextOutboundSeq
}

// ForwardBestEffort fire-and-forgets a copy of msg to addr, re-stamped with
// a sequence number from a counter private to forwarded traffic. It is used
// to mirror in-flight attack-round messages to a read-only spectator
// (spec.md §4.7): the recipient is never expected to ACK it, and it shares
// no sequence space with the channel's own SendWithAck traffic.
func (c *Channel) ForwardBestEffort(msg wire.Message, addr net.Addr) {
	c.fwdMu.Lock()
	c.nextForwardSeq++
	seq := c.nextForwardSeq
	c.fwdMu.Unlock()

	out := msg.Clone()
	out["sequence_number"] = fmt.Sprintf("%d", seq)
	payload, err := wire.Encode(out)
	if err != nil {
		return
	}
	_, _ = c.conn.WriteTo(payload, addr)
}

// AckInline sends a bare ACK for the given sequence number, bypassing
// SendWithAck entirely — ACKs are never themselves acknowledged or
// retried.
func AckInline(conn transport.PacketConn, addr net.Addr, seq uint64) error {
	payload, err := wire.Encode(message.NewAck(seq))
	if err != nil {
		return fmt.Errorf("reliable: encode ack: %w", err)
	}
	_, err = conn.WriteTo(payload, addr)
	return err
}
