package lib

import (
	"github.com/Clouded-Sabre/stcp/logging"
	"github.com/pkg/errors"
)

// sendSegment reliably delivers payload at seq. It returns nil once the
// cumulative ack covers the segment, or the connection's fatal error.
func (c *Connection) sendSegment(seq uint32, payload []byte) error {
	end := SeqAdd(seq, len(payload))
	acked := func() bool { return isGreaterOrEqual(c.ackFloor, end) }

	c.mu.Lock()
	defer c.mu.Unlock()
	// whatever happens, never leave later segments waiting on this one
	defer c.advanceCursorLocked(end)

	// ordering gate
	if err := c.waitLocked(func() bool {
		return acked() || isGreaterOrEqual(c.windowCursor, seq)
	}, 0); err != nil {
		return err
	}
	// window gate; the segment at the head of the window always fits
	if err := c.waitLocked(func() bool {
		return acked() || isLessOrEqual(seq, c.ackFloor) ||
			SeqSub(end, c.ackFloor) <= uint32(c.windowSize)
	}, 0); err != nil {
		return err
	}

	backoff := c.config.Segment.NewBackoff()
	for {
		if acked() {
			if backoff.Attempts() == 0 {
				logging.Log("segment", "seq %d already acknowledged, skipping", seq)
			}
			return nil
		}
		if c.fatal != nil {
			return c.fatal
		}
		if !backoff.Attempt() {
			return c.failLocked(errors.Wrapf(ErrRetriesExhausted, "segment %d after %d attempts", seq, backoff.Attempts()))
		}
		seg := NewSegment(seq, c.ackToSend, ACKFlag, c.config.Window, payload)

		c.mu.Unlock()
		err := c.transmit(seg)
		c.mu.Lock()
		if err != nil {
			return c.failLocked(err)
		}
		if backoff.Attempts() == 1 {
			c.advanceCursorLocked(end)
			logging.Log("segment", "sent seq %d len %d", seq, len(payload))
		} else {
			logging.Log("segment", "retransmitted seq %d len %d (attempt %d)", seq, len(payload), backoff.Attempts())
		}

		err = c.waitLocked(acked, backoff.Timeout())
		switch {
		case err == nil:
		case isTimeout(err):
			backoff.Next()
		default:
			return err
		}
	}
}
