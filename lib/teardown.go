package lib

import (
	"context"

	"github.com/Clouded-Sabre/stcp/logging"
	"github.com/pkg/errors"
)

// Close waits for every outstanding segment to be acknowledged, then runs
// the FIN exchange. The channel is released whatever the outcome.
func (c *Connection) Close(ctx context.Context) error {
	// a Send past its state check finishes dispatching before Wait starts
	c.dispatchMu.Lock()
	c.mu.Lock()
	if c.state != Established {
		state := c.state
		c.mu.Unlock()
		c.dispatchMu.Unlock()
		return errors.Wrapf(ErrConnectionClosed, "close in state %v", state)
	}
	c.state = Closing
	c.mu.Unlock()
	c.dispatchMu.Unlock()
	logging.Log("init", "state %v -> %v", Established, Closing)

	defer c.release()
	if err := c.Wait(ctx); err != nil {
		c.stopDispatcher()
		return errors.Wrap(err, "close: outstanding data not acknowledged")
	}
	c.stopDispatcher()
	c.setState(FinWait)

	c.mu.Lock()
	finSeq, ack := c.sendSequence, c.ackToSend
	c.mu.Unlock()
	want := SeqIncrement(finSeq)

	buf, release := receiveBuffer(c.config.MTU)
	defer release()

	backoff := c.config.Teardown.NewBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "close")
		}
		if !backoff.Attempt() {
			return errors.Wrapf(ErrRetriesExhausted, "close: no FIN-ACK after %d attempts", backoff.Attempts())
		}
		if err := c.transmit(NewSegment(finSeq, ack, FINFlag, c.config.Window, nil)); err != nil {
			return errors.Wrap(err, "close")
		}
		_, err := c.awaitReply(buf.Buffer(), backoff.Timeout(), func(s Segment) bool {
			return s.Is(ACKFlag|FINFlag) && s.AcknowledgmentNum == want
		})
		if err == nil {
			logging.Log("init", "connection closed at seq %d", finSeq)
			return nil
		}
		if !isTimeout(err) {
			return errors.Wrap(err, "close")
		}
		logging.Log("segment", "FIN attempt %d timed out after %v", backoff.Attempts(), backoff.Timeout())
		backoff.Next()
	}
}
