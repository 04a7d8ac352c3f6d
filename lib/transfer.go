package lib

import (
	"context"

	"github.com/pkg/errors"
)

// Send queues data for reliable delivery. It splits data into MSS-sized
// segments, reserves their sequence range and starts one sender per segment.
// It does not wait for acknowledgments; use Wait or Close for that.
func (c *Connection) Send(data []byte) error {
	return c.SendContext(context.Background(), data)
}

// SendContext is Send with cancellation of the wait for a free in-flight slot.
func (c *Connection) SendContext(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if c.fatal != nil {
		err := c.fatal
		c.mu.Unlock()
		return err
	}
	if c.state != Established {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrNotEstablished, "send in state %v", state)
	}
	seq := c.sendSequence
	c.sendSequence = SeqAdd(seq, len(data))
	c.mu.Unlock()

	buf := append([]byte(nil), data...)
	mss := c.config.MSS()
	for off := 0; off < len(buf); off += mss {
		chunk := buf[off:min(off+mss, len(buf))]
		segSeq := SeqAdd(seq, off)
		if err := c.acquireSlot(ctx); err != nil {
			// release the gates for the segments that will never be sent
			c.fail(errors.Wrap(err, "send"))
			return c.Err()
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.releaseSlot()
			c.sendSegment(segSeq, chunk)
		}()
	}
	return nil
}

func (c *Connection) acquireSlot(ctx context.Context) error {
	if c.inFlight == nil {
		return nil
	}
	select {
	case c.inFlight <- struct{}{}:
		return nil
	case <-c.abort:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) releaseSlot() {
	if c.inFlight != nil {
		<-c.inFlight
	}
}

// Wait blocks until every dispatched segment is acknowledged or the
// connection fails. If ctx ends first the connection is failed with the
// context error so that no sender is left running.
func (c *Connection) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.fail(errors.Wrap(ctx.Err(), "wait"))
		<-done
	}
	return c.Err()
}
