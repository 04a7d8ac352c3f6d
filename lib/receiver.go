package lib

import (
	"github.com/Clouded-Sabre/stcp/logging"
)

// startDispatcher launches the goroutine that owns channel reads while the
// connection is established.
func (c *Connection) startDispatcher() {
	c.dispatcherDone = make(chan struct{})
	go c.handleIncomingPackets()
}

// stopDispatcher stops the ack dispatcher and waits for it to exit.
func (c *Connection) stopDispatcher() {
	c.stopOnce.Do(func() {
		close(c.closeSignal)
		if c.dispatcherDone != nil {
			<-c.dispatcherDone
		}
	})
}

func (c *Connection) handleIncomingPackets() {
	defer close(c.dispatcherDone)
	buf, release := receiveBuffer(c.config.MTU)
	defer release()

	for {
		select {
		case <-c.closeSignal:
			logging.Log("init", "ack dispatcher stopping")
			return
		case <-c.abort:
			return
		default:
		}

		n, err := c.channel.Receive(buf.Buffer(), c.config.PollInterval)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			c.fail(err)
			return
		}
		buf.SetLength(n)
		c.handleIncomingPacket(buf.GetSlice())
	}
}

func (c *Connection) handleIncomingPacket(b []byte) {
	seg, ok := c.validate(b)
	if !ok {
		return
	}
	if !seg.Is(ACKFlag) {
		logging.Log("segment", "discarding non-ACK %v", seg)
		return
	}
	if c.applyAck(seg) {
		logging.Log("segment", "ack %d window %d", seg.AcknowledgmentNum, seg.WindowSize)
	} else {
		logging.Log("segment", "stale ack %d", seg.AcknowledgmentNum)
	}
}
