package lib

import (
	"context"

	"github.com/Clouded-Sabre/stcp/logging"
	"github.com/pkg/errors"
)

// Open binds localPort, connects to host:remotePort and performs the
// handshake.
func Open(ctx context.Context, host string, remotePort, localPort int, cfg *ConnectionConfig) (*Connection, error) {
	logging.Log("init", "Sending from port %d to <%s, %d>", localPort, host, remotePort)
	if cfg.PayloadPoolSize > 0 {
		InitPool(cfg.PayloadPoolSize, cfg.MTU)
	}
	ch, err := OpenUDP(host, remotePort, localPort)
	if err != nil {
		return nil, err
	}
	return Handshake(ctx, ch, cfg)
}

// Handshake sends SYN until a valid SYN-ACK arrives, then acknowledges it
// and starts the ack dispatcher. On failure ch is closed.
func Handshake(ctx context.Context, ch Channel, cfg *ConnectionConfig) (*Connection, error) {
	c := newConnection(ch, cfg)
	c.setState(SynSent)

	buf, release := receiveBuffer(cfg.MTU)
	defer release()

	backoff := cfg.Handshake.NewBackoff()
	for {
		if err := ctx.Err(); err != nil {
			c.release()
			return nil, errors.Wrap(err, "handshake")
		}
		if !backoff.Attempt() {
			c.release()
			return nil, errors.Wrapf(ErrRetriesExhausted, "handshake: no SYN-ACK after %d attempts", backoff.Attempts())
		}

		if err := c.transmit(NewSegment(0, 0, SYNFlag, cfg.Window, nil)); err != nil {
			c.release()
			return nil, errors.Wrap(err, "handshake")
		}
		synAck, err := c.awaitReply(buf.Buffer(), backoff.Timeout(), func(s Segment) bool {
			return s.Is(SYNFlag | ACKFlag)
		})
		if err == nil {
			c.establish(synAck)
			break
		}
		if !isTimeout(err) {
			c.release()
			return nil, errors.Wrap(err, "handshake")
		}
		logging.Log("segment", "SYN attempt %d timed out after %v", backoff.Attempts(), backoff.Timeout())
		backoff.Next()
	}

	s := c.Snapshot()
	logging.Log("init", "connection established: isn %d window %d", s.InitialSequence, s.WindowSize)

	// fire-and-forget; a lost ACK is repaired by the first data segment
	if err := c.transmit(NewSegment(s.SendSequence, s.AckToSend, ACKFlag, cfg.Window, nil)); err != nil {
		c.release()
		return nil, errors.Wrap(err, "handshake")
	}
	c.startDispatcher()
	return c, nil
}
