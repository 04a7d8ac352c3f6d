package lib

import (
	"sync"
	"time"

	"github.com/Clouded-Sabre/stcp/config"
	"github.com/Clouded-Sabre/stcp/logging"
	"github.com/pkg/errors"
)

// ConnectionConfig is the per-connection view of config.Config.
type ConnectionConfig struct {
	MTU             int
	Window          uint16        // receive window advertised to the peer
	PollInterval    time.Duration // ack dispatcher read timeout
	MaxInFlight     int           // 0 means unbounded
	PayloadPoolSize int
	Handshake       RetryPolicy
	Teardown        RetryPolicy
	Segment         RetryPolicy
}

func DefaultConnectionConfig() *ConnectionConfig {
	return NewConnectionConfig(config.Default())
}

func NewConnectionConfig(cfg *config.Config) *ConnectionConfig {
	policy := func(retries int) RetryPolicy {
		p := DefaultRetryPolicy()
		p.MaxRetries = retries
		p.InitialTimeout = time.Duration(cfg.InitialTimeoutMs) * time.Millisecond
		p.MinTimeout = time.Duration(cfg.MinTimeoutMs) * time.Millisecond
		p.MaxTimeout = time.Duration(cfg.MaxTimeoutMs) * time.Millisecond
		return p
	}
	return &ConnectionConfig{
		MTU:             cfg.MTU,
		Window:          uint16(cfg.Window),
		PollInterval:    time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		MaxInFlight:     cfg.MaxInFlight,
		PayloadPoolSize: cfg.PayloadPoolSize,
		Handshake:       policy(cfg.HandshakeRetries),
		Teardown:        policy(cfg.TeardownRetries),
		Segment:         policy(cfg.SegmentRetries),
	}
}

func (c *ConnectionConfig) MSS() int {
	return c.MTU - HeaderSize
}

// Connection is the sender side of one STCP connection. Everything below mu
// is shared by the segment senders and the ack dispatcher.
type Connection struct {
	config  *ConnectionConfig
	channel Channel

	sendMu     sync.Mutex // one channel transmission at a time
	dispatchMu sync.Mutex // keeps concurrent writes contiguous
	inFlight   chan struct{}
	wg         sync.WaitGroup // segment senders

	closeSignal    chan struct{} // stops the ack dispatcher
	dispatcherDone chan struct{}
	stopOnce       sync.Once
	releaseOnce    sync.Once

	mu              sync.Mutex
	cond            *sync.Cond
	state           State
	initialSequence uint32
	sendSequence    uint32 // next sequence number to assign
	ackFloor        uint32 // window start
	ackCeiling      uint32 // highest cumulative ack seen
	windowSize      uint16 // peer's advertised window
	windowCursor    uint32 // end of the last segment whose first transmission was issued
	ackToSend       uint32
	fatal           error
	abort           chan struct{} // closed with the first fatal error
}

func newConnection(ch Channel, cfg *ConnectionConfig) *Connection {
	c := &Connection{
		config:      cfg,
		channel:     ch,
		closeSignal: make(chan struct{}),
		abort:       make(chan struct{}),
		state:       Closed,
	}
	c.cond = sync.NewCond(&c.mu)
	if cfg.MaxInFlight > 0 {
		c.inFlight = make(chan struct{}, cfg.MaxInFlight)
	}
	return c
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()
	if old != s {
		logging.Log("init", "state %v -> %v", old, s)
	}
}

// Err returns the first fatal error recorded on the connection.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Snapshot is a consistent copy of the sequence and window counters.
type Snapshot struct {
	State           State
	InitialSequence uint32
	SendSequence    uint32
	AckFloor        uint32
	AckCeiling      uint32
	WindowSize      uint16
	WindowCursor    uint32
	AckToSend       uint32
}

func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:           c.state,
		InitialSequence: c.initialSequence,
		SendSequence:    c.sendSequence,
		AckFloor:        c.ackFloor,
		AckCeiling:      c.ackCeiling,
		WindowSize:      c.windowSize,
		WindowCursor:    c.windowCursor,
		AckToSend:       c.ackToSend,
	}
}

// establish records the peer's SYN-ACK.
func (c *Connection) establish(synAck Segment) {
	c.mu.Lock()
	isn := synAck.AcknowledgmentNum
	c.initialSequence = isn
	c.sendSequence = isn
	c.ackFloor = isn
	c.ackCeiling = isn
	c.windowCursor = isn
	c.windowSize = synAck.WindowSize
	c.ackToSend = SeqIncrement(synAck.SequenceNumber)
	c.mu.Unlock()
	c.setState(Established)
}

// applyAck moves the ack edges forward. Acks that are not ahead of the
// current edges, or that cover data never assigned, change nothing.
func (c *Connection) applyAck(seg Segment) bool {
	ack := seg.AcknowledgmentNum
	c.mu.Lock()
	defer c.mu.Unlock()
	if isGreater(ack, c.sendSequence) {
		logging.Log("error", "ack %d beyond send sequence %d, discarding", ack, c.sendSequence)
		return false
	}
	advanced := false
	if isGreater(ack, c.ackFloor) {
		c.ackFloor = ack
		advanced = true
	}
	if isGreater(ack, c.ackCeiling) {
		c.ackCeiling = ack
		c.windowSize = seg.WindowSize
		advanced = true
	}
	if advanced {
		c.cond.Broadcast()
	}
	return advanced
}

// fail records err as the connection's fatal error unless one is already
// recorded, and wakes every waiter.
func (c *Connection) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failLocked(err)
}

func (c *Connection) failLocked(err error) error {
	if c.fatal == nil {
		c.fatal = err
		close(c.abort)
		c.cond.Broadcast()
		if errors.Cause(err) != ErrConnectionClosed {
			logging.Log("failure", "connection failed: %v", err)
		}
	}
	return c.fatal
}

func (c *Connection) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// waitLocked blocks until done reports true, a fatal error is recorded or
// timeout elapses. A timeout <= 0 waits without limit. c.mu must be held.
func (c *Connection) waitLocked(done func() bool, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.AfterFunc(timeout, c.wake)
		defer t.Stop()
	}
	for !done() {
		if c.fatal != nil {
			return c.fatal
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return &TimeoutError{msg: "timed out waiting for ack"}
		}
		c.cond.Wait()
	}
	return nil
}

// advanceCursorLocked moves windowCursor forward to end.
func (c *Connection) advanceCursorLocked(end uint32) {
	if isGreater(end, c.windowCursor) {
		c.windowCursor = end
		c.cond.Broadcast()
	}
}

// transmit marshals a fresh image of seg and hands it to the channel.
// Failures that are not permanent count as a lost datagram.
func (c *Connection) transmit(seg Segment) error {
	b := seg.Marshal()
	c.sendMu.Lock()
	err := c.channel.Send(b)
	c.sendMu.Unlock()
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrChannelFailed) {
		return err
	}
	logging.Log("error", "send of seq %d failed, treating as lost: %v", seg.SequenceNumber, err)
	return nil
}

// awaitReply reads from the channel until accept takes a valid segment or
// timeout elapses. Corrupt and unwanted segments are dropped.
func (c *Connection) awaitReply(buf []byte, timeout time.Duration, accept func(Segment) bool) (Segment, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Segment{}, &TimeoutError{msg: "timed out waiting for reply"}
		}
		if c.config.PollInterval > 0 && remaining > c.config.PollInterval {
			remaining = c.config.PollInterval
		}
		select {
		case <-c.abort:
			return Segment{}, c.Err()
		default:
		}
		n, err := c.channel.Receive(buf, remaining)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return Segment{}, err
		}
		seg, ok := c.validate(buf[:n])
		if !ok {
			continue
		}
		if !accept(seg) {
			logging.Log("segment", "discarding unexpected %v", seg)
			continue
		}
		return seg, nil
	}
}

// validate checks the checksum and decodes a received datagram.
func (c *Connection) validate(b []byte) (Segment, bool) {
	if !VerifyChecksum(b) {
		logging.Log("error", "checksum mismatch on %d byte segment, discarding", len(b))
		return Segment{}, false
	}
	seg, err := UnmarshalSegment(b)
	if err != nil {
		logging.Log("error", "undecodable segment: %v", err)
		return Segment{}, false
	}
	return seg, true
}

// release closes the channel exactly once and marks the connection closed.
func (c *Connection) release() {
	c.releaseOnce.Do(func() {
		c.fail(ErrConnectionClosed)
		if err := c.channel.Close(); err != nil {
			logging.Perror("close", err)
		}
		c.setState(Closed)
	})
}
