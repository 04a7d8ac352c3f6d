package lib

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// simChannel is an in-memory Channel. Every datagram the connection sends
// is handed to peer, which may answer through deliver.
type simChannel struct {
	mu         sync.Mutex
	sent       []Segment
	dropEvery  int // drop every n-th sent datagram; 0 keeps all
	sendCount  int
	closeCount int
	peer       func(seg Segment)

	inbox  chan []byte
	broken chan struct{}
	once   sync.Once
}

func newSimChannel(peer func(seg Segment)) *simChannel {
	return &simChannel{
		peer:   peer,
		inbox:  make(chan []byte, 4096),
		broken: make(chan struct{}),
	}
}

func (s *simChannel) Send(b []byte) error {
	select {
	case <-s.broken:
		return errors.Wrap(ErrChannelFailed, "sim send")
	default:
	}
	seg, err := UnmarshalSegment(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, seg)
	s.sendCount++
	drop := s.dropEvery > 0 && s.sendCount%s.dropEvery == 0
	peer := s.peer
	s.mu.Unlock()
	if !drop && peer != nil {
		peer(seg)
	}
	return nil
}

func (s *simChannel) Receive(buf []byte, timeout time.Duration) (int, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-s.inbox:
		return copy(buf, b), nil
	case <-s.broken:
		return 0, errors.Wrap(ErrChannelFailed, "sim receive")
	case <-t.C:
		return 0, &TimeoutError{msg: "sim timeout"}
	}
}

func (s *simChannel) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	return nil
}

func (s *simChannel) deliver(seg Segment) {
	s.deliverRaw(seg.Marshal())
}

func (s *simChannel) deliverRaw(b []byte) {
	s.inbox <- b
}

// breakChannel makes every later call fail permanently.
func (s *simChannel) breakChannel() {
	s.once.Do(func() { close(s.broken) })
}

func (s *simChannel) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// sentWith returns the sent segments whose flags are exactly flags.
func (s *simChannel) sentWith(flags uint8) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Segment
	for _, seg := range s.sent {
		if seg.Flags == flags {
			out = append(out, seg)
		}
	}
	return out
}

// dataSegments returns sent segments carrying payload.
func (s *simChannel) dataSegments() []Segment {
	var out []Segment
	for _, seg := range s.sentWith(ACKFlag) {
		if len(seg.Payload) > 0 {
			out = append(out, seg)
		}
	}
	return out
}

// receiverPeer is a minimal in-order STCP receiver.
type receiverPeer struct {
	mu       sync.Mutex
	ch       *simChannel
	isn      uint32 // sequence number the peer hands out in its SYN-ACK
	window   uint16
	expected uint32
	data     []byte
	synAcks  int
	finAcks  int
}

func newReceiverPeer(isn uint32, window uint16) (*receiverPeer, *simChannel) {
	p := &receiverPeer{isn: isn, window: window, expected: isn}
	p.ch = newSimChannel(p.handle)
	return p, p.ch
}

func (p *receiverPeer) handle(seg Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case seg.Is(SYNFlag):
		p.synAcks++
		p.ch.deliver(NewSegment(7000, p.isn, SYNFlag|ACKFlag, p.window, nil))
	case seg.Is(FINFlag):
		if seg.SequenceNumber == p.expected {
			p.finAcks++
			p.ch.deliver(NewSegment(7001, SeqIncrement(p.expected), ACKFlag|FINFlag, p.window, nil))
		}
	case seg.Is(ACKFlag) && len(seg.Payload) > 0:
		if seg.SequenceNumber == p.expected {
			p.data = append(p.data, seg.Payload...)
			p.expected = seg.End()
		}
		p.ch.deliver(NewSegment(7001, p.expected, ACKFlag, p.window, nil))
	}
}

func (p *receiverPeer) received() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.data...)
}

// testConfig keeps every timer in the millisecond range.
func testConfig() *ConnectionConfig {
	cfg := DefaultConnectionConfig()
	cfg.MTU = DefaultMTU
	cfg.PollInterval = 2 * time.Millisecond
	cfg.PayloadPoolSize = 0
	fast := func(retries int) RetryPolicy {
		return RetryPolicy{
			MaxRetries:     retries,
			InitialTimeout: 10 * time.Millisecond,
			MinTimeout:     5 * time.Millisecond,
			MaxTimeout:     40 * time.Millisecond,
			Multiplier:     2.0,
		}
	}
	cfg.Handshake = fast(20)
	cfg.Teardown = fast(20)
	cfg.Segment = fast(-1)
	return cfg
}

// patientConfig never retransmits data within a test's lifetime, so the
// segments on the wire are exactly the first transmissions.
func patientConfig() *ConnectionConfig {
	cfg := testConfig()
	cfg.Segment.InitialTimeout = 30 * time.Second
	cfg.Segment.MinTimeout = 30 * time.Second
	cfg.Segment.MaxTimeout = 30 * time.Second
	return cfg
}
