package lib

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func establish(t *testing.T, ch *simChannel, cfg *ConnectionConfig) *Connection {
	t.Helper()
	c, err := Handshake(context.Background(), ch, cfg)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return c
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestSendSplitsIntoSegments(t *testing.T) {
	peer, ch := newReceiverPeer(1000, MaxWindow)
	c := establish(t, ch, patientConfig())
	data := pattern(3*MSS + 1)

	if err := c.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	segs := ch.dataSegments()
	if len(segs) != 4 {
		t.Fatalf("expected 4 data segments, got %d", len(segs))
	}
	wantLens := []int{MSS, MSS, MSS, 1}
	for i, seg := range segs {
		if want := SeqAdd(1000, i*MSS); seg.SequenceNumber != want {
			t.Errorf("segment %d: expected seq %d, got %d", i, want, seg.SequenceNumber)
		}
		if len(seg.Payload) != wantLens[i] {
			t.Errorf("segment %d: expected %d bytes, got %d", i, wantLens[i], len(seg.Payload))
		}
		if seg.AcknowledgmentNum != 7001 {
			t.Errorf("segment %d: expected ack 7001, got %d", i, seg.AcknowledgmentNum)
		}
	}
	if !bytes.Equal(peer.received(), data) {
		t.Errorf("peer received different bytes")
	}
}

func TestTransferOverLossyChannel(t *testing.T) {
	testCases := []struct {
		name   string
		isn    uint32
		window uint16
		size   int
	}{
		{"small window", 5000, 2 * MSS, 1000},
		{"sequence wraparound", 4294967000, MaxWindow, 1000},
		{"window below one segment", 10, 100, 700},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			peer, ch := newReceiverPeer(tc.isn, tc.window)
			c := establish(t, ch, testConfig())
			ch.mu.Lock()
			ch.dropEvery = 3
			ch.mu.Unlock()

			data := pattern(tc.size)
			if err := c.Send(data); err != nil {
				t.Fatalf("send: %v", err)
			}
			if err := c.Close(context.Background()); err != nil {
				t.Fatalf("close: %v", err)
			}
			if !bytes.Equal(peer.received(), data) {
				t.Errorf("peer received %d bytes, expected %d identical bytes", len(peer.received()), len(data))
			}
			if s := c.Snapshot(); s.State != Closed || s.AckFloor != SeqAdd(tc.isn, tc.size) {
				t.Errorf("unexpected final state %+v", s)
			}
		})
	}
}

func TestAlreadyAckedSegmentIsSkipped(t *testing.T) {
	var ch *simChannel
	ch = newSimChannel(func(seg Segment) {
		switch {
		case seg.Is(SYNFlag):
			ch.deliver(NewSegment(1, 100, SYNFlag|ACKFlag, MSS, nil))
		case seg.Is(ACKFlag) && len(seg.Payload) > 0:
			// cumulative ack for both segments on sight of the first
			ch.deliver(NewSegment(2, SeqAdd(100, 2*MSS), ACKFlag, MSS, nil))
		case seg.Is(FINFlag):
			ch.deliver(NewSegment(2, SeqIncrement(seg.SequenceNumber), ACKFlag|FINFlag, MSS, nil))
		}
	})
	c := establish(t, ch, patientConfig())

	if err := c.Send(pattern(2 * MSS)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	segs := ch.dataSegments()
	if len(segs) != 1 || segs[0].SequenceNumber != 100 {
		t.Errorf("expected only the first segment on the wire, got %v", segs)
	}
}

func TestPartialAckResendsWholeSegment(t *testing.T) {
	var ch *simChannel
	dataSeen := 0
	ch = newSimChannel(func(seg Segment) {
		switch {
		case seg.Is(SYNFlag):
			ch.deliver(NewSegment(1, 100, SYNFlag|ACKFlag, MaxWindow, nil))
		case seg.Is(ACKFlag) && len(seg.Payload) > 0:
			dataSeen++
			ack := seg.End()
			if dataSeen == 1 {
				// acknowledge only part of the first transmission
				ack = SeqAdd(seg.SequenceNumber, 10)
			}
			ch.deliver(NewSegment(2, ack, ACKFlag, MaxWindow, nil))
		case seg.Is(FINFlag):
			ch.deliver(NewSegment(2, SeqIncrement(seg.SequenceNumber), ACKFlag|FINFlag, MaxWindow, nil))
		}
	})
	c := establish(t, ch, testConfig())

	data := pattern(50)
	if err := c.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	segs := ch.dataSegments()
	if len(segs) != 2 {
		t.Fatalf("expected the segment sent twice, got %d transmissions", len(segs))
	}
	for i, seg := range segs {
		if seg.SequenceNumber != 100 || !bytes.Equal(seg.Payload, data) {
			t.Errorf("transmission %d: expected the full segment at seq 100, got %v len %d", i, seg, len(seg.Payload))
		}
	}
	if s := c.Snapshot(); s.AckFloor != 150 {
		t.Errorf("expected ack floor 150, got %d", s.AckFloor)
	}
}

func TestConcurrentSendsDoNotOverlap(t *testing.T) {
	peer, ch := newReceiverPeer(0, MaxWindow)
	c := establish(t, ch, testConfig())

	a := bytes.Repeat([]byte{'a'}, 500)
	b := bytes.Repeat([]byte{'b'}, 500)
	var wg sync.WaitGroup
	for _, chunk := range [][]byte{a, b} {
		wg.Add(1)
		go func(chunk []byte) {
			defer wg.Done()
			if err := c.Send(chunk); err != nil {
				t.Errorf("send: %v", err)
			}
		}(chunk)
	}
	wg.Wait()
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := peer.received()
	ab, ba := append(append([]byte{}, a...), b...), append(append([]byte{}, b...), a...)
	if !bytes.Equal(got, ab) && !bytes.Equal(got, ba) {
		t.Errorf("writes interleaved: %q", got)
	}

	segs := ch.dataSegments()
	starts := map[uint32]bool{}
	for _, seg := range segs {
		starts[seg.SequenceNumber] = true
	}
	var seqs []int
	for s := range starts {
		seqs = append(seqs, int(s))
	}
	sort.Ints(seqs)
	want := []int{0, 280, 500, 780}
	if len(seqs) != len(want) {
		t.Fatalf("expected segment starts %v, got %v", want, seqs)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("expected segment starts %v, got %v", want, seqs)
			break
		}
	}
}

func TestWaitReturnsChannelFailure(t *testing.T) {
	var ch *simChannel
	ch = newSimChannel(func(seg Segment) {
		if seg.Is(SYNFlag) {
			ch.deliver(NewSegment(1, 1, SYNFlag|ACKFlag, MaxWindow, nil))
		}
	})
	c := establish(t, ch, testConfig())
	if err := c.Send(pattern(1000)); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	ch.breakChannel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, ErrChannelFailed) {
		t.Errorf("expected ErrChannelFailed, got %v", err)
	}
	if err := c.Send([]byte("more")); !errors.Is(err, ErrChannelFailed) {
		t.Errorf("expected send on failed connection to fail, got %v", err)
	}
	if err := c.Close(context.Background()); err == nil {
		t.Errorf("expected close of failed connection to report an error")
	}
	if ch.closes() != 1 {
		t.Errorf("expected channel closed once, got %d", ch.closes())
	}
}

func TestWaitHonoursContext(t *testing.T) {
	var ch *simChannel
	ch = newSimChannel(func(seg Segment) {
		if seg.Is(SYNFlag) {
			ch.deliver(NewSegment(1, 1, SYNFlag|ACKFlag, MaxWindow, nil))
		}
	})
	c := establish(t, ch, testConfig())
	defer c.release()
	if err := c.Send(pattern(5 * MSS)); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSegmentRetriesExhausted(t *testing.T) {
	var ch *simChannel
	ch = newSimChannel(func(seg Segment) {
		if seg.Is(SYNFlag) {
			ch.deliver(NewSegment(1, 1, SYNFlag|ACKFlag, MaxWindow, nil))
		}
	})
	cfg := testConfig()
	cfg.Segment.MaxRetries = 2
	c := establish(t, ch, cfg)
	defer c.release()

	if err := c.Send(pattern(MSS)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Wait(context.Background()); !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	if got := len(ch.dataSegments()); got != 2 {
		t.Errorf("expected 2 transmissions, got %d", got)
	}
}

func TestMaxInFlightBoundsSenders(t *testing.T) {
	peer, ch := newReceiverPeer(42, MaxWindow)
	cfg := testConfig()
	cfg.MaxInFlight = 2
	c := establish(t, ch, cfg)

	data := pattern(10 * MSS)
	if err := c.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bytes.Equal(peer.received(), data) {
		t.Errorf("peer received different bytes")
	}
}

func TestSendBeforeEstablished(t *testing.T) {
	c := newConnection(newSimChannel(nil), testConfig())
	if err := c.Send([]byte("x")); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("expected ErrNotEstablished, got %v", err)
	}
}
