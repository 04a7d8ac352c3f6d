package lib

import (
	"fmt"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const dataOffsetIndex = 12

// Segment is one STCP datagram. Ports and urgent pointer are always zero.
type Segment struct {
	SequenceNumber    uint32
	AcknowledgmentNum uint32
	WindowSize        uint16
	Flags             uint8
	Checksum          uint16 // filled in by UnmarshalSegment; Marshal computes its own
	Payload           []byte
}

func NewSegment(seq, ack uint32, flags uint8, window uint16, payload []byte) Segment {
	return Segment{
		SequenceNumber:    seq,
		AcknowledgmentNum: ack,
		WindowSize:        window,
		Flags:             flags,
		Payload:           payload,
	}
}

// Marshal returns a fresh wire image of the segment with its checksum set.
func (s Segment) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(s.Payload))
	h := header.TCP(buf)
	h.Encode(&header.TCPFields{
		SeqNum:     s.SequenceNumber,
		AckNum:     s.AcknowledgmentNum,
		DataOffset: HeaderSize,
		Flags:      s.Flags,
		WindowSize: s.WindowSize,
	})
	// the offset byte carries the plain header word count
	buf[dataOffsetIndex] = HeaderSize / 4
	copy(buf[HeaderSize:], s.Payload)
	h.SetChecksum(CalculateChecksum(buf))
	return buf
}

// UnmarshalSegment decodes b. The payload is copied so b may be reused.
func UnmarshalSegment(b []byte) (Segment, error) {
	if len(b) < HeaderSize {
		return Segment{}, errors.Wrapf(ErrShortSegment, "%d bytes", len(b))
	}
	h := header.TCP(b)
	s := Segment{
		SequenceNumber:    h.SequenceNumber(),
		AcknowledgmentNum: h.AckNumber(),
		WindowSize:        h.WindowSize(),
		Flags:             h.Flags(),
		Checksum:          h.Checksum(),
	}
	if len(b) > HeaderSize {
		s.Payload = append([]byte(nil), b[HeaderSize:]...)
	}
	return s, nil
}

// End is the sequence number just past the segment's payload.
func (s Segment) End() uint32 {
	return SeqAdd(s.SequenceNumber, len(s.Payload))
}

func (s Segment) Is(flags uint8) bool {
	return s.Flags == flags
}

func (s Segment) String() string {
	return headerString(s.Flags&SYNFlag != 0, s.Flags&ACKFlag != 0, s.Flags&FINFlag != 0, s.Flags&RSTFlag != 0,
		0, 0, s.Checksum, s.SequenceNumber, s.AcknowledgmentNum, s.WindowSize)
}

func headerString(syn, ack, fin, rst bool, src, dst, cksum uint16, seq, ackNo uint32, win uint16) string {
	flag := func(set bool, name string) string {
		if set {
			return name + " "
		}
		return ""
	}
	return fmt.Sprintf("%s%s%s%s%d->%d CkSum: 0x%04x Seq: %d (%08x) Ack: %d (%08x) Win: %d",
		flag(syn, "SYN"), flag(ack, "ACK"), flag(fin, "FIN"), flag(rst, "RST"),
		src, dst, cksum, seq, seq, ackNo, ackNo, win)
}

// CalculateChecksum is the Internet checksum of buffer: one's-complement sum
// of 16-bit words, odd trailing byte padded with zero, complemented.
func CalculateChecksum(buffer []byte) uint16 {
	return ^header.Checksum(buffer, 0)
}

// VerifyChecksum recomputes the checksum over a received segment, checksum
// field included, and accepts it when the result is zero.
func VerifyChecksum(buffer []byte) bool {
	if len(buffer) < HeaderSize {
		return false
	}
	return CalculateChecksum(buffer) == 0
}
