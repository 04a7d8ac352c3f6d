package lib

import (
	"os"
	"time"

	"github.com/google/netstack/tcpip/seqnum"
)

func SeqIncrement(seq uint32) uint32 {
	return SeqIncrementBy(seq, 1)
}

func SeqIncrementBy(seq, inc uint32) uint32 {
	return uint32(seqnum.Value(seq).Add(seqnum.Size(inc))) // implicit modulo
}

// SeqAdd advances a by width bytes of sequence space.
func SeqAdd(a uint32, width int) uint32 {
	return SeqIncrementBy(a, uint32(width))
}

// SeqSub returns a-b modulo 2^32.
func SeqSub(a, b uint32) uint32 {
	return uint32(seqnum.Value(a) - seqnum.Value(b))
}

// SeqDistance is SeqSub read as a signed distance from b to a.
func SeqDistance(a, b uint32) int32 {
	return int32(SeqSub(a, b))
}

// SEQ compare functions, half-space rule
func isGreater(seq1, seq2 uint32) bool {
	return seqnum.Value(seq2).LessThan(seqnum.Value(seq1))
}

func isGreaterOrEqual(seq1, seq2 uint32) bool {
	return isGreater(seq1, seq2) || (seq1 == seq2)
}

func isLess(seq1, seq2 uint32) bool {
	return !isGreaterOrEqual(seq1, seq2)
}

func isLessOrEqual(seq1, seq2 uint32) bool {
	return !isGreater(seq1, seq2)
}

// IsGreater reports whether seq1 is strictly ahead of seq2.
func IsGreater(seq1, seq2 uint32) bool { return isGreater(seq1, seq2) }

func IsGreaterOrEqual(seq1, seq2 uint32) bool { return isGreaterOrEqual(seq1, seq2) }

func IsLess(seq1, seq2 uint32) bool { return isLess(seq1, seq2) }

func IsLessOrEqual(seq1, seq2 uint32) bool { return isLessOrEqual(seq1, seq2) }

func SeqMax(seq1, seq2 uint32) uint32 {
	if isGreater(seq1, seq2) {
		return seq1
	}
	return seq2
}

type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string {
	return e.msg
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return false
}

// sleep for n milliseconds
func SleepForMs(n int) {
	timeout := time.After(time.Duration(n) * time.Millisecond)
	<-timeout
}

// DefaultPort derives a per-user UDP port so that users sharing a host
// rarely collide. The receiver listens on it; the sender binds DefaultPort()+1.
func DefaultPort() int {
	return defaultPortFor(os.Getuid())
}

func defaultPortFor(uid int) int {
	if uid < 0 {
		uid = 0
	}
	return (uid%(32768-512))*2 + 1024
}
