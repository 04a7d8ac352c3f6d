package lib

import (
	"time"

	"github.com/google/netstack/tcpip/header"
)

// Connection states, numbered as on the wire-compatible reference sender.
type State int

const (
	Closed State = iota
	SynSent
	Established
	Closing
	FinWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case Established:
		return "ESTABLISHED"
	case Closing:
		return "CLOSING"
	case FinWait:
		return "FIN_WAIT"
	}
	return "UNKNOWN"
}

// Flag constants
const (
	FINFlag uint8 = header.TCPFlagFin
	SYNFlag uint8 = header.TCPFlagSyn
	RSTFlag uint8 = header.TCPFlagRst
	ACKFlag uint8 = header.TCPFlagAck
)

const (
	HeaderSize = header.TCPMinimumSize // no options
	DefaultMTU = 300
	MaxWindow  = 65535
	MSS        = DefaultMTU - HeaderSize
)

// Retransmission timer bounds
const (
	InitialTimeout = 1000 * time.Millisecond
	MinTimeout     = 1000 * time.Millisecond
	MaxTimeout     = 4000 * time.Millisecond
)
