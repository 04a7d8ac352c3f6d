package lib

import (
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/stcp/logging"
	"github.com/pkg/errors"
)

// Channel is an unreliable datagram pipe to a single peer.
type Channel interface {
	Send(b []byte) error
	// Receive waits up to timeout for one datagram. It returns a
	// *TimeoutError when nothing arrived and an error wrapping
	// ErrChannelFailed when the channel is permanently unusable.
	Receive(buf []byte, timeout time.Duration) (int, error)
	Close() error
}

// UDPChannel is a connected UDP socket.
type UDPChannel struct {
	conn      *net.UDPConn
	closeOnce sync.Once
	closeErr  error
}

// OpenUDP binds localPort and connects to remoteHost:remotePort.
func OpenUDP(remoteHost string, remotePort, localPort int) (*UDPChannel, error) {
	logging.Log("init", "Binding locally to port %d", localPort)
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid host name: %s", remoteHost)
	}
	logging.Log("init", "Configuring UDP \"connection\" to <%s, port %d>", raddr.IP, remotePort)

	conn, err := net.DialUDP("udp4", &net.UDPAddr{Port: localPort}, raddr)
	if err != nil {
		logging.Perror("Bind failed", err)
		return nil, errors.Wrapf(err, "bind to local port %d", localPort)
	}
	logging.Log("init", "UDP \"connection\" to <%s, port %d> configured", raddr.IP, remotePort)
	return &UDPChannel{conn: conn}, nil
}

func (c *UDPChannel) Send(b []byte) error {
	dump('s', b)
	if _, err := c.conn.Write(b); err != nil {
		if isPermanentNetError(err) {
			return errors.Wrapf(ErrChannelFailed, "send: %v", err)
		}
		return errors.Wrap(err, "send")
	}
	return nil
}

func (c *UDPChannel) Receive(buf []byte, timeout time.Duration) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, errors.Wrapf(ErrChannelFailed, "set read deadline: %v", err)
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, &TimeoutError{msg: "receive timed out"}
		}
		logging.Perror("readWithTimeout", err)
		if isPermanentNetError(err) {
			return 0, errors.Wrapf(ErrChannelFailed, "receive: %v", err)
		}
		return 0, &TimeoutError{msg: err.Error()}
	}
	dump('r', buf[:n])
	return n, nil
}

// Close releases the socket; later calls return the first result.
func (c *UDPChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *UDPChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func isPermanentNetError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, net.ErrClosed)
}
