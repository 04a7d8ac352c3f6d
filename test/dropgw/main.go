/*
dropgw is a lossy UDP relay for exercising an STCP sender by hand.

The sender is pointed at the gateway, the gateway forwards every datagram
to the receiver and relays the replies back. Each datagram may be dropped
or corrupted at random, in either direction, and every relayed segment
is decoded and logged.

Usage:
  ./dropgw [options]
  Options:
    -port int         Gateway UDP port (default 9901)
    -target string    Receiver address (default "127.0.0.1:9900")
    -droprate float   Datagram drop rate 0.0-1.0 (default 0.1)
    -corrupt float    Datagram corruption rate 0.0-1.0 (default 0)
*/

package main

import (
	"errors"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/stcp/lib"
)

var (
	gatewayPort int
	targetAddr  string
	dropRate    float64
	corruptRate float64
)

func init() {
	flag.IntVar(&gatewayPort, "port", 9901, "Gateway UDP port")
	flag.StringVar(&targetAddr, "target", "127.0.0.1:9900", "Receiver address")
	flag.Float64Var(&dropRate, "droprate", 0.1, "Datagram drop rate (0.0-1.0)")
	flag.Float64Var(&corruptRate, "corrupt", 0, "Datagram corruption rate (0.0-1.0)")
}

type verdict int

const (
	forward verdict = iota
	drop
	corrupt
)

// impairment decides the fate of each datagram.
type impairment struct {
	mu          sync.Mutex
	rng         *rand.Rand
	dropRate    float64
	corruptRate float64
}

func (im *impairment) decide() verdict {
	im.mu.Lock()
	defer im.mu.Unlock()
	r := im.rng.Float64()
	switch {
	case r < im.dropRate:
		return drop
	case r < im.dropRate+im.corruptRate:
		return corrupt
	}
	return forward
}

// mangle flips one random bit of b in place.
func (im *impairment) mangle(b []byte) {
	if len(b) == 0 {
		return
	}
	im.mu.Lock()
	i, bit := im.rng.Intn(len(b)), im.rng.Intn(8)
	im.mu.Unlock()
	b[i] ^= 1 << bit
}

// describe renders a relayed datagram for the log.
func describe(b []byte) string {
	tcp, err := lib.DecodeTCP(b)
	if err != nil {
		return "undecodable: " + err.Error()
	}
	return lib.DescribeTCP(tcp)
}

// relay copies datagrams from src to send, applying im.
func relay(src func([]byte) (int, error), send func([]byte) error, im *impairment, direction string) error {
	buf := make([]byte, 65535)
	for {
		n, err := src(buf)
		if err != nil {
			return err
		}
		pkt := buf[:n]
		switch im.decide() {
		case drop:
			log.Printf("Dropped %s %s", direction, describe(pkt))
			continue
		case corrupt:
			im.mangle(pkt)
			log.Printf("Corrupted %s (%d bytes)", direction, n)
		default:
			log.Printf("%s %s", direction, describe(pkt))
		}
		if err := send(pkt); err != nil {
			log.Printf("Error forwarding %s: %v", direction, err)
		}
	}
}

func main() {
	flag.Parse()

	listener, err := net.ListenUDP("udp4", &net.UDPAddr{Port: gatewayPort})
	if err != nil {
		log.Fatalf("Gateway error listening on port %d: %v", gatewayPort, err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", targetAddr)
	if err != nil {
		log.Fatalf("Invalid target address %s: %v", targetAddr, err)
	}
	upstream, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		log.Fatalf("Error connecting to receiver %s: %v", targetAddr, err)
	}
	log.Printf("Gateway started on port %d -> %s (drop rate: %.1f%%, corrupt rate: %.1f%%)",
		gatewayPort, targetAddr, dropRate*100, corruptRate*100)

	im := &impairment{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		dropRate:    dropRate,
		corruptRate: corruptRate,
	}

	var (
		peerMu sync.Mutex
		peer   *net.UDPAddr // the sender, learned from its first datagram
	)

	go func() {
		err := relay(func(b []byte) (int, error) {
			n, addr, err := listener.ReadFromUDP(b)
			if err == nil {
				peerMu.Lock()
				peer = addr
				peerMu.Unlock()
			}
			return n, err
		}, func(b []byte) error {
			_, err := upstream.Write(b)
			return err
		}, im, "sender->receiver")
		if !errors.Is(err, net.ErrClosed) {
			log.Printf("Sender side stopped: %v", err)
		}
	}()

	go func() {
		err := relay(upstream.Read, func(b []byte) error {
			peerMu.Lock()
			addr := peer
			peerMu.Unlock()
			if addr == nil {
				return errors.New("no sender seen yet")
			}
			_, err := listener.WriteToUDP(b, addr)
			return err
		}, im, "receiver->sender")
		if !errors.Is(err, net.ErrClosed) {
			log.Printf("Receiver side stopped: %v", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan
	log.Println("Received SIGINT (Ctrl+C). Shutting down...")
	listener.Close()
	upstream.Close()
}
