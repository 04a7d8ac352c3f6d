/*
waitports blocks until the sender and receiver UDP ports are free.

It binds each port in turn, retrying once a second while another process
still holds it, then releases both. Run it before starting a test so that
stale processes from an earlier run do not steal the datagrams.

Usage:
  ./waitports [receiverPort [senderPort]]

Ports default to the per-user receiver port and the one after it.
*/

package main

import (
	"log"
	"net"
	"os"
	"strconv"

	"github.com/Clouded-Sabre/stcp/lib"
)

// claimUDPPort binds port, waiting one second between attempts.
func claimUDPPort(port int, retryMs int) *net.UDPConn {
	for {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err == nil {
			return conn
		}
		log.Printf("Bind failed on port %d: %v", port, err)
		lib.SleepForMs(retryMs)
	}
}

func portArg(args []string, i, def int) int {
	if len(args) <= i {
		return def
	}
	port, err := strconv.Atoi(args[i])
	if err != nil {
		log.Fatalf("Invalid port %q: %v", args[i], err)
	}
	return port
}

func main() {
	rport := portArg(os.Args, 1, lib.DefaultPort())
	sport := portArg(os.Args, 2, lib.DefaultPort()+1)

	c1 := claimUDPPort(rport, 1000)
	c2 := claimUDPPort(sport, 1000)
	c1.Close()
	c2.Close()
	log.Printf("Ports %d and %d are free", rport, sport)
}
