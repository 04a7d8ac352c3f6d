/*
sender streams a file to an STCP receiver over UDP.

It opens an STCP connection (SYN / SYN-ACK / ACK), reads the file in
MSS-sized chunks and queues each chunk for reliable delivery, then waits
for every byte to be acknowledged and closes the connection with a FIN
exchange.

Usage:
  ./sender [options] DestinationHost receiveDataOnPort sendDataToPort filename
  ./sender [options] filename

  When only a filename is given the receiver is assumed on localhost at the
  per-user default port, and the sender binds the port after it.

  Options:
    -config string  YAML configuration file (default "config.yaml"; built-in
                    defaults are used when the file does not exist)
    -log string     comma-separated log channels, overrides the config file

The process exits with status 1 on a usage error, an unreadable file, or
a failed handshake, transfer or teardown.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Clouded-Sabre/stcp/config"
	"github.com/Clouded-Sabre/stcp/lib"
	"github.com/Clouded-Sabre/stcp/logging"
)

var (
	configPath  string
	logChannels string
)

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "YAML configuration file")
	flag.StringVar(&logChannels, "log", "", "comma-separated log channels (init,segment,packet,error,failure)")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sender DestinationIPAddress/Name receiveDataOnPort sendDataToPort filename")
	fmt.Fprintln(os.Stderr, "or   : sender filename")
	flag.PrintDefaults()
}

type target struct {
	host         string
	receiverPort int
	senderPort   int
	filename     string
}

// parseArgs accepts either a lone filename or host, ports and filename.
func parseArgs(args []string, defaultPort int) (target, error) {
	t := target{host: "localhost", receiverPort: defaultPort, senderPort: defaultPort + 1}
	if len(args) == 0 || len(args) > 4 {
		return t, errors.New("wrong number of arguments")
	}
	if len(args) == 1 {
		t.filename = args[0]
		return t, nil
	}
	t.host = args[0]
	var err error
	if t.receiverPort, err = strconv.Atoi(args[1]); err != nil {
		return t, fmt.Errorf("bad receiver port %q", args[1])
	}
	if len(args) > 2 {
		if t.senderPort, err = strconv.Atoi(args[2]); err != nil {
			return t, fmt.Errorf("bad sender port %q", args[2])
		}
	}
	if len(args) > 3 {
		t.filename = args[3]
	}
	if t.filename == "" {
		return t, errors.New("no filename given")
	}
	return t, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}
	if logChannels != "" {
		cfg.LogChannels = logChannels
	}
	logging.Config(cfg.LogPrefix, cfg.LogChannels)

	t, err := parseArgs(flag.Args(), lib.DefaultPort())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(1)
	}

	file, err := os.Open(t.filename)
	if err != nil {
		logging.Perror(t.filename, err)
		os.Exit(1)
	}
	defer file.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, file, t, lib.NewConnectionConfig(cfg)); err != nil {
		logging.Perror("sender", err)
		stop()
		file.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, src io.Reader, t target, connConfig *lib.ConnectionConfig) error {
	conn, err := lib.Open(ctx, t.host, t.receiverPort, t.senderPort, connConfig)
	if err != nil {
		return err
	}

	buffer := make([]byte, connConfig.MSS())
	sent := 0
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if serr := conn.SendContext(ctx, buffer[:n]); serr != nil {
				conn.Close(ctx)
				return serr
			}
			sent += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			conn.Close(ctx)
			return err
		}
	}
	logging.Log("init", "queued %d bytes, closing", sent)
	return conn.Close(ctx)
}
