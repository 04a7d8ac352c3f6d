package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the sender's tunables. Durations are in milliseconds.
type Config struct {
	MTU              int    `yaml:"mtu"`              // transport MTU, header included
	Window           int    `yaml:"window"`           // receive window advertised to the peer
	InitialTimeoutMs int    `yaml:"initialTimeoutMs"` // first retransmission timeout
	MinTimeoutMs     int    `yaml:"minTimeoutMs"`
	MaxTimeoutMs     int    `yaml:"maxTimeoutMs"`
	PollIntervalMs   int    `yaml:"pollIntervalMs"`   // ack dispatcher read timeout
	HandshakeRetries int    `yaml:"handshakeRetries"` // SYN transmissions before giving up (-1 for infinite)
	TeardownRetries  int    `yaml:"teardownRetries"`  // FIN transmissions before giving up (-1 for infinite)
	SegmentRetries   int    `yaml:"segmentRetries"`   // transmissions per data segment (-1 for infinite)
	MaxInFlight      int    `yaml:"maxInFlight"`      // concurrent segment senders (0 for unbounded)
	PayloadPoolSize  int    `yaml:"payloadPoolSize"`  // receive buffers in the ring pool (0 disables the pool)
	LogPrefix        string `yaml:"logPrefix"`
	LogChannels      string `yaml:"logChannels"` // comma-separated
}

func Default() *Config {
	return &Config{
		MTU:              300,
		Window:           65535,
		InitialTimeoutMs: 1000,
		MinTimeoutMs:     1000,
		MaxTimeoutMs:     4000,
		PollIntervalMs:   100,
		HandshakeRetries: 10,
		TeardownRetries:  10,
		SegmentRetries:   -1,
		MaxInFlight:      64,
		PayloadPoolSize:  16,
		LogPrefix:        "sender",
		LogChannels:      "init,segment,error,failure",
	}
}

// LoadConfig reads a YAML file on top of Default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MTU <= 20 || c.MTU > 65535:
		return errors.Errorf("mtu %d out of range (21..65535)", c.MTU)
	case c.Window <= 0 || c.Window > 65535:
		return errors.Errorf("window %d out of range (1..65535)", c.Window)
	case c.MinTimeoutMs <= 0 || c.InitialTimeoutMs <= 0 || c.MaxTimeoutMs < c.MinTimeoutMs:
		return errors.New("timeouts must be positive with maxTimeoutMs >= minTimeoutMs")
	case c.PollIntervalMs <= 0:
		return errors.New("pollIntervalMs must be positive")
	case c.HandshakeRetries < -1 || c.TeardownRetries < -1 || c.SegmentRetries < -1:
		return errors.New("retry limits must be -1 or non-negative")
	case c.MaxInFlight < 0 || c.PayloadPoolSize < 0:
		return errors.New("maxInFlight and payloadPoolSize must not be negative")
	}
	return nil
}

// MSS is the largest payload carried by one segment.
func (c *Config) MSS() int {
	return c.MTU - 20
}
