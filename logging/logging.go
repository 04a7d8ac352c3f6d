// Package logging is a channel-gated diagnostic logger. Messages are tagged
// with a channel name and only written when that channel has been enabled
// with Config.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu       sync.RWMutex
	prefix   = "stcp"
	channels = map[string]bool{}
	logger   = newLogger(os.Stdout)
)

func newLogger(w io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprint(i)
		},
		FormatMessage: func(i interface{}) string {
			mu.RLock()
			p := prefix
			mu.RUnlock()
			return fmt.Sprintf("%s: %v", p, i)
		},
	}
	return zerolog.New(cw)
}

// Config sets the prefix shown on every line and the comma-separated list of
// enabled channels, e.g. "init,segment,error,failure".
func Config(p, enabled string) {
	mu.Lock()
	defer mu.Unlock()
	prefix = p
	channels = map[string]bool{}
	for _, c := range strings.Split(enabled, ",") {
		if c = strings.TrimSpace(c); c != "" {
			channels[c] = true
		}
	}
}

// SetOutput redirects all channels to w.
func SetOutput(w io.Writer) {
	l := newLogger(w)
	mu.Lock()
	logger = l
	mu.Unlock()
}

func Enabled(channel string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return channels[channel]
}

// Log writes a message on channel if it is enabled.
func Log(channel, format string, args ...interface{}) {
	mu.RLock()
	on, l := channels[channel], logger
	mu.RUnlock()
	if !on {
		return
	}
	l.Log().
		Str(zerolog.TimestampFieldName, stamp(time.Now())).
		Str("channel", channel).
		Msgf(format, args...)
}

// Perror logs err on the failure channel, attributed to who.
func Perror(who string, err error) {
	Log("failure", "%s %v", who, err)
}

// stamp renders seconds.millis modulo 10^5 seconds.
func stamp(t time.Time) string {
	ms := t.UnixMilli() % 100000000
	return fmt.Sprintf("%4d.%03d", ms/1000, ms%1000)
}
