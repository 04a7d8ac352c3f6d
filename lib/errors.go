package lib

import (
	"github.com/pkg/errors"
)

var (
	// ErrChannelFailed marks a channel that will never deliver again.
	ErrChannelFailed    = errors.New("channel failed")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNotEstablished   = errors.New("connection not established")
	ErrConnectionClosed = errors.New("connection closed")
	ErrShortSegment     = errors.New("segment shorter than header")
)

func isTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
