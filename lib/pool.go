package lib

import (
	"fmt"
	"log"
	"sync"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/pkg/errors"
)

var (
	poolMu sync.Mutex
	// Pool holds MTU-sized receive buffers shared by every connection.
	Pool *rp.RingPool
)

// InitPool creates the receive-buffer ring if it does not exist yet.
func InitPool(size, bufferLength int) *rp.RingPool {
	poolMu.Lock()
	defer poolMu.Unlock()
	if Pool == nil {
		Pool = rp.NewRingPool("STCP: ", size, NewPayload, bufferLength)
	}
	return Pool
}

// Payload is a reusable datagram buffer.
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload is the ring pool's element constructor; its single parameter
// is the buffer length.
func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewPayload: Invalid number of calling parameters. Should be only one: bufferlength")
		return nil
	}
	bufferLength, ok := params[0].(int)
	if !ok {
		log.Println("NewPayload: Invalid data type of bufferLength. Should be of type int")
		return nil
	}
	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

// set the content of the payload
func (p *Payload) SetContent(s string) {
	if err := p.Copy([]byte(s)); err != nil {
		log.Println(err)
	}
}

func (p *Payload) Reset() {
	p.length = 0
}

func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

// Buffer exposes the whole backing array for a receive call.
func (p *Payload) Buffer() []byte {
	return p.payloadBytes
}

func (p *Payload) SetLength(n int) {
	p.length = n
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return errors.Errorf("Payload Copy: Source byte slice(%d) is longer than bufferLength(%d)", len(src), len(p.payloadBytes))
	}
	p.length = copy(p.payloadBytes, src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}

// receiveBuffer borrows a buffer from the pool and returns it with a release
// func. Without a pool a plain slice is allocated.
func receiveBuffer(size int) (*Payload, func()) {
	poolMu.Lock()
	pool := Pool
	poolMu.Unlock()
	if pool != nil {
		if e := pool.GetElement(); e != nil {
			if p, ok := e.Data.(*Payload); ok && len(p.payloadBytes) >= size {
				return p, func() { pool.ReturnElement(e) }
			}
			pool.ReturnElement(e)
		}
	}
	return &Payload{payloadBytes: make([]byte, size)}, func() {}
}
