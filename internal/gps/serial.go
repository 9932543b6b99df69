package gps

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// PortOpener opens the receiver's UART.
type PortOpener func(path string, baud int) (io.ReadWriteCloser, error)

// OpenSerial opens path as 8N1 at baud.
func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("gps: failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("gps: failed to set timeout on %s: %w", path, err)
	}
	return port, nil
}

// reader pumps bytes from a port into feed on its own goroutine, so the
// backends' poll methods only ever look at buffered state.
type reader struct {
	port   io.ReadWriteCloser
	name   string
	log    *zap.SugaredLogger
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func startReader(port io.ReadWriteCloser, name string, log *zap.SugaredLogger, feed func([]byte)) *reader {
	r := &reader{port: port, name: name, log: log, done: make(chan struct{})}
	go r.loop(feed)
	return r
}

func (r *reader) loop(feed func([]byte)) {
	defer close(r.done)
	buf := make([]byte, 1024)
	for {
		n, err := r.port.Read(buf)
		if n > 0 {
			feed(buf[:n])
		}
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed && err != io.EOF {
				r.log.Warnf("%s read error: %v", r.name, err)
			}
			return
		}
	}
}

func (r *reader) write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrNotOpen
	}
	_, err := r.port.Write(p)
	return err
}

// close stops the read loop and waits for it to exit.
func (r *reader) close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.port.Close()
	<-r.done
	return err
}
