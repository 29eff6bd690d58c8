// Package transport connects the CI-V bus engine to a serial port. Serial
// libraries only offer blocking reads, so a reader goroutine moves incoming
// bytes into a queue whose length the bus polls without blocking.
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Drivers.
const (
	DriverBugst = "bugst" // go.bug.st/serial
	DriverTarm  = "tarm"  // github.com/tarm/serial
)

// Config selects and parameterizes a serial driver.
type Config struct {
	Driver string
	Port   string
	Baud   int
}

// Conn is a byte transport for civ.Bus that must be closed after use.
type Conn interface {
	Buffered() int
	ReadByte() (byte, error)
	WriteByte(b byte) error
	Flush() error
	io.Closer
}

// readPoll bounds how long a blocking read may delay Close.
const readPoll = 100 * time.Millisecond

// Open opens the configured serial port.
func Open(cfg Config, logger *slog.Logger) (Conn, error) {
	if cfg.Port == "" {
		return nil, errors.New("transport: no port configured")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 19200
	}
	logger = logger.With("component", "transport", "driver", cfg.Driver, "port", cfg.Port)
	switch cfg.Driver {
	case "", DriverBugst:
		return openBugst(cfg, logger)
	case DriverTarm:
		return openTarm(cfg, logger)
	}
	return nil, fmt.Errorf("transport: unknown driver %q", cfg.Driver)
}

// Port adapts a blocking serial port to civ.Transport.
type Port struct {
	rw     io.ReadWriteCloser
	drain  func() error
	logger *slog.Logger

	mu sync.Mutex
	rx []byte
	tx []byte

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newPort(rw io.ReadWriteCloser, drain func() error, logger *slog.Logger) *Port {
	p := &Port{
		rw:     rw,
		drain:  drain,
		logger: logger,
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.readLoop()
	return p
}

func (p *Port) readLoop() {
	defer p.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second
	buf := make([]byte, 256)

	for {
		n, err := p.rw.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.rx = append(p.rx, buf[:n]...)
			p.mu.Unlock()
		}
		select {
		case <-p.done:
			return
		default:
		}
		if err == nil || err == io.EOF {
			// Timeouts surface as empty reads, with io.EOF on some drivers.
			backoff = 10 * time.Millisecond
			continue
		}

		if !strings.Contains(err.Error(), "closed") {
			p.logger.Error("serial read error", "err", err)
		}
		select {
		case <-time.After(backoff):
		case <-p.done:
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Buffered returns the number of received bytes not read yet.
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

func (p *Port) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) == 0 {
		return 0, io.EOF
	}
	c := p.rx[0]
	p.rx = p.rx[1:]
	return c, nil
}

// WriteByte queues c until the next Flush.
func (p *Port) WriteByte(c byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx = append(p.tx, c)
	return nil
}

// Flush writes the queued bytes and waits until they left the UART.
func (p *Port) Flush() error {
	p.mu.Lock()
	out := p.tx
	p.tx = nil
	p.mu.Unlock()
	if len(out) == 0 {
		return nil
	}
	if _, err := p.rw.Write(out); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	if p.drain != nil {
		if err := p.drain(); err != nil {
			return fmt.Errorf("transport: drain: %w", err)
		}
	}
	return nil
}

// Close stops the reader and closes the port.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.rw.Close()
		p.wg.Wait()
	})
	return err
}
