package live

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

const (
	// DefaultBufferSize is the socket read buffer, 1MB.
	DefaultBufferSize = 1 << 20
	// DefaultQueueSize is how many datagrams may wait between drains.
	DefaultQueueSize = 65536

	maxDatagram = 64 * 1024
)

// Source yields raw live records. Next never blocks.
type Source interface {
	Next() ([]byte, bool)
	Close() error
}

// Listener receives live records over UDP, one record per datagram, and
// queues them until the session drains them.
type Listener struct {
	conn   *net.UDPConn
	queue  chan []byte
	logger log.Logger

	received atomic.Uint64
	dropped  atomic.Uint64

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Listen binds address and starts reading. A full queue drops new records.
func Listen(logger log.Logger, address string, bufferSize, queueSize int) (*Listener, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", address)
	}
	if err := conn.SetReadBuffer(bufferSize); err != nil {
		level.Warn(logger).Log("msg", "failed to set read buffer", "size", bufferSize, "err", err)
	}

	l := &Listener{
		conn:   conn,
		queue:  make(chan []byte, queueSize),
		logger: log.With(logger, "component", "live-listener", "addr", conn.LocalAddr().String()),
	}
	l.wg.Add(1)
	go l.readLoop()
	level.Info(l.logger).Log("msg", "listening for live stats")
	return l, nil
}

func (l *Listener) readLoop() {
	defer l.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			level.Warn(l.logger).Log("msg", "read failed", "err", err)
			continue
		}
		if n == 0 {
			continue
		}
		l.received.Add(1)
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case l.queue <- pkt:
		default:
			if l.dropped.Add(1)%1000 == 1 {
				level.Warn(l.logger).Log("msg", "queue full, dropping live records", "dropped", l.dropped.Load())
			}
		}
	}
}

// Addr is the bound local address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Next pops a queued record without blocking.
func (l *Listener) Next() ([]byte, bool) {
	select {
	case pkt := <-l.queue:
		return pkt, true
	default:
		return nil, false
	}
}

// Received is the number of datagrams read from the socket.
func (l *Listener) Received() uint64 { return l.received.Load() }

// Dropped is the number of datagrams discarded because the queue was full.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Close stops the read loop and waits for it to exit.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
		l.wg.Wait()
		level.Info(l.logger).Log("msg", "stopped listening", "received", l.Received(), "dropped", l.Dropped())
	})
	return l.closeErr
}
