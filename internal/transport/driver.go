// Package transport implements the I/O driver (C6): it owns the control
// and data UDP sockets and translates the Python original's
// epoll-readable-handle model into Go's idiomatic form — a goroutine per
// socket feeding a channel the event loop selects on, rather than raw
// file descriptors registered with a multiplexer.
package transport

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/laenzlinger/rtpmidi-bridge/internal/applemidi"
)

// Channel identifies which of the two sockets a Datagram arrived on.
type Channel int

const (
	ControlChannel Channel = iota
	DataChannel
)

func (c Channel) String() string {
	if c == DataChannel {
		return "data"
	}
	return "control"
}

// Datagram is one inbound UDP read, classified by channel.
type Datagram struct {
	Channel Channel
	Addr    *net.UDPAddr
	Payload []byte
}

// IsControlCommand reports whether the datagram's payload carries the
// 0xFFFF AppleMIDI control prefix, regardless of which socket it arrived
// on (the data channel also carries control commands during the
// handshake, per spec).
func (d Datagram) IsControlCommand() bool {
	return applemidi.IsControlCommand(d.Payload)
}

// Driver owns the control socket (bound to a configured port) and the
// data socket (bound to port+1), and demuxes inbound datagrams through
// a flood limiter before handing them to the event loop.
type Driver struct {
	control *net.UDPConn
	data    *net.UDPConn

	ControlPort int
	DataPort    int

	incoming chan Datagram
	limiter  *FloodLimiter
	logger   *slog.Logger
}

// NewDriver binds the control socket to port and the data socket to
// port+1 on all interfaces.
func NewDriver(port int, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	control, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind control socket on port %d: %w", port, err)
	}
	data, err := net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("bind data socket on port %d: %w", port+1, err)
	}

	d := &Driver{
		control:     control,
		data:        data,
		ControlPort: port,
		DataPort:    port + 1,
		incoming:    make(chan Datagram, 64),
		limiter:     NewFloodLimiter(DefaultFloodLimiterConfig()),
		logger:      logger.With("subsystem", "transport"),
	}
	go d.readLoop(control, ControlChannel)
	go d.readLoop(data, DataChannel)
	return d, nil
}

func (d *Driver) readLoop(conn *net.UDPConn, ch Channel) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			d.logger.Debug("socket closed, stopping read loop", "channel", ch, "error", err)
			return
		}
		if !d.limiter.Allow(addr.IP.String()) {
			d.logger.Warn("dropping datagram from flooding source", "addr", addr, "channel", ch)
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		d.incoming <- Datagram{Channel: ch, Addr: addr, Payload: payload}
	}
}

// Incoming returns the channel the event loop selects on for inbound
// datagrams from either socket.
func (d *Driver) Incoming() <-chan Datagram {
	return d.incoming
}

// SendControl writes b to host:port on the control socket.
func (d *Driver) SendControl(host string, port int, b []byte) error {
	return send(d.control, host, port, b)
}

// SendData writes b to host:port on the data socket.
func (d *Driver) SendData(host string, port int, b []byte) error {
	return send(d.data, host, port, b)
}

func send(conn *net.UDPConn, host string, port int, b []byte) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}
	_, err = conn.WriteToUDP(b, addr)
	return err
}

// Close releases both sockets and stops the flood limiter's background
// cleanup.
func (d *Driver) Close() error {
	d.limiter.Stop()
	controlErr := d.control.Close()
	dataErr := d.data.Close()
	if controlErr != nil {
		return controlErr
	}
	return dataErr
}
