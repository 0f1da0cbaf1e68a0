package discovery

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/laenzlinger/rtpmidi-bridge/internal/config"
)

const (
	mdnsGroup   = "224.0.0.251"
	mdnsPort    = 5353
	serviceName = "_apple-midi._udp"
)

// MulticastListener implements Discovery by joining the mDNS multicast
// group and scanning announcements for the AppleMIDI service instance
// name. It does not implement full DNS-SD record parsing; it looks for
// the service name label and the advertised host:port pair the way a
// minimal Bonjour browser would, logging and ignoring anything it
// cannot parse confidently (announcements are advisory, not load
// bearing for core session correctness). It reports each newly seen
// host:port once through added; it never invokes removed, since it does
// not detect a peer that stops advertising.
type MulticastListener struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	logger *slog.Logger

	mu    sync.Mutex
	stop  chan struct{}
	known map[string]bool // "host:port" seen, for de-duplicated add
}

// NewMulticastListener creates a listener bound to the mDNS multicast
// group on every available interface. It does not start listening
// until Start is called.
func NewMulticastListener(logger *slog.Logger) (*MulticastListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: mdnsPort})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	group := net.UDPAddr{IP: net.ParseIP(mdnsGroup)}

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, err
	}
	joined := false
	joinErr := errors.New("no interface available to join the mDNS group")
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], &group); err == nil {
			joined = true
		} else {
			joinErr = err
		}
	}
	if !joined {
		conn.Close()
		return nil, joinErr
	}

	return &MulticastListener{
		conn:   conn,
		pc:     pc,
		logger: logger.With("subsystem", "discovery"),
		known:  make(map[string]bool),
	}, nil
}

// Start implements Discovery.
func (l *MulticastListener) Start(added, removed func(host string, port int)) error {
	l.mu.Lock()
	l.stop = make(chan struct{})
	l.mu.Unlock()

	go l.readLoop(added, removed)
	return nil
}

func (l *MulticastListener) readLoop(added, removed func(host string, port int)) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		n, _, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			l.logger.Error("multicast read failed", "error", err)
			return
		}

		host, port, ok := parseServiceAnnouncement(buf[:n], src)
		if !ok {
			continue
		}

		key := host + ":" + strconv.Itoa(port)
		l.mu.Lock()
		_, seen := l.known[key]
		l.known[key] = true
		l.mu.Unlock()
		if !seen {
			l.logger.Info("service discovered", "host", host, "port", port)
			added(host, port)
		}
	}
}

// parseServiceAnnouncement extracts a host:port pair from a raw mDNS
// packet believed to advertise the AppleMIDI service. It only commits
// to the announcement if the service name label is actually present in
// the packet; otherwise it reports ok=false.
func parseServiceAnnouncement(buf []byte, src net.Addr) (host string, port int, ok bool) {
	if !bytes.Contains(buf, []byte(serviceName)) {
		return "", 0, false
	}
	udpAddr, isUDP := src.(*net.UDPAddr)
	if !isUDP {
		return "", 0, false
	}
	// Without full resource-record parsing this falls back to the
	// announcing host's source address and the protocol's default
	// control port; the advertised port is not independently decoded
	// from the SRV record.
	return udpAddr.IP.String(), config.DefaultControlPort, true
}

// Stop implements Discovery.
func (l *MulticastListener) Stop() error {
	l.mu.Lock()
	if l.stop != nil {
		close(l.stop)
	}
	l.mu.Unlock()
	return l.conn.Close()
}
