package discovery

import (
	"net"
	"testing"

	"github.com/laenzlinger/rtpmidi-bridge/internal/config"
)

func TestParseServiceAnnouncementMatches(t *testing.T) {
	buf := []byte("studio._apple-midi._udp.local.")
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: mdnsPort}

	host, port, ok := parseServiceAnnouncement(buf, src)
	if !ok {
		t.Fatal("expected a matching announcement to parse")
	}
	if host != "10.0.0.9" || port != config.DefaultControlPort {
		t.Fatalf("parseServiceAnnouncement() = %q, %d, want 10.0.0.9, %d", host, port, config.DefaultControlPort)
	}
}

func TestParseServiceAnnouncementIgnoresUnrelatedTraffic(t *testing.T) {
	buf := []byte("some-other-service._tcp.local.")
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: mdnsPort}

	if _, _, ok := parseServiceAnnouncement(buf, src); ok {
		t.Fatal("expected non-AppleMIDI announcements to be ignored")
	}
}

func TestParseServiceAnnouncementRequiresUDPSource(t *testing.T) {
	buf := []byte("studio._apple-midi._udp.local.")
	src := &net.TCPAddr{IP: net.ParseIP("10.0.0.9")}

	if _, _, ok := parseServiceAnnouncement(buf, src); ok {
		t.Fatal("expected a non-UDP source address to be rejected")
	}
}
