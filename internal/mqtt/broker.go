package mqtt

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultPort    = 1883
	defaultTLSPort = 8883
)

// Broker is a parsed broker URL.
type Broker struct {
	Host string
	Port int
	TLS  bool
}

// URI renders the broker in the form paho expects.
func (b Broker) URI() string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(b.Host, strconv.Itoa(b.Port)))
}

// ParseBroker accepts mqtt://, tcp://, mqtts://, ssl:// and tls:// URLs.
// A missing host means localhost and a missing port the scheme default.
func ParseBroker(raw string) (Broker, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Broker{}, fmt.Errorf("parse broker url: %w", err)
	}

	var b Broker
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		b.Port = defaultPort
	case "mqtts", "ssl", "tls":
		b.TLS = true
		b.Port = defaultTLSPort
	default:
		return Broker{}, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	b.Host = u.Hostname()
	if b.Host == "" {
		b.Host = "localhost"
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Broker{}, fmt.Errorf("invalid broker port %q", p)
		}
		b.Port = port
	}
	return b, nil
}
