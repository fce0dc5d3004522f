// Package connectivity answers "is the internet reachable right now" with a
// single short TCP handshake.
package connectivity

import (
	"context"
	"net"
	"time"

	"github.com/loqalabs/mg-assistant/internal/config"
)

// Dialer is satisfied by *net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Probe dials Address once per Check. Nothing is cached or retried.
type Probe struct {
	Address string
	Timeout time.Duration
	Dialer  Dialer
}

func NewProbe(cfg config.ConnectivityConfig) *Probe {
	return &Probe{
		Address: cfg.ProbeAddress,
		Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// Check reports whether a TCP connection to the probe address could be
// opened within the timeout. Refusal, DNS failure and timeouts are all false.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
