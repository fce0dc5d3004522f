package connectivity

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestCheckReachableListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := &Probe{Address: ln.Addr().String(), Timeout: time.Second}
	if !p.Check(context.Background()) {
		t.Fatal("expected listener to be reachable")
	}
}

func TestCheckRefusedIsFalse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := &Probe{Address: addr, Timeout: time.Second}
	if p.Check(context.Background()) {
		t.Fatal("expected closed port to be unreachable")
	}
}

type hangingDialer struct{}

func (hangingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCheckUnreachableReturnsWithinTimeout(t *testing.T) {
	p := &Probe{Address: "10.255.255.1:53", Timeout: 100 * time.Millisecond, Dialer: hangingDialer{}}
	start := time.Now()
	if p.Check(context.Background()) {
		t.Fatal("expected unreachable address to be false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check took %s, expected to respect 100ms timeout", elapsed)
	}
}

type failingDialer struct{ err error }

func (d failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, d.err
}

func TestCheckDNSFailureIsFalse(t *testing.T) {
	p := &Probe{Address: "no-such-host.invalid:53", Timeout: time.Second, Dialer: failingDialer{err: &net.DNSError{Err: "no such host", IsNotFound: true}}}
	if p.Check(context.Background()) {
		t.Fatal("expected DNS failure to be false")
	}
	p.Dialer = failingDialer{err: errors.New("boom")}
	if p.Check(context.Background()) {
		t.Fatal("expected generic failure to be false")
	}
}
