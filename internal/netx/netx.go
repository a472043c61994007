// Package netx provides a lightweight network reachability probe.
package netx

import (
	"net"
	"time"
)

// DefaultProbeAddr is a well-known public resolver used as a reachability
// target when none is configured.
const DefaultProbeAddr = "8.8.8.8:53"

// DefaultProbeTimeout bounds a single connectivity check.
const DefaultProbeTimeout = 3 * time.Second

// Probe checks whether the network is reachable by dialing a fixed address.
type Probe struct {
	Addr    string
	Timeout time.Duration
}

// NewProbe creates a Probe, filling in defaults for empty fields.
func NewProbe(addr string, timeout time.Duration) *Probe {
	if addr == "" {
		addr = DefaultProbeAddr
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Probe{Addr: addr, Timeout: timeout}
}

// Online reports whether a TCP connection to the probe address succeeds
// within the timeout. A timeout is treated the same as a refusal.
func (p *Probe) Online() bool {
	conn, err := net.DialTimeout("tcp", p.Addr, p.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
