package health

import (
	"context"
	"net"
	"time"
)

// TCPProber probes an instance by opening a TCP connection to its address.
// A completed dial is UP; refusal or timeout is DOWN.
type TCPProber struct {
	Address string
	Timeout time.Duration
}

// NewTCPProber creates a prober dialing host:port
func NewTCPProber(address string, timeout time.Duration) *TCPProber {
	return &TCPProber{Address: address, Timeout: timeout}
}

func (p *TCPProber) Kind() string {
	return "tcp"
}

// Probe dials the address once and closes the connection
func (p *TCPProber) Probe(ctx context.Context) Result {
	return run(ctx, p.Timeout, func(ctx context.Context) (Verdict, string) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", p.Address)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return VerdictDown, "probe timed out"
			}
			return VerdictDown, err.Error()
		}
		conn.Close()
		return VerdictUp, ""
	})
}
