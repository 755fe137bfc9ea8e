package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber_UpOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber(server.URL+"/healthz", time.Second)
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictUp, result.Verdict)
	assert.Empty(t, result.Detail)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestHTTPProber_DownOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	prober := NewHTTPProber(server.URL+"/healthz", time.Second)
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictDown, result.Verdict)
	assert.Contains(t, result.Detail, "status 500")
}

func TestHTTPProber_DownOnUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	prober := NewHTTPProber(server.URL+"/healthz", time.Second)
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictDown, result.Verdict)
	assert.NotEmpty(t, result.Detail)
}

func TestHTTPProber_TimeoutNeverHangs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	prober := NewHTTPProber(server.URL+"/healthz", 50*time.Millisecond)

	start := time.Now()
	result := prober.Probe(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, VerdictDown, result.Verdict)
	assert.Equal(t, "probe timed out", result.Detail)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestTCPProber_UpWhenListening(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	prober := NewTCPProber(listener.Addr().String(), time.Second)
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictUp, result.Verdict)
}

func TestTCPProber_DownWhenClosed(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	prober := NewTCPProber(addr, time.Second)
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictDown, result.Verdict)
	assert.NotEmpty(t, result.Detail)
}

func TestCommandProber_UpOnZeroExit(t *testing.T) {
	prober := &CommandProber{Name: "sh", Args: []string{"-c", "exit 0"}, Timeout: time.Second}
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictUp, result.Verdict)
}

func TestCommandProber_DownOnNonZeroExit(t *testing.T) {
	prober := &CommandProber{Name: "sh", Args: []string{"-c", "exit 3"}, Timeout: time.Second}
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictDown, result.Verdict)
}

func TestCommandProber_ExpectedOutput(t *testing.T) {
	up := &CommandProber{
		Name: "sh", Args: []string{"-c", "echo true"},
		Timeout: time.Second, ExpectOutput: "true",
	}
	assert.Equal(t, VerdictUp, up.Probe(context.Background()).Verdict)

	down := &CommandProber{
		Name: "sh", Args: []string{"-c", "echo false"},
		Timeout: time.Second, ExpectOutput: "true",
	}
	result := down.Probe(context.Background())
	assert.Equal(t, VerdictDown, result.Verdict)
	assert.Contains(t, result.Detail, "unexpected probe output")
}

func TestCommandProber_TimeoutKillsCommand(t *testing.T) {
	prober := &CommandProber{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond}

	start := time.Now()
	result := prober.Probe(context.Background())

	assert.Equal(t, VerdictDown, result.Verdict)
	assert.Less(t, time.Since(start), time.Second)
}
