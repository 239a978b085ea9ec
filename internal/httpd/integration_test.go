package httpd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/limits"
	"github.com/s00inx/webserv/internal/reactor"
)

// startTestServer builds a single-endpoint event loop rooted at dir,
// runs it on a background goroutine and waits for it to accept
// connections, following the same DialTimeout-retry-loop pattern
// _examples/s00inx-goserver/internal/socket_test.go uses to synchronize
// with an epoll-driven server started on another goroutine.
func startTestServer(t *testing.T, cfg config.Endpoint) (addr string, stop func()) {
	t.Helper()
	cfg.Address = "127.0.0.1"
	if cfg.Port == 0 {
		cfg.Port = 18080 + (os.Getpid() % 4000)
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = config.Seconds(5 * time.Second)
	}
	if cfg.CGITimeout == 0 {
		cfg.CGITimeout = config.Seconds(5 * time.Second)
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{"GET", "POST", "DELETE"}
	}
	if len(cfg.Index) == 0 {
		cfg.Index = []string{"index.html"}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "webserv/1.0"
	}

	log := zap.NewNop()
	rx, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	loop, err := NewEventLoop([]config.Endpoint{cfg}, log, rx)
	if err != nil {
		t.Fatalf("NewEventLoop: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	target := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", target, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up on %s: %v", target, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	return target, func() {
		loop.Stop()
		<-done
		loop.Shutdown()
	}
}

func rawRequest(t *testing.T, addr, req string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sb strings.Builder
	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return sb.String()
}

func TestIntegrationGetSmallFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	addr, stop := startTestServer(t, config.Endpoint{Root: dir})
	defer stop()

	resp := rawRequest(t, addr, "GET /hello.txt HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line in response: %q", resp)
	}
	if !strings.HasSuffix(resp, "hello") {
		t.Errorf("unexpected body in response: %q", resp)
	}
}

func TestIntegrationMissingHostIsBadRequest(t *testing.T) {
	dir := t.TempDir()
	addr, stop := startTestServer(t, config.Endpoint{Root: dir})
	defer stop()

	resp := rawRequest(t, addr, "GET / HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 400") {
		t.Fatalf("unexpected status line: %q", resp)
	}
}

func TestIntegrationUnknownMethodIsNotImplemented(t *testing.T) {
	dir := t.TempDir()
	addr, stop := startTestServer(t, config.Endpoint{Root: dir})
	defer stop()

	resp := rawRequest(t, addr, "PATCH / HTTP/1.1\r\nHost: x\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 501") {
		t.Fatalf("unexpected status line: %q", resp)
	}
}

func TestIntegrationKeepaliveServesTwoRequests(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B"), 0o644); err != nil {
		t.Fatal(err)
	}
	addr, stop := startTestServer(t, config.Endpoint{Root: dir})
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("GET /a.txt HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	line1, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line1, "HTTP/1.1 200") {
		t.Fatalf("first response line = %q, err=%v", line1, err)
	}
	// Drain headers + body deterministically by Content-Length; a.txt is 1
	// byte, so read until the blank line then one more byte.
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		if l == "\r\n" {
			break
		}
	}
	body1 := make([]byte, 1)
	if _, err := r.Read(body1); err != nil || string(body1) != "A" {
		t.Fatalf("first body = %q, err=%v", body1, err)
	}

	if _, err := conn.Write([]byte("GET /b.txt HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	line2, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line2, "HTTP/1.1 200") {
		t.Fatalf("second response line = %q, err=%v", line2, err)
	}
}

func TestIntegrationLargeFileIsChunked(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("z", 20*1024)
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	addr, stop := startTestServer(t, config.Endpoint{Root: dir})
	defer stop()

	resp := rawRequest(t, addr, "GET /big.bin HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", resp)
	}
	if !strings.Contains(resp, "Transfer-Encoding: chunked") {
		t.Fatalf("expected chunked framing, got %q", resp[:200])
	}
	if !strings.HasSuffix(resp, "0\r\n\r\n") {
		t.Fatalf("missing chunk terminator at end of response")
	}
}

func TestIntegrationCGIScriptOutput(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	dir := t.TempDir()
	binDir := filepath.Join(dir, "cgi-bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(binDir, "hello.sh")
	src := "#!/bin/sh\nprintf 'hi from cgi'\n"
	if err := os.WriteFile(script, []byte(src), 0o755); err != nil {
		t.Fatal(err)
	}

	addr, stop := startTestServer(t, config.Endpoint{
		Root:          dir,
		CGIEnabled:    true,
		CGIExtensions: []string{".sh"},
	})
	defer stop()

	resp := rawRequest(t, addr, "GET /cgi-bin/hello.sh HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("unexpected status line: %q", resp)
	}
	if !strings.Contains(resp, "Content-Type: text/plain\r\n") {
		t.Errorf("CGI response must carry Content-Type: text/plain, got %q", resp)
	}
	if !strings.HasSuffix(resp, "hi from cgi") {
		t.Errorf("unexpected body: %q", resp)
	}
}

func TestIntegrationCGIOutputOverflowIs500(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	dir := t.TempDir()
	binDir := filepath.Join(dir, "cgi-bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(binDir, "overflow.sh")
	// One byte past limits.CgiMaxOutputBytes (2 MiB).
	src := fmt.Sprintf("#!/bin/sh\nhead -c %d /dev/zero\n", limits.CgiMaxOutputBytes+1)
	if err := os.WriteFile(script, []byte(src), 0o755); err != nil {
		t.Fatal(err)
	}

	addr, stop := startTestServer(t, config.Endpoint{
		Root:          dir,
		CGIEnabled:    true,
		CGIExtensions: []string{".sh"},
	})
	defer stop()

	resp := rawRequest(t, addr, "GET /cgi-bin/overflow.sh HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 500") {
		t.Fatalf("unexpected status line for oversized CGI output: %q", resp[:min(len(resp), 200)])
	}
}

func TestIntegrationCGITimeoutIs504(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	dir := t.TempDir()
	binDir := filepath.Join(dir, "cgi-bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(binDir, "slow.sh")
	src := "#!/bin/sh\nsleep 5\nprintf 'too late'\n"
	if err := os.WriteFile(script, []byte(src), 0o755); err != nil {
		t.Fatal(err)
	}

	addr, stop := startTestServer(t, config.Endpoint{
		Root:          dir,
		CGIEnabled:    true,
		CGIExtensions: []string{".sh"},
		CGITimeout:    config.Seconds(200 * time.Millisecond),
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := conn.Write([]byte("GET /cgi-bin/slow.sh HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sb strings.Builder
	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	resp := sb.String()
	if !strings.HasPrefix(resp, "HTTP/1.1 504") {
		t.Fatalf("unexpected status line for timed-out CGI: %q", resp)
	}
}
