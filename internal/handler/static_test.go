package handler

import (
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/httpparse"
	"github.com/s00inx/webserv/internal/limits"
)

func newTestEndpoint(t *testing.T, root string) *config.Endpoint {
	t.Helper()
	cfg := &config.Endpoint{
		Root:    root,
		Methods: []string{"GET", "POST", "DELETE"},
		Index:   []string{"index.html"},
	}
	return cfg
}

func reqFor(method httpparse.Method, path string) *httpparse.Request {
	return &httpparse.Request{Method: method, Path: path, Headers: make(textproto.MIMEHeader)}
}

func TestServeSmallFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := newTestEndpoint(t, dir)

	resp := Serve(cfg, reqFor(httpparse.MethodGet, "/hello.txt"))
	if resp.Code != 200 {
		t.Fatalf("code = %d, want 200", resp.Code)
	}
	if string(resp.Body) != "hello world" {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.Get("Content-Length") != strconv.Itoa(len("hello world")) {
		t.Errorf("content-length = %q", resp.Get("Content-Length"))
	}
}

func TestServeLargeFileIsChunked(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", limits.MaxSmallFileSize+1)
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := newTestEndpoint(t, dir)

	resp := Serve(cfg, reqFor(httpparse.MethodGet, "/big.bin"))
	if resp.Code != 200 {
		t.Fatalf("code = %d, want 200", resp.Code)
	}
	if resp.FilePath == "" {
		t.Fatal("expected a Large response with FilePath set")
	}
	if resp.Get("Transfer-Encoding") != "chunked" {
		t.Errorf("transfer-encoding = %q, want chunked", resp.Get("Transfer-Encoding"))
	}
	if resp.FileSize != int64(len(big)) {
		t.Errorf("filesize = %d, want %d", resp.FileSize, len(big))
	}
}

func TestServeMissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestEndpoint(t, dir)
	resp := Serve(cfg, reqFor(httpparse.MethodGet, "/nope.txt"))
	if resp.Code != 404 {
		t.Errorf("code = %d, want 404", resp.Code)
	}
}

func TestServeMethodNotAllowed(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestEndpoint(t, dir)
	cfg.Methods = []string{"GET"}
	resp := Serve(cfg, reqFor(httpparse.MethodDelete, "/x"))
	if resp.Code != 405 {
		t.Fatalf("code = %d, want 405", resp.Code)
	}
	if resp.Get("Allow") != "GET" {
		t.Errorf("Allow = %q, want GET", resp.Get("Allow"))
	}
}

func TestServeDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "victim.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := newTestEndpoint(t, dir)

	resp := Serve(cfg, reqFor(httpparse.MethodDelete, "/victim.txt"))
	if resp.Code != 204 {
		t.Fatalf("code = %d, want 204", resp.Code)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file should have been removed")
	}

	resp2 := Serve(cfg, reqFor(httpparse.MethodDelete, "/victim.txt"))
	if resp2.Code != 404 {
		t.Errorf("second delete: code = %d, want 404", resp2.Code)
	}
}

func TestServeDirectoryFindsIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := newTestEndpoint(t, dir)
	resp := Serve(cfg, reqFor(httpparse.MethodGet, "/"))
	if resp.Code != 200 || string(resp.Body) != "home" {
		t.Fatalf("code=%d body=%q", resp.Code, resp.Body)
	}
}

func TestServeDirectoryAutoindex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := newTestEndpoint(t, dir)
	cfg.Autoindex = true
	resp := Serve(cfg, reqFor(httpparse.MethodGet, "/"))
	if resp.Code != 200 {
		t.Fatalf("code = %d, want 200", resp.Code)
	}
	if !strings.Contains(string(resp.Body), "a.txt") {
		t.Errorf("listing missing entry: %q", resp.Body)
	}
}

func TestServeDirectoryForbiddenWithoutAutoindex(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestEndpoint(t, dir)
	resp := Serve(cfg, reqFor(httpparse.MethodGet, "/"))
	if resp.Code != 403 {
		t.Errorf("code = %d, want 403", resp.Code)
	}
}
