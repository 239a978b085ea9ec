package handler

import (
	"fmt"
	"html"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/httpparse"
	"github.com/s00inx/webserv/internal/httpresp"
	"github.com/s00inx/webserv/internal/limits"
)

// Serve dispatches a non-CGI request to the static file, directory
// listing, or DELETE handling for an endpoint. Every return path funnels
// through here so the configured Server token lands on every response
// this handler produces, not just the success path.
func Serve(cfg *config.Endpoint, req *httpparse.Request) *httpresp.Response {
	resp := serve(cfg, req)
	resp.Set("Server", cfg.ServerName)
	return resp
}

func serve(cfg *config.Endpoint, req *httpparse.Request) *httpresp.Response {
	if !cfg.AllowsMethod(string(req.Method)) {
		resp := httpresp.Error(405, "Method Not Allowed")
		resp.Set("Allow", allowHeader(cfg))
		return resp
	}

	full, err := Resolve(cfg.Root, req.Path)
	if err != nil {
		return httpresp.Error(403, "Forbidden")
	}

	var resp *httpresp.Response
	switch req.Method {
	case httpparse.MethodDelete:
		resp = serveDelete(full)
	default:
		resp = serveGetOrPost(cfg, full)
	}
	applyConnectionPreference(resp, req)
	return resp
}

// applyConnectionPreference honors a client-requested "Connection: close"
// on an otherwise-keepalive response; error responses already close and
// are left alone.
func applyConnectionPreference(resp *httpresp.Response, req *httpparse.Request) {
	if resp.CloseAfterSend {
		return
	}
	if req.Headers.Get("Connection") == "close" {
		resp.Set("Connection", "close")
		resp.CloseAfterSend = true
	}
}

func allowHeader(cfg *config.Endpoint) string {
	out := ""
	for i, m := range cfg.Methods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

func serveDelete(full string) *httpresp.Response {
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return httpresp.Error(404, "Not Found")
		}
		return httpresp.Error(500, "Internal Server Error")
	}
	if info.IsDir() {
		return httpresp.Error(403, "Forbidden")
	}
	if err := os.Remove(full); err != nil {
		return httpresp.Error(500, "Internal Server Error")
	}
	return &httpresp.Response{
		Code:    204,
		Headers: []httpresp.Header{{Key: "Connection", Val: "keep-alive"}},
	}
}

func serveGetOrPost(cfg *config.Endpoint, full string) *httpresp.Response {
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return httpresp.Error(404, "Not Found")
		}
		return httpresp.Error(403, "Forbidden")
	}

	if info.IsDir() {
		if idx, ok := findIndex(cfg, full); ok {
			return serveFile(idx)
		}
		if cfg.Autoindex {
			return serveDirectoryListing(full)
		}
		return httpresp.Error(403, "Forbidden")
	}

	return serveFile(full)
}

func findIndex(cfg *config.Endpoint, dir string) (string, bool) {
	for _, name := range cfg.Index {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// serveFile builds a Small (buffered) response for files at or under
// limits.MaxSmallFileSize, and a Large (streamed, chunked) response
// otherwise.
func serveFile(full string) *httpresp.Response {
	info, err := os.Stat(full)
	if err != nil {
		return httpresp.Error(404, "Not Found")
	}

	size := info.Size()
	contentType := config.MIMEType(full)

	if size <= limits.MaxSmallFileSize {
		body, err := os.ReadFile(full)
		if err != nil {
			return httpresp.Error(500, "Internal Server Error")
		}
		return &httpresp.Response{
			Code: 200,
			Headers: []httpresp.Header{
				{Key: "Content-Length", Val: strconv.Itoa(len(body))},
				{Key: "Content-Type", Val: contentType},
				{Key: "Connection", Val: "keep-alive"},
			},
			Body: body,
		}
	}

	return &httpresp.Response{
		Code: 200,
		Headers: []httpresp.Header{
			{Key: "Transfer-Encoding", Val: "chunked"},
			{Key: "Content-Type", Val: contentType},
			{Key: "Connection", Val: "keep-alive"},
		},
		FilePath: full,
		FileSize: size,
	}
}

// serveDirectoryListing synthesizes an HTML directory index, sorted by
// name, with a trailing slash on subdirectories.
func serveDirectoryListing(dir string) *httpresp.Response {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return httpresp.Error(500, "Internal Server Error")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	body := fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>Index of %s</title></head><body>\n<h1>Index of %s</h1>\n<ul>\n",
		html.EscapeString(dir), html.EscapeString(dir))
	for _, e := range entries {
		name := e.Name()
		href := name
		if e.IsDir() {
			href = path.Clean(name) + "/"
		}
		body += fmt.Sprintf("<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(href), html.EscapeString(href))
	}
	body += "</ul>\n</body></html>\n"

	return &httpresp.Response{
		Code: 200,
		Headers: []httpresp.Header{
			{Key: "Content-Length", Val: strconv.Itoa(len(body))},
			{Key: "Content-Type", Val: "text/html; charset=utf-8"},
			{Key: "Connection", Val: "keep-alive"},
		},
		Body: []byte(body),
	}
}
