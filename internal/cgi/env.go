package cgi

import (
	"fmt"

	"github.com/s00inx/webserv/internal/httpparse"
)

// buildEnviron constructs the CGI/1.1 environment per RFC 3875 §4.1: the
// pieces a script needs to answer the request, plus a PATH so shebang
// interpreters resolve.
func buildEnviron(req *httpparse.Request, env Env) []string {
	out := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_SOFTWARE=webserv/1.0",
		"REQUEST_METHOD=" + string(req.Method),
		"SCRIPT_NAME=" + req.Path,
		"PATH_INFO=" + req.Path,
		"QUERY_STRING=" + req.RawQuery,
		"SERVER_PROTOCOL=" + fmt.Sprintf("HTTP/%d.%d", req.VersionMajor, req.VersionMinor),
		"SERVER_NAME=" + env.ServerName,
		"SERVER_PORT=" + fmt.Sprintf("%d", env.ServerPort),
		"PATH=/usr/bin:/bin",
	}
	if v := req.Headers.Get("Content-Length"); v != "" {
		out = append(out, "CONTENT_LENGTH="+v)
	}
	if v := req.Headers.Get("Content-Type"); v != "" {
		out = append(out, "CONTENT_TYPE="+v)
	}
	return out
}
