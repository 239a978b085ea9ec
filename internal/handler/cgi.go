package handler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/httpparse"
)

// ResolveCGI decides whether a request should run as CGI: the request's
// URI, under the endpoint's root, must resolve to an existing file whose
// extension is in the endpoint's CGI extension set, and its path must lie
// under /cgi-bin. It returns the resolved script path and true when so,
// or ("", false) to fall through to the static path.
func ResolveCGI(cfg *config.Endpoint, req *httpparse.Request) (string, bool) {
	if !cfg.CGIEnabled {
		return "", false
	}
	full, err := Resolve(cfg.Root, req.Path)
	if err != nil {
		return "", false
	}
	if !strings.Contains(req.Path, "/cgi-bin/") && !strings.HasPrefix(req.Path, "/cgi-bin") {
		return "", false
	}
	if !cfg.IsCGIExtension(filepath.Ext(full)) {
		return "", false
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", false
	}
	return full, true
}
