// Package handler synthesizes an HTTP response given a parsed request
// and endpoint configuration, describing either an in-memory payload or
// a file path to be streamed. It is a pure-ish function of (config,
// request, filesystem) with no connection lifecycle state of its own;
// that lifecycle lives entirely in internal/httpd.
package handler

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by Resolve when the requested path would
// escape the document root (e.g. via "../" traversal).
var ErrOutsideRoot = errors.New("handler: path escapes document root")

// Resolve joins urlPath onto root and returns the cleaned absolute
// filesystem path, rejecting any traversal outside root.
func Resolve(root, urlPath string) (string, error) {
	full := filepath.Join(root, urlPath)

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return fullAbs, nil
}
