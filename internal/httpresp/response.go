// Package httpresp defines the response contract a request handler
// produces and the wire serialization helpers the send state machines in
// internal/httpd use to turn it into bytes.
package httpresp

import (
	"bytes"
	"strconv"
)

// Header is one ordered response header, string-typed since responses
// here are synthesized, not zero-copy views into a read buffer.
type Header struct {
	Key, Val string
}

// Response is the contract produced by the request handler: either an
// in-memory body (Small) or a file path to stream (Large).
type Response struct {
	Code    int
	Headers []Header

	Body []byte // set for a Small response

	FilePath string // set for a Large response
	FileSize int64

	CloseAfterSend bool
}

// reasonPhrases is a flat status-code-to-phrase lookup table, extended
// with the codes the DELETE/directory-listing/method-allow-list behaviors
// use.
var reasonPhrases = map[int]string{
	200: "OK",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the standard reason phrase for code, or "Error"
// for an unrecognized code, keeping the caller's code intact rather than
// substituting a different status.
func ReasonPhrase(code int) string {
	if p, ok := reasonPhrases[code]; ok {
		return p
	}
	return "Error"
}

// Get returns the first value for a header key (case-sensitive; callers
// construct responses themselves so exact keys are known ahead of time).
func (r *Response) Get(key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Val
		}
	}
	return ""
}

// Set replaces (or appends) a header.
func (r *Response) Set(key, val string) {
	for i := range r.Headers {
		if r.Headers[i].Key == key {
			r.Headers[i].Val = val
			return
		}
	}
	r.Headers = append(r.Headers, Header{Key: key, Val: val})
}

// BuildStatusAndHeaders serializes the status line and headers section
// (not the body) into a new byte slice, terminated by the blank line.
func BuildStatusAndHeaders(code int, headers []Header) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(code))
	buf.WriteByte(' ')
	buf.WriteString(ReasonPhrase(code))
	buf.WriteString("\r\n")
	for _, h := range headers {
		buf.WriteString(h.Key)
		buf.WriteString(": ")
		buf.WriteString(h.Val)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// BuildSmall serializes a complete Small response (status line + headers
// + body) into one byte slice.
func BuildSmall(resp *Response) []byte {
	head := BuildStatusAndHeaders(resp.Code, resp.Headers)
	out := make([]byte, 0, len(head)+len(resp.Body))
	out = append(out, head...)
	out = append(out, resp.Body...)
	return out
}

// Error constructs a small, bodied error response with a Content-Length,
// a plain-text Content-Type, and Connection: close, since every error
// response terminates the connection.
func Error(code int, detail string) *Response {
	body := []byte(detail)
	if len(body) == 0 {
		body = []byte(ReasonPhrase(code))
	}
	return &Response{
		Code: code,
		Headers: []Header{
			{Key: "Content-Length", Val: strconv.Itoa(len(body))},
			{Key: "Content-Type", Val: "text/plain; charset=utf-8"},
			{Key: "Connection", Val: "close"},
		},
		Body:           body,
		CloseAfterSend: true,
	}
}
