package httpparse

import (
	"bytes"
	"net/textproto"
	"strconv"
	"strings"
)

var headerTerminator = []byte("\r\n\r\n")

// Parse scans buf for one complete HTTP/1.x request, applying the size
// and well-formedness guard rails a request must pass before it reaches
// a handler. It never mutates buf and never blocks; it is invoked by the
// Endpoint on the whole accumulated read buffer each time new bytes
// arrive.
func Parse(buf []byte, maxHeaderBytes, maxURIBytes int) Result {
	headerEnd := bytes.Index(buf, headerTerminator)
	if headerEnd == -1 {
		if len(buf) > maxHeaderBytes {
			return errResult(400, "Request Header Or Cookie Too Large")
		}
		return incomplete()
	}
	headerEnd += len(headerTerminator)
	if headerEnd > maxHeaderBytes {
		return errResult(400, "Request Header Or Cookie Too Large")
	}

	requestLineEnd := bytes.Index(buf[:headerEnd], []byte("\r\n"))
	if requestLineEnd == -1 {
		return errResult(400, "Malformed request line")
	}
	requestLine := buf[:requestLineEnd]

	parts := strings.SplitN(string(requestLine), " ", 3)
	if len(parts) != 3 {
		return errResult(400, "Malformed request line")
	}
	rawMethod, uri, version := parts[0], parts[1], parts[2]

	if len(uri) > maxURIBytes {
		return errResult(414, "URI Too Long")
	}
	if uri == "" || !strings.Contains(uri, "/") {
		return errResult(400, "Malformed request URI")
	}

	major, minor, ok := parseVersion(version)
	if !ok || major != 1 || minor < 0 || minor > 9 {
		return errResult(505, "HTTP Version Not Supported")
	}

	method := Method(rawMethod)
	if method != MethodGet && method != MethodPost && method != MethodDelete {
		return errResult(501, "Not Implemented")
	}

	var section []byte
	if requestLineEnd+2 <= headerEnd-4 {
		section = buf[requestLineEnd+2 : headerEnd-4]
	}
	headers, err := parseHeaders(section)
	if err != nil {
		return errResult(400, err.Error())
	}

	if len(headers["Host"]) != 1 {
		return errResult(400, "Host header required exactly once")
	}

	contentLength, hasLength, err := contentLengthOf(headers)
	if err != nil {
		return errResult(400, "Invalid Content-Length")
	}
	hasTransferEncoding := len(headers["Transfer-Encoding"]) > 0

	switch method {
	case MethodGet:
		if hasTransferEncoding || (hasLength && contentLength != 0) {
			return errResult(400, "GET request must not carry a body")
		}
	case MethodPost:
		if !hasLength {
			return errResult(411, "Length Required")
		}
	}

	consumed := headerEnd
	var body []byte
	if hasLength && contentLength > 0 {
		if headerEnd+contentLength > len(buf) {
			return incomplete()
		}
		body = buf[headerEnd : headerEnd+contentLength]
		consumed = headerEnd + contentLength
	}

	path, rawQuery, _ := strings.Cut(uri, "?")

	req := &Request{
		Method:       method,
		URI:          uri,
		Path:         path,
		RawQuery:     rawQuery,
		VersionMajor: major,
		VersionMinor: minor,
		Headers:      headers,
		Body:         body,
	}
	return Result{Status: StatusComplete, Consumed: consumed, Request: req}
}

func parseVersion(v string) (major, minor int, ok bool) {
	if !strings.HasPrefix(v, "HTTP/") {
		return 0, 0, false
	}
	v = v[len("HTTP/"):]
	dot := strings.IndexByte(v, '.')
	if dot == -1 {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(v[:dot])
	minor, err2 := strconv.Atoi(v[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// parseHeaders parses "Name: value\r\n" lines (the slice passed in has
// the trailing blank-line CRLF already stripped) into a
// case-insensitive-keyed multimap, following the same header-reading
// idiom textproto.Reader.ReadMIMEHeader uses, and the way
// _examples/baoqger-http-server-scratch uses textproto.MIMEHeader
// directly for its own request headers.
func parseHeaders(section []byte) (textproto.MIMEHeader, error) {
	headers := make(textproto.MIMEHeader)
	if len(section) == 0 {
		return headers, nil
	}
	lines := bytes.Split(section, []byte("\r\n"))
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, errMalformedHeader
		}
		key := textproto.CanonicalMIMEHeaderKey(string(bytes.TrimSpace(line[:colon])))
		val := string(bytes.TrimSpace(line[colon+1:]))
		if key == "" {
			return nil, errMalformedHeader
		}
		headers.Add(key, val)
	}
	return headers, nil
}

func contentLengthOf(headers textproto.MIMEHeader) (int, bool, error) {
	values := headers["Content-Length"]
	if len(values) == 0 {
		return 0, false, nil
	}
	n, err := strconv.Atoi(values[0])
	if err != nil || n < 0 {
		return 0, false, errMalformedHeader
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return 0, false, errMalformedHeader
		}
	}
	return n, true, nil
}
