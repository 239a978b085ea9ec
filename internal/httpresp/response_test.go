package httpresp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStatusAndHeaders(t *testing.T) {
	out := BuildStatusAndHeaders(200, []Header{{Key: "Content-Length", Val: "5"}})
	got := string(out)
	require.True(t, strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n"), "unexpected status line in %q", got)
	assert.Contains(t, got, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(got, "\r\n\r\n"), "missing terminating blank line in %q", got)
}

func TestBuildSmallIncludesBody(t *testing.T) {
	resp := &Response{
		Code:    200,
		Headers: []Header{{Key: "Content-Length", Val: "2"}},
		Body:    []byte("hi"),
	}
	out := string(BuildSmall(resp))
	assert.True(t, strings.HasSuffix(out, "hi"), "body not appended, got %q", out)
}

func TestErrorResponseClosesConnection(t *testing.T) {
	resp := Error(404, "Not Found")
	require.True(t, resp.CloseAfterSend)
	assert.Equal(t, "close", resp.Get("Connection"))
	assert.Equal(t, "8", resp.Get("Content-Length"))
}

func TestReasonPhraseFallback(t *testing.T) {
	assert.Equal(t, "OK", ReasonPhrase(200))
	assert.Equal(t, "Error", ReasonPhrase(999))
}

func TestSetReplacesExistingHeader(t *testing.T) {
	resp := &Response{Headers: []Header{{Key: "Allow", Val: "GET"}}}
	resp.Set("Allow", "GET, POST")
	require.Len(t, resp.Headers, 1, "Set should replace, not append")
	assert.Equal(t, "GET, POST", resp.Get("Allow"))
}
