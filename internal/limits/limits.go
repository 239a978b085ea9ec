// Package limits centralizes resource-bound constants so both the
// lifecycle engine (internal/httpd) and the request handler
// (internal/handler, which must decide Small vs. Large before the engine
// ever sees the response) agree on the same numbers without importing
// each other.
package limits

const (
	// MaxHeaderBytes bounds the header section of a request.
	MaxHeaderBytes = 8 * 1024
	// MaxURIBytes bounds the request-target.
	MaxURIBytes = 2 * 1024
	// CgiMaxOutputBytes bounds accumulated CGI child stdout.
	CgiMaxOutputBytes = 2 << 20
	// BufferSize is the read chunk size for sockets and CGI pipes.
	BufferSize = 8 * 1024
	// ChunkSize is the read chunk size for large-file chunked sends.
	ChunkSize = 8 * 1024
	// MaxSmallFileSize is the cutoff between a Small (buffered) and a
	// Large (chunked, streamed) static file response.
	MaxSmallFileSize = 16 * 1024
)
