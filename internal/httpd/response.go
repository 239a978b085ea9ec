package httpd

import (
	"fmt"
	"os"

	"github.com/s00inx/webserv/internal/httpresp"
	"github.com/s00inx/webserv/internal/limits"
	"github.com/s00inx/webserv/internal/reactor"
)

type responseKind int

const (
	respSmall responseKind = iota
	respLarge
)

// response is the per-connection send state machine, implemented as a
// tagged union (a Go struct with a kind discriminant) rather than an
// inheritance hierarchy: a Small in-memory reply and a Large
// streamed/chunked reply share one send-loop dispatcher instead of two
// implementations of a shared interface.
type response struct {
	kind   responseKind
	client reactor.Handle // carried by value, not a back-pointer

	closeAfterSend bool

	// Small
	bytes     []byte
	bytesSent int

	// Large
	headerBytes []byte
	headersSent int
	headerDone  bool
	file        *os.File
	fileSize    int64
	bytesRead   int64
	chunk       []byte
	chunkCursor int
	terminated  bool
}

func newSmallResponse(client reactor.Handle, resp *httpresp.Response) *response {
	return &response{
		kind:           respSmall,
		client:         client,
		closeAfterSend: resp.CloseAfterSend,
		bytes:          httpresp.BuildSmall(resp),
	}
}

func newLargeResponse(client reactor.Handle, resp *httpresp.Response) (*response, error) {
	f, err := os.Open(resp.FilePath)
	if err != nil {
		return nil, fmt.Errorf("httpd: open %s: %w", resp.FilePath,
			&StatusError{Code: 500, Detail: "Internal Server Error", cause: err})
	}
	return &response{
		kind:           respLarge,
		client:         client,
		closeAfterSend: resp.CloseAfterSend,
		headerBytes:    httpresp.BuildStatusAndHeaders(resp.Code, resp.Headers),
		file:           f,
		fileSize:       resp.FileSize,
	}, nil
}

// isFinished reports whether every byte of the response has been
// written to the client.
func (r *response) isFinished() bool {
	if r.kind == respSmall {
		return r.bytesSent >= len(r.bytes)
	}
	return r.headerDone && r.bytesRead >= r.fileSize && r.terminated
}

// closeFile releases the Large response's open file handle. Safe to
// call multiple times.
func (r *response) closeFile() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

// sendSmall writes from bytes[bytesSent..], advancing the cursor on
// partial progress. The only signal it returns is a real write failure;
// completion is read back from r.isFinished() by the caller, not
// re-derived here, so there is exactly one definition of "done".
func sendSmall(r *response) error {
	for r.bytesSent < len(r.bytes) {
		n, err := writeHandle(r.client, r.bytes[r.bytesSent:])
		if n > 0 {
			r.bytesSent += n
		}
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// sendLarge sends the status line and headers, then framed chunks read
// from the file, then the terminator chunk. It never assumes a single
// write call transmits an entire chunk. As with sendSmall, completion is
// read back from r.isFinished(), not returned directly.
func sendLarge(r *response) error {
	if !r.headerDone {
		for r.headersSent < len(r.headerBytes) {
			n, err := writeHandle(r.client, r.headerBytes[r.headersSent:])
			if n > 0 {
				r.headersSent += n
			}
			if err != nil {
				if isWouldBlock(err) {
					return nil
				}
				return err
			}
			if n == 0 {
				return nil
			}
		}
		r.headerDone = true
	}

	for {
		if r.chunk != nil && r.chunkCursor < len(r.chunk) {
			n, err := writeHandle(r.client, r.chunk[r.chunkCursor:])
			if n > 0 {
				r.chunkCursor += n
			}
			if err != nil {
				if isWouldBlock(err) {
					return nil
				}
				return err
			}
			if n == 0 {
				return nil
			}
			if r.chunkCursor < len(r.chunk) {
				return nil
			}
			r.chunk = nil
			r.chunkCursor = 0
			continue
		}

		if r.terminated {
			return nil
		}

		if r.bytesRead >= r.fileSize {
			r.chunk = []byte("0\r\n\r\n")
			r.chunkCursor = 0
			r.terminated = true
			continue
		}

		buf := make([]byte, limits.ChunkSize)
		n, err := r.file.Read(buf)
		if n > 0 {
			r.bytesRead += int64(n)
			r.chunk = frameChunk(buf[:n])
			r.chunkCursor = 0
		}
		if err != nil && n == 0 {
			// Unexpected read failure (including a truncated file):
			// stop advancing and let the caller treat it as a send
			// failure so the connection is dropped rather than hung.
			return fmt.Errorf("httpd: read file for chunked send: %w", err)
		}
		if n == 0 {
			// A zero-byte read with no error: treat the file as fully
			// read so the loop cannot spin without progress.
			r.bytesRead = r.fileSize
		}
	}
}

func frameChunk(payload []byte) []byte {
	head := fmt.Sprintf("%x\r\n", len(payload))
	out := make([]byte, 0, len(head)+len(payload)+2)
	out = append(out, head...)
	out = append(out, payload...)
	out = append(out, '\r', '\n')
	return out
}

// send advances whichever variant r is, then reports completion by
// consulting isFinished rather than threading a second, independently
// maintained "done" signal back from sendSmall/sendLarge.
func (r *response) send() (bool, error) {
	var err error
	if r.kind == respSmall {
		err = sendSmall(r)
	} else {
		err = sendLarge(r)
	}
	if err != nil {
		return false, err
	}
	return r.isFinished(), nil
}
