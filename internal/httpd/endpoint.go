package httpd

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/s00inx/webserv/internal/cgi"
	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/handler"
	"github.com/s00inx/webserv/internal/httpparse"
	"github.com/s00inx/webserv/internal/httpresp"
	"github.com/s00inx/webserv/internal/limits"
	"github.com/s00inx/webserv/internal/reactor"
)

// Endpoint owns one listen socket and every client, response and CGI
// child it currently has in flight, orchestrating accept, read, write
// and CGI-drain for the clients on that socket. Every map here is
// touched only from the goroutine driving EventLoop.Run; there is no
// locking because there is no concurrent access.
type Endpoint struct {
	cfg config.Endpoint
	log *zap.Logger
	rx  reactor.Reactor

	listenFD reactor.Handle

	clients   map[reactor.Handle]*client
	responses map[reactor.Handle]*response

	// cgiStates is keyed by the pipe read handle. cgiByClient is the
	// reverse index the Endpoint needs to find and kill a running child
	// when its owning client disconnects. cgiStdin is keyed by the stdin
	// write handle, registered only while there is a POST body still
	// being written to a child.
	cgiStates   map[reactor.Handle]*cgi.State
	cgiByClient map[reactor.Handle]reactor.Handle
	cgiStdin    map[reactor.Handle]*cgi.State
}

// NewEndpoint binds and listens per cfg. A bind/listen failure is
// reported to the caller rather than panicking; EventLoop skips an
// Endpoint whose IsUsable is false, logging why, so one misconfigured
// endpoint in a multi-endpoint file does not take the whole process
// down.
func NewEndpoint(cfg config.Endpoint, log *zap.Logger, rx reactor.Reactor) *Endpoint {
	e := &Endpoint{
		cfg:         cfg,
		log:         log,
		rx:          rx,
		listenFD:    reactor.Invalid,
		clients:     make(map[reactor.Handle]*client),
		responses:   make(map[reactor.Handle]*response),
		cgiStates:   make(map[reactor.Handle]*cgi.State),
		cgiByClient: make(map[reactor.Handle]reactor.Handle),
		cgiStdin:    make(map[reactor.Handle]*cgi.State),
	}
	fd, err := listenSocket(cfg.Address, cfg.Port)
	if err != nil {
		log.Error("listen failed, endpoint disabled", zap.String("address", cfg.Address), zap.Int("port", cfg.Port), zap.Error(err))
		return e
	}
	e.listenFD = fd
	return e
}

func (e *Endpoint) IsUsable() bool { return e.listenFD != reactor.Invalid }

// Start registers the listen socket for readability. Call once, after
// construction, before the reactor's first WaitForEvents.
func (e *Endpoint) Start() error {
	if !e.IsUsable() {
		return nil
	}
	return e.rx.Register(e.listenFD, reactor.Read)
}

func (e *Endpoint) ListenHandle() reactor.Handle { return e.listenFD }

func (e *Endpoint) OwnsHandle(h reactor.Handle) bool {
	if h == e.listenFD {
		return true
	}
	if _, ok := e.clients[h]; ok {
		return true
	}
	if _, ok := e.responses[h]; ok {
		return true
	}
	if _, ok := e.cgiStates[h]; ok {
		return true
	}
	if _, ok := e.cgiStdin[h]; ok {
		return true
	}
	return false
}

// HandleReadable dispatches one readiness-for-read event to the accept
// path, the client read path, or the CGI drain path, according to which
// map the handle is found in.
func (e *Endpoint) HandleReadable(h reactor.Handle, eof bool) {
	switch {
	case h == e.listenFD:
		e.acceptNewConnection()
	case e.clients[h] != nil:
		if eof {
			e.disconnectClient(h)
			return
		}
		e.handleClientRead(h)
	case e.cgiStates[h] != nil:
		e.handleCgiReadable(h)
	}
}

// HandleWritable advances a pending response's send state machine, or a
// CGI child's stdin write.
func (e *Endpoint) HandleWritable(h reactor.Handle) {
	if e.responses[h] != nil {
		e.handleClientWrite(h)
		return
	}
	if e.cgiStdin[h] != nil {
		e.handleCgiStdinWritable(h)
	}
}

func (e *Endpoint) acceptNewConnection() {
	fd, peer, transient, err := acceptOne(e.listenFD)
	if err != nil {
		if transient {
			e.log.Debug("accept: transient", zap.Error(err))
			return
		}
		e.log.Error("accept failed", zap.Error(err))
		return
	}
	c := newClient(fd, peer)
	e.clients[fd] = c
	if err := e.rx.Register(fd, reactor.Read); err != nil {
		e.log.Error("register accepted client", zap.Error(err))
		delete(e.clients, fd)
		_ = closeHandle(fd)
		return
	}
	e.log.Debug("accepted client", zap.String("peer", peer))
}

// handleClientRead reads one chunk, feeds it to the parser and dispatches
// at most one complete request. A response already outstanding on this
// handle means the connection is between request/response cycles; the
// read is skipped and any new bytes stay in the socket until the current
// response fully drains and read interest is restored, since at most one
// response may be in flight per client handle at a time.
func (e *Endpoint) handleClientRead(h reactor.Handle) {
	if e.responses[h] != nil {
		return
	}
	c := e.clients[h]
	if c == nil {
		return
	}

	buf := make([]byte, limits.BufferSize)
	n, err := readHandle(h, buf)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		e.log.Debug("client read error", zap.String("peer", c.peerAddr), zap.Error(err))
		e.disconnectClient(h)
		return
	}
	if n == 0 {
		e.disconnectClient(h)
		return
	}

	c.touch()
	c.buf = append(c.buf, buf[:n]...)

	result := httpparse.Parse(c.buf, limits.MaxHeaderBytes, limits.MaxURIBytes)
	switch result.Status {
	case httpparse.StatusIncomplete:
		c.derivePhase(bytes.Contains(c.buf, []byte("\r\n\r\n")))
	case httpparse.StatusError:
		e.handleInvalidRequest(c, result.Code, result.Detail)
	case httpparse.StatusComplete:
		c.buf = append(c.buf[:0], c.buf[result.Consumed:]...)
		e.dispatch(c, result.Request)
	}
}

// dispatch routes a fully parsed request to the CGI or static handler.
func (e *Endpoint) dispatch(c *client, req *httpparse.Request) {
	if script, ok := handler.ResolveCGI(&e.cfg, req); ok {
		e.spawnCGI(c, req, script)
		return
	}
	resp := handler.Serve(&e.cfg, req)
	e.installResponse(c, resp)
}

// installResponse builds a response for resp and installs it on c.handle,
// strictly after resetting or detaching c: the client is reset (or
// detached, for Connection: close) before the response is installed, so
// no stale parse state can trigger a second response on the same
// connection. Read interest is dropped while the response drains and
// restored only once the connection is confirmed to persist, so a
// keepalive connection never has two responses in flight over the same
// bytes.
func (e *Endpoint) installResponse(c *client, resp *httpresp.Response) {
	h := c.handle
	resp.Set("Server", e.cfg.ServerName)
	closeAfter := resp.CloseAfterSend
	if closeAfter {
		delete(e.clients, h)
	} else {
		c.reset()
	}

	var rs *response
	if resp.FilePath != "" {
		var err error
		rs, err = newLargeResponse(h, resp)
		if err != nil {
			e.log.Error("open file for large response", zap.Error(err))
			var statusErr *StatusError
			code, detail := 500, "Internal Server Error"
			if errors.As(err, &statusErr) {
				code, detail = statusErr.Code, statusErr.Detail
			}
			fallback := httpresp.Error(code, detail)
			fallback.Set("Server", e.cfg.ServerName)
			rs = newSmallResponse(h, fallback)
			closeAfter = true
			rs.closeAfterSend = true
		}
	} else {
		rs = newSmallResponse(h, resp)
	}

	e.responses[h] = rs
	if err := e.rx.Unregister(h, reactor.Read); err != nil {
		e.log.Debug("unregister read while sending", zap.Error(err))
	}
	if err := e.rx.Register(h, reactor.Write); err != nil {
		e.log.Error("register write", zap.Error(err))
	}
}

// handleInvalidRequest builds and installs the error response for a
// malformed request, then detaches the client: the connection always
// closes after a parse error.
func (e *Endpoint) handleInvalidRequest(c *client, code int, detail string) {
	e.installResponse(c, httpresp.Error(code, detail))
}

// handleClientWrite advances the pending response and, on completion,
// either closes the connection or re-arms read interest for the next
// keepalive request.
func (e *Endpoint) handleClientWrite(h reactor.Handle) {
	rs := e.responses[h]
	done, err := rs.send()
	if err != nil {
		e.log.Debug("response send error", zap.Error(err))
		e.teardownResponse(h, rs)
		delete(e.clients, h)
		_ = closeHandle(h)
		return
	}
	if !done {
		return
	}

	e.teardownResponse(h, rs)
	if rs.closeAfterSend {
		_ = closeHandle(h)
		return
	}
	if _, stillClient := e.clients[h]; stillClient {
		if err := e.rx.Register(h, reactor.Read); err != nil {
			e.log.Error("re-register read after response", zap.Error(err))
		}
	}
}

func (e *Endpoint) teardownResponse(h reactor.Handle, rs *response) {
	_ = e.rx.Unregister(h, reactor.Write)
	if rs.kind == respLarge {
		rs.closeFile()
	}
	delete(e.responses, h)
}

// spawnCGI starts the child process and pauses reading from the client
// until the child's output is fully drained.
func (e *Endpoint) spawnCGI(c *client, req *httpparse.Request, script string) {
	env := cgi.Env{ServerName: e.serverHost(req), ServerPort: e.cfg.Port}
	st, err := cgi.Spawn(script, req, env, c.handle)
	if err != nil {
		e.log.Error("cgi spawn failed", zap.String("script", script), zap.Error(err))
		e.handleInvalidRequest(c, 500, "CGI failed to start")
		return
	}

	e.cgiStates[st.ReadHandle] = st
	e.cgiByClient[c.handle] = st.ReadHandle
	if err := e.rx.Unregister(c.handle, reactor.Read); err != nil {
		e.log.Debug("unregister client read during cgi", zap.Error(err))
	}
	if err := e.rx.Register(st.ReadHandle, reactor.Read); err != nil {
		e.log.Error("register cgi pipe", zap.Error(err))
	}

	// A POST body is written to the child's stdin through the same
	// readiness-driven, non-blocking path the stdout drain uses, rather
	// than handing os/exec a blocking io.Reader.
	if st.HasStdinPending() {
		e.cgiStdin[st.StdinHandle] = st
		if err := e.rx.Register(st.StdinHandle, reactor.Write); err != nil {
			e.log.Error("register cgi stdin", zap.Error(err))
		}
	}
}

func (e *Endpoint) serverHost(req *httpparse.Request) string {
	if host := req.Headers.Get("Host"); host != "" {
		return host
	}
	return e.cfg.Address
}

// handleCgiReadable drains one chunk of CGI output: accumulate, enforce
// the output size limit, and on EOF synthesize the response.
func (e *Endpoint) handleCgiReadable(h reactor.Handle) {
	st := e.cgiStates[h]
	buf := make([]byte, limits.BufferSize)
	n, err := st.Read(buf)
	if err != nil && !isWouldBlock(err) {
		e.log.Debug("cgi read error", zap.Int("pid", st.Pid), zap.Error(err))
		st.Kill()
		e.teardownCGI(h, st)
		return
	}
	if isWouldBlock(err) {
		return
	}

	if n == 0 {
		resp := cgiOutputResponse(st.Output, e.cfg.ServerName)
		if st.CloseAfterSend {
			resp.Set("Connection", "close")
			resp.CloseAfterSend = true
		}
		e.teardownCGI(h, st)
		if c, ok := e.clients[st.Client]; ok {
			e.installResponse(c, resp)
		}
		return
	}

	st.Output = append(st.Output, buf[:n]...)
	if len(st.Output) > limits.CgiMaxOutputBytes {
		e.log.Warn("cgi output exceeded limit, killing", zap.Int("pid", st.Pid))
		st.Kill()
		e.teardownCGI(h, st)
		if c, ok := e.clients[st.Client]; ok {
			e.handleInvalidRequest(c, 500, "CGI output exceeded limit")
		}
	}
}

// handleCgiStdinWritable advances the non-blocking write of the request
// body into a CGI child's stdin. Once the whole body has been written,
// the write end is closed so the child observes EOF on its stdin; a
// write failure (e.g. the child exited without reading its body) simply
// abandons the stdin side rather than tearing down the stdout drain,
// since the child may still produce output worth returning.
func (e *Endpoint) handleCgiStdinWritable(h reactor.Handle) {
	st := e.cgiStdin[h]
	done, err := st.WriteStdin()
	if err != nil {
		e.log.Debug("cgi stdin write error", zap.Int("pid", st.Pid), zap.Error(err))
		_ = e.rx.Unregister(h, reactor.Write)
		_ = st.CloseStdin()
		delete(e.cgiStdin, h)
		return
	}
	if !done {
		return
	}
	_ = e.rx.Unregister(h, reactor.Write)
	_ = st.CloseStdin()
	delete(e.cgiStdin, h)
}

func cgiOutputResponse(output []byte, serverName string) *httpresp.Response {
	return &httpresp.Response{
		Code: 200,
		Headers: []httpresp.Header{
			{Key: "Content-Length", Val: strconv.Itoa(len(output))},
			{Key: "Content-Type", Val: "text/plain"},
			{Key: "Server", Val: serverName},
			{Key: "Connection", Val: "keep-alive"},
		},
		Body: output,
	}
}

func (e *Endpoint) teardownCGI(h reactor.Handle, st *cgi.State) {
	_ = e.rx.Unregister(h, reactor.Read)
	if st.HasStdinPending() {
		_ = e.rx.Unregister(st.StdinHandle, reactor.Write)
		delete(e.cgiStdin, st.StdinHandle)
	}
	_ = st.Close()
	delete(e.cgiStates, h)
	delete(e.cgiByClient, st.Client)
}

// disconnectClient tears down every piece of state hanging off a client
// handle: any in-flight response, any running CGI child, and the client
// record itself.
func (e *Endpoint) disconnectClient(h reactor.Handle) {
	_ = e.rx.Unregister(h, reactor.Read)
	delete(e.clients, h)

	if rs, ok := e.responses[h]; ok {
		e.teardownResponse(h, rs)
	}
	if pipeH, ok := e.cgiByClient[h]; ok {
		if st, ok2 := e.cgiStates[pipeH]; ok2 {
			st.Kill()
			e.teardownCGI(pipeH, st)
		} else {
			delete(e.cgiByClient, h)
		}
	}
	_ = closeHandle(h)
}

// SweepClients closes any client whose connection has been idle past its
// keepalive timeout.
func (e *Endpoint) SweepClients(now time.Time) {
	for h, c := range e.clients {
		if now.Sub(c.lastActivity) > e.cfg.KeepaliveTimeout.Duration() {
			e.log.Debug("keepalive timeout", zap.String("peer", c.peerAddr))
			e.disconnectClient(h)
		}
	}
}

// SweepCgi kills any CGI child that has exceeded its timeout and answers
// its client with 504.
func (e *Endpoint) SweepCgi(now time.Time) {
	for h, st := range e.cgiStates {
		if !st.TimedOut(e.cfg.CGITimeout.Duration()) {
			continue
		}
		e.log.Warn("cgi timed out", zap.Int("pid", st.Pid))
		st.Kill()
		client := st.Client
		e.teardownCGI(h, st)
		if c, ok := e.clients[client]; ok {
			e.handleInvalidRequest(c, 504, "CGI did not complete in time")
		}
	}
}

// Shutdown tears down every resource this Endpoint owns, in the order
// clients, responses, CGI children, listen socket. A keepalive client
// with an in-flight response lives in both e.clients and e.responses
// (installResponse only removes it from e.clients for the
// close-after-send case), so the client loop skips any handle the
// response loop will already close, keeping each handle closed exactly
// once.
func (e *Endpoint) Shutdown() {
	for h := range e.clients {
		if _, hasResponse := e.responses[h]; hasResponse {
			continue
		}
		_ = closeHandle(h)
	}
	for h, rs := range e.responses {
		if rs.kind == respLarge {
			rs.closeFile()
		}
		_ = closeHandle(h)
	}
	for _, st := range e.cgiStates {
		st.Kill()
		_ = st.Close()
	}
	if e.IsUsable() {
		_ = closeHandle(e.listenFD)
	}
}
