//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollReactor implements Reactor with epoll(7) through
// golang.org/x/sys/unix, level-triggered (no EPOLLONESHOT) because a
// single-threaded reactor never has two goroutines racing on the same
// fd's readiness.
type epollReactor struct {
	epfd int
	// interest tracks the currently-registered event mask per fd so
	// Register/Unregister can be idempotent without invoking EpollCtl
	// with the wrong op.
	interest map[int]uint32
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &epollReactor{epfd: fd, interest: make(map[int]uint32)}, nil
}

func maskFor(d Direction) uint32 {
	if d == Read {
		return unix.EPOLLIN | unix.EPOLLRDHUP
	}
	return unix.EPOLLOUT
}

func (r *epollReactor) Register(h Handle, d Direction) error {
	fd := int(h)
	want := maskFor(d)
	cur, ok := r.interest[fd]
	if ok && cur&want == want {
		return nil
	}

	op := unix.EPOLL_CTL_ADD
	newMask := want
	if ok {
		op = unix.EPOLL_CTL_MOD
		newMask = cur | want
	}
	if err := unix.EpollCtl(r.epfd, op, fd, &unix.EpollEvent{Events: newMask, Fd: int32(fd)}); err != nil {
		return err
	}
	r.interest[fd] = newMask
	return nil
}

func (r *epollReactor) Unregister(h Handle, d Direction) error {
	fd := int(h)
	cur, ok := r.interest[fd]
	if !ok {
		return nil
	}
	newMask := cur &^ maskFor(d)
	if newMask == 0 {
		delete(r.interest, fd)
		err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if err == unix.ENOENT {
			return nil
		}
		return err
	}
	r.interest[fd] = newMask
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: newMask, Fd: int32(fd)})
}

func (r *epollReactor) WaitForEvents(maxEvents int) ([]Event, error) {
	raw := make([]unix.EpollEvent, maxEvents)
	// Bounded to one second so an idle loop still observes Stop and runs
	// its timeout sweep.
	n, err := unix.EpollWait(r.epfd, raw, 1000)
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrInterrupted
		}
		return nil, err
	}

	events := make([]Event, 0, n*2)
	for i := 0; i < n; i++ {
		fd := Handle(raw[i].Fd)
		eof := raw[i].Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			events = append(events, Event{Handle: fd, Direction: Read, EndOfStream: eof})
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			events = append(events, Event{Handle: fd, Direction: Write, EndOfStream: eof})
		}
	}
	return events, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
