//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// kqueueReactor implements Reactor with kqueue(2), mirroring the
// EVFILT_READ/EVFILT_WRITE registration style of
// _examples/original_source/ServerManager.cpp's Kqueue wrapper.
type kqueueReactor struct {
	kq int
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueReactor{kq: kq}, nil
}

func filterFor(d Direction) int16 {
	if d == Read {
		return unix.EVFILT_READ
	}
	return unix.EVFILT_WRITE
}

func (r *kqueueReactor) change(h Handle, d Direction, flags uint16) error {
	kev := unix.Kevent_t{
		Ident:  uint64(h),
		Filter: filterFor(d),
		Flags:  flags,
	}
	_, err := unix.Kevent(r.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (r *kqueueReactor) Register(h Handle, d Direction) error {
	return r.change(h, d, unix.EV_ADD|unix.EV_ENABLE)
}

func (r *kqueueReactor) Unregister(h Handle, d Direction) error {
	err := r.change(h, d, unix.EV_DELETE)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *kqueueReactor) WaitForEvents(maxEvents int) ([]Event, error) {
	raw := make([]unix.Kevent_t, maxEvents)
	// Bounded to one second so an idle loop still observes Stop and runs
	// its timeout sweep.
	n, err := unix.Kevent(r.kq, nil, raw, &unix.Timespec{Sec: 1})
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrInterrupted
		}
		return nil, err
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		d := Read
		if raw[i].Filter == unix.EVFILT_WRITE {
			d = Write
		}
		events = append(events, Event{
			Handle:      Handle(raw[i].Ident),
			Direction:   d,
			EndOfStream: raw[i].Flags&unix.EV_EOF != 0,
		})
	}
	return events, nil
}

func (r *kqueueReactor) Close() error {
	return unix.Close(r.kq)
}
