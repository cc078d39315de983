//go:build darwin

package timer

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitUntil blocks until deadline using a one-shot kqueue timer, the
// kernel-queue primitive available on BSD-family kernels.
func waitUntil(deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}

	kq, err := unix.Kqueue()
	if err != nil {
		time.Sleep(d)
		return
	}
	defer unix.Close(kq)

	changes := []unix.Kevent_t{{
		Ident:  1,
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_ADD | unix.EV_ONESHOT,
		Fflags: unix.NOTE_NSECONDS,
		Data:   int64(d),
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		time.Sleep(d)
		return
	}

	events := make([]unix.Kevent_t, 1)
	for {
		n, err := unix.Kevent(kq, nil, events, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return
		}
		return
	}
}
