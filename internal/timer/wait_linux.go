//go:build linux

package timer

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitUntil blocks until deadline using a kernel-backed absolute interval
// timer (timerfd), polled for readiness with epoll — the scalable waitable
// primitive the design calls for on Linux. It falls back to a plain sleep
// if the timerfd/epoll setup fails, which can happen in restricted
// sandboxes; the snapshot cadence still holds, just via a cruder wait.
func waitUntil(deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}

	fd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME, 0)
	if err != nil {
		time.Sleep(d)
		return
	}
	defer unix.Close(fd)

	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(deadline.UnixNano()),
	}
	if err := unix.TimerfdSettime(fd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		time.Sleep(d)
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		time.Sleep(d)
		return
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		time.Sleep(d)
		return
	}

	events := make([]unix.EpollEvent, 1)
	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return
		}
		var buf [8]byte
		unix.Read(fd, buf[:])
		return
	}
}
