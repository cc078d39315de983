// Package probe implements a best-effort safe memory reader: it lets a
// sampling backend dereference addresses it cannot otherwise trust
// (interpreter-internal pointers walked by a sampling goroutine)
// without crashing the host process when the address turns out to be
// unmapped or protected.
//
// Go does not let a library install its own SIGSEGV/SIGBUS handler the
// way a C or Rust agent would — the runtime owns those signals for stack
// growth and its own fault reporting. The sanctioned Go equivalent is
// runtime/debug.SetPanicOnFault: once enabled, a fault at a non-Go address
// is delivered to the faulting goroutine as a recoverable panic instead of
// a process-ending fatal error. That is the mechanism this package wraps.
package probe

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Fault reports that a probe read struck an inaccessible address. Both
// ReadWord and ReadBytes report Signal as SIGSEGV's number; it is
// informational only since Go does not expose the raw signal number taken
// from a faulting access.
type Fault struct {
	Signal int
}

func (f Fault) Error() string { return fmt.Sprintf("probe: fault (signal %d)", f.Signal) }

// ErrNotInitialized is returned by every probe entry point before Init
// has succeeded, and by Destroy when there was no matching Init.
var ErrNotInitialized = errors.New("probe: not initialized")

// ErrSanityCheckFailed is returned by Init when the post-install self-test
// does not behave as expected; Init rolls back cleanly in this case.
var ErrSanityCheckFailed = errors.New("probe: sanity check failed")

const (
	sigSegv = 11
	sigBus  = 10
)

var (
	initialized atomic.Bool
	lifecycleMu sync.Mutex // serializes Init/Destroy against each other only
	prevPanic   bool
)

// Init installs the probe. It is idempotent against concurrent probe
// calls (those are lock-free) but Init/Destroy themselves must be
// externally serialized against each other, which lifecycleMu provides.
func Init() error {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()

	if initialized.Load() {
		return nil
	}

	prevPanic = debug.SetPanicOnFault(true)

	// Sanity check 1: a known-good address (a stack variable of this
	// function) must read back successfully.
	var sentinel uint64 = 0xC0FFEE
	if _, fault := readWord(uintptr(unsafe.Pointer(&sentinel))); fault != nil {
		debug.SetPanicOnFault(prevPanic)
		return ErrSanityCheckFailed
	}
	var sentinelBuf [16]byte
	if err := readBytes(uintptr(unsafe.Pointer(&sentinelBuf[0])), make([]byte, 16)); err != nil {
		debug.SetPanicOnFault(prevPanic)
		return ErrSanityCheckFailed
	}

	// Sanity check 2: a known-bad address (the zero page) must fault via
	// both entry points.
	if _, fault := readWord(0); fault == nil {
		debug.SetPanicOnFault(prevPanic)
		return ErrSanityCheckFailed
	}
	if err := readBytes(0, make([]byte, 16)); err == nil {
		debug.SetPanicOnFault(prevPanic)
		return ErrSanityCheckFailed
	}

	initialized.Store(true)
	return nil
}

// Destroy tears the probe down, restoring whatever panic-on-fault setting
// was in effect before Init. Destroy with no matching Init returns
// ErrNotInitialized.
func Destroy() error {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()

	if !initialized.Load() {
		return ErrNotInitialized
	}
	debug.SetPanicOnFault(prevPanic)
	initialized.Store(false)
	return nil
}

// ReadWord reads one machine word (8 bytes) from addr. It is safe to call
// concurrently with other probe calls from any thread, including from
// inside the sampler's profiling callback, as long as Init has completed.
func ReadWord(addr uintptr) (uint64, error) {
	if !initialized.Load() {
		return 0, ErrNotInitialized
	}
	return readWord(addr)
}

// ReadBytes fills buf by copying len(buf) bytes starting at addr. On
// fault, the bytes already copied before the fault are left in buf and the
// remainder is zeroed, matching the byte-move-primitive semantics of the
// reference design (S4): a fault partway through a copy yields a partial,
// zero-padded result rather than an all-or-nothing read.
func ReadBytes(addr uintptr, buf []byte) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	return readBytes(addr, buf)
}

// readWord is the word-load marker routine. It is deliberately not
// inlined so that, in a true signal-handler implementation, its entry
// address could be published and matched against a faulting program
// counter; here the non-inlining keeps the panic/recover boundary at a
// single, identifiable frame per read.
//
//go:noinline
func readWord(addr uintptr) (value uint64, err error) {
	// SetPanicOnFault applies to the calling goroutine only, so every read
	// enables it for its own duration.
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			value = 0
			err = Fault{Signal: sigSegv}
		}
	}()
	ptr := (*uint64)(unsafe.Pointer(addr))
	value = *ptr
	return value, nil
}

// readBytes is the byte-move marker routine. Like readWord it recovers a
// fault into a Fault rather than letting it escape as a runtime panic.
//
//go:noinline
func readBytes(addr uintptr, buf []byte) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	var faulted bool
	var faultAt int
	func() {
		defer func() {
			if r := recover(); r != nil {
				faulted = true
			}
		}()
		// Byte-at-a-time so a fault partway through leaves every byte
		// read up to that point intact in buf, per the partial-read
		// contract a caller relies on when probing near a page boundary.
		for i := 0; i < len(buf); i++ {
			faultAt = i
			p := (*byte)(unsafe.Pointer(addr + uintptr(i)))
			buf[i] = *p
		}
	}()
	if faulted {
		for i := faultAt; i < len(buf); i++ {
			buf[i] = 0
		}
		return Fault{Signal: sigSegv}
	}
	return nil
}

// Initialized reports whether the probe is currently installed.
func Initialized() bool { return initialized.Load() }
