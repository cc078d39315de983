package probe

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestInitDestroyLifecycle(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !Initialized() {
		t.Fatal("expected Initialized() true after Init")
	}
	if err := Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if Initialized() {
		t.Fatal("expected Initialized() false after Destroy")
	}
}

func TestDestroyWithoutInit(t *testing.T) {
	if Initialized() {
		t.Skip("probe already initialized by another test in this process")
	}
	if err := Destroy(); err != ErrNotInitialized {
		t.Fatalf("Destroy() = %v, want ErrNotInitialized", err)
	}
}

func TestReadWordNotInitialized(t *testing.T) {
	if Initialized() {
		t.Skip("probe already initialized by another test in this process")
	}
	var x uint64 = 42
	_, err := ReadWord(uintptr(unsafe.Pointer(&x)))
	if err != ErrNotInitialized {
		t.Fatalf("ReadWord() = %v, want ErrNotInitialized", err)
	}
}

func TestReadWordGoodAddress(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Destroy()

	var x uint64 = 0xDEADBEEF
	v, err := ReadWord(uintptr(unsafe.Pointer(&x)))
	if err != nil {
		t.Fatalf("ReadWord() error = %v", err)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("ReadWord() = %#x, want %#x", v, 0xDEADBEEF)
	}
}

func TestReadWordUnmappedPage(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Destroy()

	pageSize := unix.Getpagesize()
	addr, err := unix.Mmap(-1, 0, pageSize, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	defer unix.Munmap(addr)

	_, err = ReadWord(uintptr(unsafe.Pointer(&addr[0])))
	if _, ok := err.(Fault); !ok {
		t.Fatalf("ReadWord(no-access page) = %v, want Fault", err)
	}
}

// TestReadBytesPartialFault exercises S4: a 16-byte read that starts 8
// bytes before a no-access page boundary returns a Fault while the first
// 8 output bytes (from the adjacent readable page) are populated and the
// last 8 are zeroed.
func TestReadBytesPartialFault(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Destroy()

	pageSize := unix.Getpagesize()
	// Two adjacent anonymous mappings: a readable page followed by a
	// PROT_NONE page, laid out back to back via one mapping split in two.
	region, err := unix.Mmap(-1, 0, 2*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	defer unix.Munmap(region)

	for i := 0; i < 8; i++ {
		region[pageSize-8+i] = byte(0xA0 + i)
	}
	if err := unix.Mprotect(region[pageSize:], unix.PROT_NONE); err != nil {
		t.Fatalf("mprotect: %v", err)
	}

	buf := make([]byte, 16)
	readErr := ReadBytes(uintptr(unsafe.Pointer(&region[pageSize-8])), buf)
	if _, ok := readErr.(Fault); !ok {
		t.Fatalf("ReadBytes() = %v, want Fault", readErr)
	}
	for i := 0; i < 8; i++ {
		if buf[i] != byte(0xA0+i) {
			t.Errorf("buf[%d] = %#x, want %#x", i, buf[i], byte(0xA0+i))
		}
	}
	for i := 8; i < 16; i++ {
		if buf[i] != 0 {
			t.Errorf("buf[%d] = %#x, want 0", i, buf[i])
		}
	}
}
