package pyspy

import (
	"fmt"
	"regexp"
)

// OffsetTable holds the byte offsets within opaque CPython interpreter
// structures the frame walk dereferences. Real values are
// interpreter-version and build specific (debug builds, free-threaded
// builds, and 32-bit targets all shift them); this table only covers
// the two fields FrameBack/CodeName the illustrative walk in pyspy.go
// actually follows, for a handful of stock 64-bit CPython releases.
type OffsetTable struct {
	// FrameBack is the offset of the "previous frame" pointer within an
	// interpreter frame object.
	FrameBack uintptr
	// CodeName is the offset, from a frame object, of the pointer to its
	// code object's NUL-terminated name string.
	CodeName uintptr
}

const sentinelOffset = ^uintptr(0)

func (t OffsetTable) valid() bool {
	return t.FrameBack != sentinelOffset && t.CodeName != sentinelOffset
}

var offsetTables = map[string]OffsetTable{
	"3.10": {FrameBack: 0x18, CodeName: 0x10},
	"3.11": {FrameBack: 0x10, CodeName: 0x18},
	"3.12": {FrameBack: 0x10, CodeName: 0x18},
}

// UnsupportedInterpreterError reports that no (valid) offset table
// exists for the detected interpreter version.
type UnsupportedInterpreterError struct{ Version string }

func (e *UnsupportedInterpreterError) Error() string {
	return fmt.Sprintf("pyspy: unsupported interpreter version %q", e.Version)
}

var versionPattern = regexp.MustCompile(`python(\d+\.\d+)`)

// detectVersion extracts "3.11" out of a path like
// "/usr/bin/python3.11" or "/usr/lib/x86_64-linux-gnu/libpython3.11.so.1.0".
func detectVersion(path string) (string, error) {
	m := versionPattern.FindStringSubmatch(path)
	if m == nil {
		return "", fmt.Errorf("pyspy: could not detect interpreter version from %q", path)
	}
	return m[1], nil
}

// lookupOffsets returns the offset table for version, or
// UnsupportedInterpreterError if the version is unknown or its table is
// incomplete.
func lookupOffsets(version string) (OffsetTable, error) {
	t, ok := offsetTables[version]
	if !ok || !t.valid() {
		return OffsetTable{}, &UnsupportedInterpreterError{Version: version}
	}
	return t, nil
}
