package procmaps

import "testing"

func TestParseFlagsAllPermutations(t *testing.T) {
	cases := map[string]Flags{
		"r-xp": {Read: true, Execute: true, Private: true},
		"rw-p": {Read: true, Write: true, Private: true},
		"r--s": {Read: true, Shared: true},
		"----": {},
	}
	for s, want := range cases {
		got, err := parseFlags(s)
		if err != nil {
			t.Fatalf("parseFlags(%q): %v", s, err)
		}
		if got != want {
			t.Errorf("parseFlags(%q) = %+v, want %+v", s, got, want)
		}
	}
}

func TestParseFlagsRejectsUnknownChar(t *testing.T) {
	if _, err := parseFlags("rqxp"); err == nil {
		t.Error("expected error for unrecognized permission char")
	}
}

func TestParseLine(t *testing.T) {
	line := "55a1f5e9f000-55a1f5ec1000 r--p 00001000 08:01 1234   /usr/bin/python3.11"
	mr, err := parseLine(line)
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if mr.Start != 0x55a1f5e9f000 || mr.End != 0x55a1f5ec1000 {
		t.Errorf("range = [%x, %x)", mr.Start, mr.End)
	}
	if mr.Offset != 0x1000 {
		t.Errorf("offset = %x, want 0x1000", mr.Offset)
	}
	if mr.Device != "08:01" {
		t.Errorf("device = %q", mr.Device)
	}
	if mr.Inode != 1234 {
		t.Errorf("inode = %d, want 1234", mr.Inode)
	}
	if mr.Path != "/usr/bin/python3.11" {
		t.Errorf("path = %q", mr.Path)
	}
	if mr.Filename() != "python3.11" {
		t.Errorf("filename = %q", mr.Filename())
	}
	if mr.Executable() {
		t.Error("expected readable-only mapping flags.Execute=false")
	}
}

func TestParseLineAnonymousMapping(t *testing.T) {
	line := "7f2a10000000-7f2a10021000 rw-p 00000000 00:00 0 "
	mr, err := parseLine(line)
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if mr.Path != "" {
		t.Errorf("expected empty path for anonymous mapping, got %q", mr.Path)
	}
	if mr.Filename() != "" {
		t.Errorf("expected empty filename for anonymous mapping, got %q", mr.Filename())
	}
}

func TestFindExecutable(t *testing.T) {
	maps := []MapRange{
		{Path: "/usr/lib/libc.so.6", Flags: Flags{Execute: true}},
		{Path: "/usr/bin/python3.11", Flags: Flags{Execute: true}},
		{Path: "/usr/bin/python3.11", Flags: Flags{Read: true}}, // non-exec segment, skipped
	}
	got, ok := FindExecutable(maps, "python3")
	if !ok {
		t.Fatal("expected to find python3 mapping")
	}
	if got.Path != "/usr/bin/python3.11" || !got.Executable() {
		t.Errorf("got %+v", got)
	}
}
