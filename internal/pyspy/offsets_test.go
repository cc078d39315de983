package pyspy

import "testing"

func TestDetectVersion(t *testing.T) {
	cases := map[string]string{
		"/usr/bin/python3.11":                              "3.11",
		"/usr/lib/x86_64-linux-gnu/libpython3.12.so.1.0":    "3.12",
		"/opt/conda/bin/python3.10":                         "3.10",
	}
	for path, want := range cases {
		got, err := detectVersion(path)
		if err != nil {
			t.Fatalf("detectVersion(%q): %v", path, err)
		}
		if got != want {
			t.Errorf("detectVersion(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDetectVersionUnrecognized(t *testing.T) {
	if _, err := detectVersion("/usr/bin/ruby"); err == nil {
		t.Error("expected error for a non-python path")
	}
}

func TestLookupOffsetsUnsupportedVersion(t *testing.T) {
	_, err := lookupOffsets("2.7")
	if err == nil {
		t.Fatal("expected UnsupportedInterpreterError for python 2.7")
	}
	var uerr *UnsupportedInterpreterError
	if _, ok := err.(*UnsupportedInterpreterError); !ok {
		t.Fatalf("err = %#v (%T), want %T", err, err, uerr)
	}
}

func TestLookupOffsetsKnownVersion(t *testing.T) {
	offsets, err := lookupOffsets("3.11")
	if err != nil {
		t.Fatalf("lookupOffsets(3.11): %v", err)
	}
	if !offsets.valid() {
		t.Error("expected valid offsets for 3.11")
	}
}
