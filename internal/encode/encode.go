// Package encode serializes a drained Report into the wire formats the
// ingestion endpoint accepts: folded text or a pprof protocol buffer.
package encode

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"sort"

	"github.com/wingprofile/agent/internal/buffer"
	"github.com/wingprofile/agent/internal/stacktrace"
)

// Format names a report encoding.
type Format string

const (
	Folded Format = "folded"
	Pprof  Format = "pprof"
)

// Compression names a payload compression.
type Compression string

const (
	None Compression = ""
	Gzip Compression = "gzip"
)

// Encoded is a ready-to-upload payload plus the headers and split key it
// needs on the wire.
type Encoded struct {
	Format          Format
	ContentType     string
	ContentEncoding Compression
	Body            []byte
	Metadata        stacktrace.Metadata
}

// Encode serializes report per format, applying compression if requested.
func Encode(report buffer.Report, format Format, compression Compression) (Encoded, error) {
	var body []byte
	var err error

	switch format {
	case Folded:
		body = encodeFolded(report)
	case Pprof:
		body, err = encodePprof(report)
	default:
		return Encoded{}, fmt.Errorf("encode: unknown format %q", format)
	}
	if err != nil {
		return Encoded{}, err
	}

	enc := Compression(None)
	if compression == Gzip {
		body, err = gzipBytes(body)
		if err != nil {
			return Encoded{}, err
		}
		enc = Gzip
	}

	return Encoded{
		Format:          format,
		ContentType:     "binary/octet-stream",
		ContentEncoding: enc,
		Body:            body,
		Metadata:        report.Metadata,
	}, nil
}

// encodeFolded renders one line per (stacktrace, count): "frameN;...;frame1 count\n",
// frames outermost-first. Lines are sorted by trace string, so iteration
// order over the report's map does not affect the byte-for-byte content.
func encodeFolded(report buffer.Report) []byte {
	type line struct {
		trace string
		count uint64
	}
	lines := make([]line, 0, len(report.Counts))
	for _, e := range report.Counts {
		lines = append(lines, line{trace: e.Trace.String(), count: e.Count})
	}
	// Sort for deterministic output across runs; the format itself does
	// not require ordering but determinism makes the encoder testable.
	sort.Slice(lines, func(i, j int) bool { return lines[i].trace < lines[j].trace })

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.trace)
		buf.WriteByte(' ')
		fmt.Fprintf(&buf, "%d", l.count)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
